package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/agentfold/toolbroker/internal/capability"
	"github.com/agentfold/toolbroker/internal/config"
)

func stubProviderBinaries(t *testing.T, names ...string) {
	t.Helper()
	binDir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(binDir, name), []byte("#!/bin/sh\n"), 0o755))
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func testConfig(t *testing.T, capabilityYAML string) config.Config {
	t.Helper()
	stubProviderBinaries(t, "docs-mcp")
	dir := t.TempDir()
	cfg := config.Config{
		DataDir:  dir,
		LogLevel: "error",
		Role:     capability.RoleImplementer,
	}
	if capabilityYAML != "" {
		capPath := filepath.Join(dir, "capabilities.yaml")
		require.NoError(t, os.WriteFile(capPath, []byte(capabilityYAML), 0o600))
		cfg.CapabilityPath = capPath
	}
	return cfg
}

func runCommand(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(cfg, zerolog.Nop())
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	out, err := runCommand(t, testConfig(t, ""), "classify", "rotate", "database", "credentials")
	require.NoError(t, err)
	require.Contains(t, out, `"tier": "RED"`)
}

func TestCheckCommand_DeniedExitsOne(t *testing.T) {
	cfg := testConfig(t, `
enabled: true
providers:
  docs-search:
    enabled: true
    actions: [search]
    command: [docs-mcp]
`)

	out, err := runCommand(t, cfg, "check", "github", "list_issues")
	require.Error(t, err)
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, exitDenied, exit.code)
	require.Contains(t, out, "provider github not enabled")
}

func TestCheckCommand_AllowedExitsZero(t *testing.T) {
	cfg := testConfig(t, `
enabled: true
providers:
  docs-search:
    enabled: true
    actions: [search]
    command: [docs-mcp]
`)

	out, err := runCommand(t, cfg, "check", "docs-search", "search", "--task", "search documentation")
	require.NoError(t, err)
	require.Contains(t, out, `"allowed": true`)
}

func TestCallCommand_InvalidParamsJSON(t *testing.T) {
	_, err := runCommand(t, testConfig(t, "enabled: true\nproviders: {}\n"), "call", "github", "list_issues", "{not json")
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, exitConfigError, exit.code)
	require.Contains(t, exit.message, "invalid params JSON")
}

func TestRememberCommand_InvalidRecordExitsOne(t *testing.T) {
	cfg := testConfig(t, "")

	_, err := runCommand(t, cfg, "remember",
		"--summary", "retry loop masked the real failure",
		"--source", "notes.md",
		"--tag", "flaky-tests",
		"--type", "rumor",
	)
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, exitDenied, exit.code)
	require.Contains(t, exit.message, `invalid type "rumor"`)
}

func TestCallCommand_BrokenCapabilityConfigExitsTwo(t *testing.T) {
	cfg := testConfig(t, "enabled: [broken")

	_, err := runCommand(t, cfg, "call", "docs-search", "search")
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, exitConfigError, exit.code)
	require.Contains(t, exit.message, "capability configuration failed to load")
}
