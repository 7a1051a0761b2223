package readiness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfold/toolbroker/internal/capability"
)

func stubProviderBinaries(t *testing.T, names ...string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755))
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	stubProviderBinaries(t, "gh-mcp")
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func healthyProbe(t *testing.T, registry *capability.Registry) *Probe {
	t.Helper()
	return &Probe{
		Registry:  registry,
		MemoryDir: t.TempDir(),
		LookPath: func(file string) (string, error) {
			return "/usr/bin/" + file, nil
		},
		Output: func(_ context.Context, name string, _ ...string) ([]byte, error) {
			require.Equal(t, "node", name)
			return []byte("v20.11.1\n"), nil
		},
		LookupEnv: func(key string) (string, bool) {
			return "present", true
		},
	}
}

func TestCollect_AllGreen(t *testing.T) {
	registry, err := capability.Load(writeConfig(t, `
enabled: true
providers:
  github:
    enabled: true
    actions: [list_issues]
    command: [gh-mcp]
`))
	require.NoError(t, err)

	probe := healthyProbe(t, registry)
	probe.RemoteURL = "https://memory.example.com"
	probe.RemoteKey = "key"

	report := probe.Collect(context.Background())
	require.Equal(t, StatusGreen, report.Overall)
	require.Empty(t, report.MissingEnv)
	require.True(t, report.Capabilities.Tooling.Enabled)
	require.Equal(t, []string{"github"}, report.Capabilities.Tooling.Providers)
	require.True(t, report.Capabilities.MemoryWrite)
	require.True(t, report.Capabilities.Remote.Configured)
	require.False(t, report.Timestamp.IsZero())

	for _, check := range report.Checks {
		require.Equal(t, StatusGreen, check.Status, check.Name)
		require.Empty(t, check.Remediation, check.Name)
	}
}

func TestCollect_MissingSecretIsRedWithRemediation(t *testing.T) {
	registry, err := capability.Load(writeConfig(t, `
enabled: true
providers:
  github:
    enabled: true
    actions: [list_issues]
    command: [gh-mcp]
`))
	require.NoError(t, err)

	probe := healthyProbe(t, registry)
	probe.LookupEnv = func(string) (string, bool) { return "", false }

	report := probe.Collect(context.Background())
	require.Equal(t, StatusRed, report.Overall)
	require.Equal(t, []string{"GITHUB_TOKEN"}, report.MissingEnv)

	var envCheck Check
	for _, check := range report.Checks {
		if check.Name == "Provider github Environment" {
			envCheck = check
		}
	}
	require.Equal(t, StatusRed, envCheck.Status)
	require.Contains(t, envCheck.Detail, "GITHUB_TOKEN")
	require.Contains(t, envCheck.Remediation, "GITHUB_TOKEN")
}

func TestCollect_OldNodeIsYellow(t *testing.T) {
	registry, err := capability.Load(writeConfig(t, `
enabled: false
providers: {}
`))
	require.NoError(t, err)

	probe := healthyProbe(t, registry)
	probe.Output = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("v16.20.0\n"), nil
	}

	report := probe.Collect(context.Background())
	require.Equal(t, StatusYellow, report.Overall)

	require.Equal(t, "Node Runtime", report.Checks[0].Name)
	require.Equal(t, StatusYellow, report.Checks[0].Status)
	require.Contains(t, report.Checks[0].Remediation, "18")
}

func TestCollect_UnloadedRegistryIsRed(t *testing.T) {
	registry, err := capability.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	probe := healthyProbe(t, registry)
	report := probe.Collect(context.Background())
	require.Equal(t, StatusRed, report.Overall)

	var found bool
	for _, check := range report.Checks {
		if check.Name == "Capability Configuration" {
			found = true
			require.Equal(t, StatusRed, check.Status)
			require.Equal(t, "Fix capability configuration file errors", check.Remediation)
		}
	}
	require.True(t, found)
}

func TestCollect_MemoryDirNotWritableIsRed(t *testing.T) {
	registry, err := capability.Load(writeConfig(t, `
enabled: false
providers: {}
`))
	require.NoError(t, err)

	probe := healthyProbe(t, registry)
	probe.MemoryDir = filepath.Join(t.TempDir(), "does", "not", "exist")

	report := probe.Collect(context.Background())
	require.Equal(t, StatusRed, report.Overall)
	require.False(t, report.Capabilities.MemoryWrite)
}

func TestCollect_MissingNpxAndNodeAreYellowNotRed(t *testing.T) {
	registry, err := capability.Load(writeConfig(t, `
enabled: false
providers: {}
`))
	require.NoError(t, err)

	probe := healthyProbe(t, registry)
	probe.Output = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exec: node: not found")
	}
	probe.LookPath = func(string) (string, error) {
		return "", errors.New("not found")
	}

	report := probe.Collect(context.Background())
	require.Equal(t, StatusYellow, report.Overall)
}

func TestNodeMajor(t *testing.T) {
	major, ok := nodeMajor("v22.3.0")
	require.True(t, ok)
	require.Equal(t, 22, major)

	_, ok = nodeMajor("weird")
	require.False(t, ok)
}
