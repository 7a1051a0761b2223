package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
enabled: true
providers:
  docs-search:
    enabled: true
    actions: [search, get]
    command: [sh, -c, "cat"]
  github:
    enabled: false
    actions: []
    command: []
`)

	registry, err := Load(path)
	require.NoError(t, err)
	require.True(t, registry.Loaded())
	require.True(t, registry.Enabled())
	require.True(t, registry.ProviderEnabled("docs-search"))
	require.False(t, registry.ProviderEnabled("github"))
	require.True(t, registry.ActionAllowed("docs-search", "search"))
	require.False(t, registry.ActionAllowed("docs-search", "list"))
	require.Equal(t, []string{"docs-search"}, registry.EnabledProviders())

	provider, ok := registry.Provider("docs-search")
	require.True(t, ok)
	require.Equal(t, defaultTimeoutSeconds, provider.TimeoutSeconds)
	require.Equal(t, ServerModeStdio, provider.ServerMode)
}

func TestLoad_CollectsEveryViolation(t *testing.T) {
	path := writeConfig(t, `
enabled: true
providers:
  jira:
    enabled: true
    actions: [list_tickets]
    command: []
  github:
    enabled: true
    actions: [list_issues, push_commit]
    command: [/nonexistent/github-mcp]
  browser:
    enabled: true
    actions: [navigate]
    command: []
    serverMode: carrier-pigeon
`)

	registry, err := Load(path)
	require.Error(t, err)
	require.False(t, registry.Loaded())

	loadErr, ok := err.(*LoadError)
	require.True(t, ok)
	require.Len(t, loadErr.Violations, 4)
	require.Contains(t, loadErr.Error(), "unknown provider: jira")
	require.Contains(t, loadErr.Error(), `action "push_commit" not in catalog`)
	require.Contains(t, loadErr.Error(), "command not found: /nonexistent/github-mcp")
	require.Contains(t, loadErr.Error(), "invalid serverMode")
}

func TestLoad_UnloadedRegistryDeniesEverything(t *testing.T) {
	path := writeConfig(t, `
enabled: true
providers:
  nope:
    enabled: true
    actions: []
    command: []
`)

	registry, _ := Load(path)
	require.False(t, registry.Enabled())
	require.False(t, registry.ProviderEnabled("github"))
	require.False(t, registry.ActionAllowed("github", "list_issues"))
	require.Nil(t, registry.EnabledProviders())
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
enabled: true
providers:
  github:
    enabled: true
    actions: [list_issues]
    command: []
    retries: 3
`)

	registry, err := Load(path)
	require.Error(t, err)
	require.False(t, registry.Loaded())
	require.Contains(t, err.Error(), "invalid configuration document")
}

func TestLoad_MissingFile(t *testing.T) {
	registry, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.False(t, registry.Loaded())
	require.Contains(t, err.Error(), "configuration file not readable")
}

func TestLoad_DisabledCapabilitySkipsProviderValidation(t *testing.T) {
	path := writeConfig(t, `
enabled: false
providers: {}
`)

	registry, err := Load(path)
	require.NoError(t, err)
	require.True(t, registry.Loaded())
	require.False(t, registry.Enabled())
}

func TestCatalogsAreDisjoint(t *testing.T) {
	seen := map[string]string{}
	for _, provider := range KnownProviders() {
		for _, action := range ActionCatalog(provider) {
			previous, exists := seen[action]
			require.False(t, exists, "action %s appears in both %s and %s", action, previous, provider)
			seen[action] = provider
		}
	}
}

func TestRoleEligibility(t *testing.T) {
	require.True(t, RoleEligible("github", RolePlanner))
	require.False(t, RoleEligible("browser", RolePlanner))
	require.False(t, RoleEligible("container", RolePlanner))
	require.False(t, RoleEligible("security", RoleImplementer))
	require.True(t, RoleEligible("security", RoleAuditor))
	require.False(t, RoleEligible("unknown", RoleAuditor))
}

func TestSummarize(t *testing.T) {
	path := writeConfig(t, `
enabled: true
providers:
  docs-search:
    enabled: true
    actions: [search]
    command: []
`)

	registry, err := Load(path)
	require.NoError(t, err)

	summary := registry.Summarize()
	require.Equal(t, "loaded", summary.Status)
	require.Equal(t, []string{"docs-search"}, summary.EnabledProviders)
	require.Equal(t, 1, summary.ActionCounts["docs-search"])
}
