package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfold/toolbroker/internal/capability"
)

func newTestAdapter(t *testing.T, name string, config capability.ProviderConfig) Adapter {
	t.Helper()
	adapter, err := New(name, config)
	require.NoError(t, err)
	return adapter
}

func TestCall_UnknownActionRejected(t *testing.T) {
	adapter := newTestAdapter(t, "docs-search", capability.ProviderConfig{
		Command: []string{"sh", "-c", "cat"},
	})

	result := adapter.Call(context.Background(), "push_commit", nil)
	require.False(t, result.OK)
	require.Contains(t, result.Error, "not supported by provider docs-search")
	require.Equal(t, "docs-search", result.Meta["provider"])
	require.Equal(t, true, result.Meta["command_configured"])
}

func TestCall_NoopModeShortCircuits(t *testing.T) {
	adapter := newTestAdapter(t, "docs-search", capability.ProviderConfig{
		Command:    []string{"sh", "-c", "cat"},
		ServerMode: capability.ServerModeNoop,
	})

	result := adapter.Call(context.Background(), "search", map[string]any{"query": "x"})
	require.False(t, result.OK)
	require.Contains(t, result.Error, "noop mode")
	require.Equal(t, false, result.Meta["server_available"])
}

func TestCall_ModeEnvOverridesConfig(t *testing.T) {
	t.Setenv("TOOLBROKER_DOCS_SEARCH_SERVER", "noop")
	adapter := newTestAdapter(t, "docs-search", capability.ProviderConfig{
		Command: []string{"sh", "-c", "cat"},
	})

	result := adapter.Call(context.Background(), "search", nil)
	require.Contains(t, result.Error, "noop mode")
}

func TestCall_MissingCommand(t *testing.T) {
	adapter := newTestAdapter(t, "docs-search", capability.ProviderConfig{})

	result := adapter.Call(context.Background(), "search", nil)
	require.False(t, result.OK)
	require.Equal(t, "no command configured for provider docs-search", result.Error)
	require.Equal(t, false, result.Meta["command_configured"])
}

func TestCall_MissingSecret(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	adapter := newTestAdapter(t, "github", capability.ProviderConfig{
		Command: []string{"sh", "-c", "cat"},
	})

	result := adapter.Call(context.Background(), "list_issues", nil)
	require.False(t, result.OK)
	require.Equal(t, "GITHUB_TOKEN not set", result.Error)
	require.Equal(t, false, result.Meta["token_present"])
}

func TestCall_UnresolvableCommand(t *testing.T) {
	adapter := newTestAdapter(t, "docs-search", capability.ProviderConfig{
		Command: []string{"/nonexistent/docs-mcp"},
	})

	result := adapter.Call(context.Background(), "search", nil)
	require.False(t, result.OK)
	require.Contains(t, result.Error, "command not found: /nonexistent/docs-mcp")
	require.Equal(t, false, result.Meta["command_available"])
}

func TestCall_ExecutesAndMergesMeta(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "tkn")
	adapter := newTestAdapter(t, "github", capability.ProviderConfig{
		Command:        []string{"sh", "-c", `cat >/dev/null; echo '{"issues":[]}'`},
		TimeoutSeconds: 5,
	})

	result := adapter.Call(context.Background(), "list_issues", map[string]any{"limit": 5, "label": "bug"})
	require.True(t, result.OK)
	require.Equal(t, "github", result.Meta["provider"])
	require.Equal(t, "list_issues", result.Meta["action"])
	require.Equal(t, capability.ServerModeStdio, result.Meta["server_mode"])
	require.Equal(t, true, result.Meta["token_present"])
	require.Equal(t, []string{"label", "limit"}, result.Meta["params_keys"])
	require.EqualValues(t, 0, result.Meta["exit_code"])
}

func TestNew_UnknownFamily(t *testing.T) {
	_, err := New("jira", capability.ProviderConfig{})
	require.Error(t, err)
}

func TestNewAdapters_CoversEveryKnownProvider(t *testing.T) {
	registry := &capability.Registry{}
	adapters := NewAdapters(registry)
	for _, name := range capability.KnownProviders() {
		require.Contains(t, adapters, name)
		require.Equal(t, name, adapters[name].Name())
	}
}
