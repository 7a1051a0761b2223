package gate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfold/toolbroker/internal/capability"
	"github.com/agentfold/toolbroker/internal/provider"
	"github.com/agentfold/toolbroker/internal/risk"
)

func loadRegistry(t *testing.T, content string) *capability.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	registry, err := capability.Load(path)
	require.NoError(t, err)
	return registry
}

const gatedConfig = `
enabled: true
providers:
  github:
    enabled: true
    actions: [list_issues, get_issue]
    command: [sh, -c, "cat >/dev/null; echo '{}'"]
  browser:
    enabled: true
    actions: [navigate]
    command: [sh, -c, "cat >/dev/null; echo '{}'"]
  security:
    enabled: false
    actions: []
    command: []
`

func TestCheck_AllowsGreenTierEligibleRole(t *testing.T) {
	registry := loadRegistry(t, gatedConfig)

	decision := Check(registry, "github", "list_issues", risk.TierGreen, capability.RolePlanner)
	require.True(t, decision.Allowed)
	require.Equal(t, "all permission checks passed", decision.Reason)
	for _, name := range []string{
		CheckCapabilityEnabled, CheckProviderEnabled, CheckActionAllowlisted,
		CheckTierPermitted, CheckRolePermitted,
	} {
		require.True(t, decision.Checks[name], name)
	}
}

func TestCheck_PrecedenceAndFullCheckMap(t *testing.T) {
	registry := loadRegistry(t, gatedConfig)

	cases := []struct {
		name     string
		provider string
		action   string
		tier     risk.Tier
		role     capability.Role
		reason   string
	}{
		{"provider disabled", "security", "scan_code", risk.TierGreen, capability.RoleAuditor, "provider security not enabled"},
		{"action not allowlisted", "github", "get_pr", risk.TierGreen, capability.RolePlanner, "action get_pr not allowlisted for provider github"},
		{"red tier denied", "github", "list_issues", risk.TierRed, capability.RolePlanner, "risk tier RED not permitted for tool access"},
		{"role excluded", "browser", "navigate", risk.TierGreen, capability.RolePlanner, "role PLANNER not permitted for browser:navigate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Check(registry, tc.provider, tc.action, tc.tier, tc.role)
			require.False(t, decision.Allowed)
			require.Equal(t, tc.reason, decision.Reason)
			require.Len(t, decision.Checks, 5)
		})
	}
}

func TestCheck_Pure(t *testing.T) {
	registry := loadRegistry(t, gatedConfig)

	first := Check(registry, "github", "list_issues", risk.TierYellow, capability.RoleAuditor)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, Check(registry, "github", "list_issues", risk.TierYellow, capability.RoleAuditor))
	}
}

// countingAdapter records whether it was invoked.
type countingAdapter struct {
	calls int
}

func (c *countingAdapter) Name() string { return "github" }

func (c *countingAdapter) Call(context.Context, string, map[string]any) provider.Result {
	c.calls++
	return provider.Result{OK: true, Meta: map[string]any{}}
}

func TestRoute_NeverInvokesAdapterOnDenial(t *testing.T) {
	registry := loadRegistry(t, gatedConfig)
	adapter := &countingAdapter{}
	adapters := map[string]provider.Adapter{"github": adapter}

	cases := []struct {
		name   string
		action string
		tier   risk.Tier
		role   capability.Role
	}{
		{"red tier", "list_issues", risk.TierRed, capability.RolePlanner},
		{"unlisted action", "get_pr", risk.TierGreen, capability.RolePlanner},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, decision := Route(context.Background(), registry, adapters, "github", tc.action, nil, tc.tier, tc.role)
			require.False(t, decision.Allowed)
			require.False(t, result.OK)
			require.Zero(t, adapter.calls)
		})
	}
}

func TestRoute_DeniesOnMissingEnvBeforeAdapter(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	registry := loadRegistry(t, gatedConfig)
	adapter := &countingAdapter{}

	result, decision := Route(context.Background(), registry, map[string]provider.Adapter{"github": adapter},
		"github", "list_issues", nil, risk.TierGreen, capability.RolePlanner)

	require.True(t, decision.Allowed)
	require.False(t, result.OK)
	require.Equal(t, "missing required environment variables: GITHUB_TOKEN", result.Error)
	require.Equal(t, []string{"GITHUB_TOKEN"}, result.Meta["missing_env"])
	require.Zero(t, adapter.calls)
}

func TestRoute_InvokesAdapterWhenAllGatesPass(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "tkn")
	registry := loadRegistry(t, gatedConfig)
	adapter := &countingAdapter{}

	result, decision := Route(context.Background(), registry, map[string]provider.Adapter{"github": adapter},
		"github", "list_issues", map[string]any{"limit": 5}, risk.TierGreen, capability.RolePlanner)

	require.True(t, decision.Allowed)
	require.True(t, result.OK)
	require.Equal(t, 1, adapter.calls)
	require.Equal(t, decision.Checks, result.Meta["checks"])
}

func TestRoute_RedTaskDeniedForAnyProviderAction(t *testing.T) {
	registry := loadRegistry(t, gatedConfig)
	tier, _ := risk.Classify("rotate database credentials")
	require.Equal(t, risk.TierRed, tier)

	for _, providerName := range registry.EnabledProviders() {
		for _, action := range registry.AllowedActions(providerName) {
			result, decision := Route(context.Background(), registry, nil, providerName, action, nil, tier, capability.RoleAuditor)
			require.False(t, decision.Allowed)
			require.Contains(t, result.Error, "risk tier RED")
		}
	}
}
