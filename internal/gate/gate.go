// Package gate combines registry state, risk tier, and role into allow/deny
// decisions and routes allowed calls to provider adapters.
package gate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agentfold/toolbroker/internal/capability"
	"github.com/agentfold/toolbroker/internal/provider"
	"github.com/agentfold/toolbroker/internal/risk"
)

// Check names for the permission check map. Every Decision carries all five,
// regardless of which check failed first.
const (
	CheckCapabilityEnabled = "capability_enabled"
	CheckProviderEnabled   = "provider_enabled"
	CheckActionAllowlisted = "action_allowlisted"
	CheckTierPermitted     = "tier_permitted"
	CheckRolePermitted     = "role_permitted"
)

// Decision is a structured permission outcome. Denials are expected results,
// not errors.
type Decision struct {
	Allowed bool            `json:"allowed"`
	Reason  string          `json:"reason"`
	Checks  map[string]bool `json:"checks"`
}

// Check evaluates the five permission gates in strict precedence order:
// capability enabled, provider enabled, action allowlisted, tier permitted,
// role permitted. It is pure: the same inputs always produce the same
// decision and check map.
func Check(registry *capability.Registry, providerName, action string, tier risk.Tier, role capability.Role) Decision {
	checks := map[string]bool{
		CheckCapabilityEnabled: registry.Enabled(),
		CheckProviderEnabled:   registry.ProviderEnabled(providerName),
		CheckActionAllowlisted: registry.ActionAllowed(providerName, action),
		CheckTierPermitted:     risk.Permitted(tier),
		CheckRolePermitted:     capability.RoleEligible(providerName, role),
	}

	decision := Decision{Checks: checks}
	switch {
	case !checks[CheckCapabilityEnabled]:
		decision.Reason = "capability layer not enabled"
	case !checks[CheckProviderEnabled]:
		decision.Reason = fmt.Sprintf("provider %s not enabled", providerName)
	case !checks[CheckActionAllowlisted]:
		decision.Reason = fmt.Sprintf("action %s not allowlisted for provider %s", action, providerName)
	case !checks[CheckTierPermitted]:
		decision.Reason = fmt.Sprintf("risk tier %s not permitted for tool access", tier)
	case !checks[CheckRolePermitted]:
		decision.Reason = fmt.Sprintf("role %s not permitted for %s:%s", role, providerName, action)
	default:
		decision.Allowed = true
		decision.Reason = "all permission checks passed"
	}
	return decision
}

// Route re-verifies permission and environment at call time and dispatches
// to the matching adapter. No adapter is ever invoked after a failed gate.
func Route(
	ctx context.Context,
	registry *capability.Registry,
	adapters map[string]provider.Adapter,
	providerName, action string,
	params map[string]any,
	tier risk.Tier,
	role capability.Role,
) (provider.Result, Decision) {
	decision := Check(registry, providerName, action, tier, role)
	meta := map[string]any{"checks": decision.Checks}

	if !decision.Allowed {
		return provider.Result{Error: decision.Reason, Meta: meta}, decision
	}

	providerConfig, _ := registry.Provider(providerName)
	if len(providerConfig.Command) == 0 {
		meta["command_available"] = false
		return provider.Result{
			Error: fmt.Sprintf("no command configured for provider %s", providerName),
			Meta:  meta,
		}, decision
	}
	if !capability.CommandResolvable(providerConfig.Command[0]) {
		meta["command_available"] = false
		return provider.Result{
			Error: fmt.Sprintf("provider %s command not found: %s", providerName, providerConfig.Command[0]),
			Meta:  meta,
		}, decision
	}

	var missing []string
	for _, name := range capability.RequiredEnv(providerName) {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		meta["missing_env"] = missing
		return provider.Result{
			Error: fmt.Sprintf("missing required environment variables: %s", strings.Join(missing, ", ")),
			Meta:  meta,
		}, decision
	}

	adapter, ok := adapters[providerName]
	if !ok {
		return provider.Result{
			Error: fmt.Sprintf("provider %s not available", providerName),
			Meta:  meta,
		}, decision
	}

	result := adapter.Call(ctx, action, params)
	if result.Meta == nil {
		result.Meta = map[string]any{}
	}
	if _, exists := result.Meta["checks"]; !exists {
		result.Meta["checks"] = decision.Checks
	}
	return result, decision
}
