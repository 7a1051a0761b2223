// Package planner produces deterministic tool-use suggestions and autonomous
// execution decisions. It is purely rule-based: keyword matching against the
// provider catalog, no scoring and no model calls.
package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentfold/toolbroker/internal/capability"
	"github.com/agentfold/toolbroker/internal/readiness"
	"github.com/agentfold/toolbroker/internal/risk"
)

// Appropriateness states whether brokered tool access fits the task.
type Appropriateness string

const (
	Appropriate      Appropriateness = "appropriate"
	NotAppropriate   Appropriateness = "not_appropriate"
	MaybeAppropriate Appropriateness = "maybe_appropriate"
)

// Decision outcomes for autonomous execution.
const (
	DecisionExecute     = "execute_mcp"
	DecisionLocalTools  = "use_local_tools"
	DecisionBlockSafe   = "block_safe"
	DecisionBlockUnsafe = "block_unsafe"
)

const (
	callBudget          = 1
	callSecondsEstimate = 10
)

// ProviderSuggestion recommends one enabled provider whose keywords matched
// the task.
type ProviderSuggestion struct {
	Provider        string   `json:"provider"`
	Reason          string   `json:"reason"`
	MatchedKeywords []string `json:"matched_keywords"`
	AllowedActions  []string `json:"allowed_actions"`
	RequiredEnv     []string `json:"required_env"`
	CommandSnippet  string   `json:"command_snippet"`
}

// Suggestion is the advisory report for a task. It performs no calls.
type Suggestion struct {
	Task                  string               `json:"task"`
	Tier                  risk.Tier            `json:"risk_tier"`
	TierReason            string               `json:"risk_reason"`
	Appropriateness       Appropriateness      `json:"appropriateness"`
	AppropriatenessReason string               `json:"appropriateness_reason"`
	CapabilityEnabled     bool                 `json:"capability_enabled"`
	ReadinessStatus       readiness.Status     `json:"readiness_status"`
	Providers             []ProviderSuggestion `json:"providers"`
	Recommendation        string               `json:"recommendation"`
}

// Budget bounds an autonomous execution.
type Budget struct {
	Calls   int `json:"calls"`
	Seconds int `json:"seconds"`
}

// Decision is an autonomous execution verdict with a full reasoning trail.
type Decision struct {
	Decision  string         `json:"decision"`
	Reasoning map[string]any `json:"reasoning"`
	Provider  string         `json:"provider,omitempty"`
	Action    string         `json:"action,omitempty"`
	Params    map[string]any `json:"params"`
	Budget    Budget         `json:"budget_required"`
}

// Suggest builds the advisory suggestion report for a task.
func Suggest(task string, ready readiness.Status, registry *capability.Registry) Suggestion {
	tier, tierReason := risk.Classify(task)
	appropriateness, appropriatenessReason := classifyAppropriateness(task, tier, registry)
	providers := providerSuggestions(task, registry)

	suggestion := Suggestion{
		Task:                  task,
		Tier:                  tier,
		TierReason:            tierReason,
		Appropriateness:       appropriateness,
		AppropriatenessReason: appropriatenessReason,
		CapabilityEnabled:     registry != nil && registry.Enabled(),
		ReadinessStatus:       ready,
		Providers:             providers,
	}
	suggestion.Recommendation = recommendation(suggestion)
	return suggestion
}

// Decide makes the autonomous execution decision for a task. It is total and
// deterministic: the same task, readiness, and registry always yield the same
// decision, provider, and action. Rule order is fixed; the first applicable
// rule wins.
func Decide(task string, ready readiness.Status, registry *capability.Registry) Decision {
	tier, tierReason := risk.Classify(task)
	reasoning := map[string]any{
		"risk_tier":        string(tier),
		"risk_reason":      tierReason,
		"readiness_status": string(ready),
	}

	// 1. Only GREEN-tier tasks execute autonomously.
	if tier != risk.TierGreen {
		reasoning["reason"] = fmt.Sprintf("autonomous execution blocked: %s tier tasks require human review", tier)
		return blocked(DecisionBlockUnsafe, reasoning)
	}

	// 2. Tasks outside the provider keyword space fall back to local tooling.
	appropriateness, appropriatenessReason := classifyAppropriateness(task, tier, registry)
	reasoning["appropriateness"] = string(appropriateness)
	reasoning["appropriateness_reason"] = appropriatenessReason
	if appropriateness != Appropriate {
		if tool, ok := localTool(task); ok {
			reasoning["local_tool"] = tool
			reasoning["reason"] = fmt.Sprintf("local tool %s available and brokered access not appropriate", tool)
			return blocked(DecisionLocalTools, reasoning)
		}
		reasoning["reason"] = "brokered access not appropriate and no local tools available"
		return blocked(DecisionBlockSafe, reasoning)
	}

	// 3. A RED readiness report prevents all autonomous execution.
	if ready == readiness.StatusRed {
		reasoning["reason"] = "autonomous execution blocked: readiness RED"
		return blocked(DecisionBlockUnsafe, reasoning)
	}

	// 4. Nothing to execute without a matching enabled provider.
	suggestions := providerSuggestions(task, registry)
	if len(suggestions) == 0 {
		reasoning["reason"] = "no suitable providers found for task"
		return blocked(DecisionBlockSafe, reasoning)
	}

	// 5. First matching provider, first allowlisted action; list order is the
	// tie-break.
	selected := suggestions[0]
	reasoning["provider_selected"] = selected.Provider
	if len(selected.AllowedActions) == 0 {
		reasoning["reason"] = fmt.Sprintf("no allowed actions for provider %s", selected.Provider)
		return blocked(DecisionBlockSafe, reasoning)
	}
	action := selected.AllowedActions[0]
	reasoning["action_selected"] = action
	if !registry.ActionAllowed(selected.Provider, action) {
		reasoning["reason"] = fmt.Sprintf("action %s not allowlisted for provider %s", action, selected.Provider)
		return blocked(DecisionBlockSafe, reasoning)
	}

	// 6. Fixed parameter template, fixed budget.
	tool, hasLocal := localTool(task)
	reasoning["allowlisted"] = true
	reasoning["local_tools_available"] = hasLocal
	if hasLocal {
		reasoning["local_tool"] = tool
	}
	reasoning["reason"] = "GREEN tier task with matching provider and allowlisted action"

	return Decision{
		Decision:  DecisionExecute,
		Reasoning: reasoning,
		Provider:  selected.Provider,
		Action:    action,
		Params:    capability.ActionParams(action),
		Budget:    Budget{Calls: callBudget, Seconds: callSecondsEstimate},
	}
}

func blocked(decision string, reasoning map[string]any) Decision {
	return Decision{
		Decision:  decision,
		Reasoning: reasoning,
		Params:    map[string]any{},
	}
}

func classifyAppropriateness(task string, tier risk.Tier, registry *capability.Registry) (Appropriateness, string) {
	if tier == risk.TierRed {
		return NotAppropriate, "red-tier tasks require human-in-the-loop review"
	}

	var matches []string
	if registry != nil {
		lowered := strings.ToLower(task)
		for _, name := range registry.EnabledProviders() {
			for _, keyword := range capability.ProviderKeywords(name) {
				if strings.Contains(lowered, keyword) {
					matches = append(matches, name)
					break
				}
			}
		}
	}
	if len(matches) > 0 {
		return Appropriate, fmt.Sprintf("task matches provider(s): %s", strings.Join(matches, ", "))
	}
	return MaybeAppropriate, "task does not strongly match any enabled provider keywords"
}

func providerSuggestions(task string, registry *capability.Registry) []ProviderSuggestion {
	if registry == nil || !registry.Enabled() {
		return nil
	}

	lowered := strings.ToLower(task)
	var suggestions []ProviderSuggestion
	for _, name := range registry.EnabledProviders() {
		var matched []string
		for _, keyword := range capability.ProviderKeywords(name) {
			if strings.Contains(lowered, keyword) {
				matched = append(matched, keyword)
			}
		}
		if len(matched) == 0 {
			continue
		}

		actions := registry.AllowedActions(name)
		if len(actions) == 0 {
			continue
		}

		reasonKeywords := matched
		if len(reasonKeywords) > 3 {
			reasonKeywords = reasonKeywords[:3]
		}
		suggestions = append(suggestions, ProviderSuggestion{
			Provider:        name,
			Reason:          fmt.Sprintf("task contains keywords: %s", strings.Join(reasonKeywords, ", ")),
			MatchedKeywords: matched,
			AllowedActions:  actions,
			RequiredEnv:     capability.RequiredEnv(name),
			CommandSnippet:  commandSnippet(name, actions[0]),
		})
	}
	return suggestions
}

// commandSnippet builds a ready-to-run CLI invocation for the first
// allowlisted action, with placeholders for required secrets.
func commandSnippet(provider, action string) string {
	var prefix strings.Builder
	for _, key := range capability.RequiredEnv(provider) {
		prefix.WriteString(key)
		prefix.WriteString("=... ")
	}
	params, err := json.Marshal(capability.ActionParams(action))
	if err != nil {
		params = []byte("{}")
	}
	return fmt.Sprintf("%stoolbroker call %s %s '%s'", prefix.String(), provider, action, params)
}

// localTool returns the local command-line substitute for the first provider
// family whose keywords match the task. Catalog order is sorted, so the
// result is deterministic.
func localTool(task string) (string, bool) {
	lowered := strings.ToLower(task)
	for _, name := range capability.KnownProviders() {
		hint := capability.LocalToolHint(name)
		if hint == "" {
			continue
		}
		for _, keyword := range capability.ProviderKeywords(name) {
			if strings.Contains(lowered, keyword) {
				return hint, true
			}
		}
	}
	return "", false
}

func recommendation(s Suggestion) string {
	var lines []string

	if s.Tier == risk.TierRed {
		lines = append(lines,
			"HUMAN REVIEW REQUIRED: red-tier tasks need explicit approval",
			"No brokered actions should be executed without sign-off")
		return strings.Join(lines, "\n")
	}

	switch s.ReadinessStatus {
	case readiness.StatusRed:
		lines = append(lines,
			"EXECUTION BLOCKED: readiness is RED",
			"Suggestions are informational only until readiness recovers")
	case readiness.StatusYellow:
		lines = append(lines,
			"LIMITED CAPABILITY: readiness is YELLOW",
			"Some providers may be unavailable due to missing configuration")
	}

	switch s.Appropriateness {
	case NotAppropriate:
		lines = append(lines, "NOT APPROPRIATE: this task does not need brokered tool access")
	case MaybeAppropriate:
		lines = append(lines, "MAYBE APPROPRIATE: task does not strongly match provider keywords")
	default:
		lines = append(lines, "APPROPRIATE: task matches provider keywords")
	}

	switch {
	case !s.CapabilityEnabled:
		lines = append(lines, "CAPABILITY DISABLED: no capability configuration loaded or layer disabled")
	case len(s.Providers) == 0:
		lines = append(lines, "NO PROVIDER SUGGESTIONS: no enabled provider matched with allowlisted actions")
	default:
		lines = append(lines, "PROVIDERS AVAILABLE: suggestions include enabled providers with allowlisted actions")
		lines = append(lines,
			"Next steps: set required environment variables, then run a command snippet below")
	}

	return strings.Join(lines, "\n")
}
