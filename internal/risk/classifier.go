// Package risk classifies free-text tasks into GREEN/YELLOW/RED tiers.
package risk

import (
	"fmt"
	"strings"
)

// Tier is the risk classification of a task.
type Tier string

const (
	// TierGreen marks tasks safe for autonomous execution.
	TierGreen Tier = "GREEN"
	// TierYellow marks tasks that require confirmation before execution.
	TierYellow Tier = "YELLOW"
	// TierRed marks tasks that require human approval and are never executed autonomously.
	TierRed Tier = "RED"
)

// alwaysRedCategories are category phrases whose keywords (split on "/")
// unconditionally classify a task RED.
var alwaysRedCategories = []string{
	"auth/permissions/rbac",
	"payments/billing",
	"secrets/env/prod credentials",
	"destructive DB migrations (drop/alter)",
	"infra/terraform/k8s",
	"logging/audit tampering",
	"data export / PII access",
}

var redKeywords = []string{
	"auth", "authentication", "authorization", "permissions", "rbac",
	"payment", "billing", "stripe", "charge", "invoice",
	"secret", "credential", "password", "token", "key", "env",
	"database", "migration", "drop", "alter", "delete", "destroy",
	"infra", "terraform", "kubernetes", "k8s", "infrastructure",
	"logging", "audit", "tamper", "pii", "personal", "export", "data",
}

var yellowKeywords = []string{
	"api", "endpoint", "interface", "contract",
	"database", "schema", "table", "column",
	"security", "encrypt", "decrypt", "hash",
	"deploy", "release", "production",
	"config", "configuration", "setting",
	"user", "profile", "account",
}

// Classify maps a task description to a risk tier with an explainable reason.
//
// Matching is ordered and first-match-wins: always-red categories, then the
// red keyword list, then the yellow keyword list, then GREEN. The function is
// pure; identical input always yields the identical tier and reason.
func Classify(task string) (Tier, string) {
	lowered := strings.ToLower(task)

	for _, category := range alwaysRedCategories {
		for _, keyword := range categoryKeywords(category) {
			if strings.Contains(lowered, keyword) {
				return TierRed, fmt.Sprintf("Always Red category: %s", category)
			}
		}
	}

	for _, keyword := range redKeywords {
		if strings.Contains(lowered, keyword) {
			return TierRed, fmt.Sprintf("Red-tier keyword detected: %s", keyword)
		}
	}

	for _, keyword := range yellowKeywords {
		if strings.Contains(lowered, keyword) {
			return TierYellow, fmt.Sprintf("Yellow-tier keyword detected: %s", keyword)
		}
	}

	return TierGreen, "No risk keywords detected - defaulting to Green"
}

// categoryKeywords splits a category phrase into matchable keywords.
// Separators are slashes, spaces, and parentheses, so a phrase like
// "secrets/env/prod credentials" yields secrets, env, prod, credentials.
func categoryKeywords(category string) []string {
	fields := strings.FieldsFunc(strings.ToLower(category), func(r rune) bool {
		return r == '/' || r == ' ' || r == '(' || r == ')'
	})
	keywords := fields[:0]
	for _, field := range fields {
		if field != "" {
			keywords = append(keywords, field)
		}
	}
	return keywords
}

// AlwaysRedCategories returns a copy of the always-red category phrases.
func AlwaysRedCategories() []string {
	out := make([]string, len(alwaysRedCategories))
	copy(out, alwaysRedCategories)
	return out
}

// Permitted reports whether the tier allows tool execution at all.
// RED is never permitted; GREEN and YELLOW are.
func Permitted(tier Tier) bool {
	switch tier {
	case TierGreen, TierYellow:
		return true
	default:
		return false
	}
}
