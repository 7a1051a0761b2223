package policy

import (
	"fmt"
	"slices"
	"strings"
)

// RequireRole validates that the broker's configured role may invoke a tool.
//
// Empty allowed roles means no role gate. Matching is case-insensitive on
// normalized role names.
func RequireRole(toolName string, allowed []string, granted string) error {
	allowedRoles := normalizeRoleList(allowed)
	if len(allowedRoles) == 0 {
		return nil
	}

	grantedRole := strings.ToUpper(strings.TrimSpace(granted))
	if grantedRole != "" && slices.Contains(allowedRoles, grantedRole) {
		return nil
	}

	tool := strings.TrimSpace(toolName)
	if tool == "" {
		tool = "unknown"
	}

	grantedSummary := "none"
	if grantedRole != "" {
		grantedSummary = grantedRole
	}

	return fmt.Errorf(
		"tool %s not permitted for role %s (allowed: %s)",
		tool,
		grantedSummary,
		strings.Join(allowedRoles, ", "),
	)
}

func normalizeRoleList(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	result := make([]string, 0, len(roles))
	for _, role := range roles {
		trimmed := strings.ToUpper(strings.TrimSpace(role))
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
