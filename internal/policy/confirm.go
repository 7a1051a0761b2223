package policy

import (
	"fmt"
	"strings"
)

// Provider families whose brokered calls can touch live systems. Calls to
// them over the serve surface need an explicit confirm=true argument.
var guardedProviders = map[string]struct{}{
	"browser":   {},
	"container": {},
	"security":  {},
}

// RequireConfirmation enforces explicit confirm=true for guarded tools.
func RequireConfirmation(toolName string, confirmationRequired bool, args map[string]any) error {
	name := strings.TrimSpace(toolName)
	if name == "" {
		return nil
	}

	required, reason := confirmationRequirement(name, confirmationRequired, args)
	if !required {
		return nil
	}
	if hasConfirmTrue(args) {
		return nil
	}
	return fmt.Errorf("tool %s requires confirm=true %s", name, reason)
}

func confirmationRequirement(toolName string, confirmationRequired bool, args map[string]any) (bool, string) {
	if confirmationRequired {
		return true, "before autonomous execution"
	}
	if toolName != "call_tool" {
		return false, ""
	}

	providerRaw, ok := args["provider"]
	if !ok {
		return false, ""
	}
	providerName, ok := providerRaw.(string)
	if !ok {
		return false, ""
	}
	normalized := strings.ToLower(strings.TrimSpace(providerName))
	if _, exists := guardedProviders[normalized]; !exists {
		return false, ""
	}

	return true, fmt.Sprintf("when provider=%s", normalized)
}

func hasConfirmTrue(args map[string]any) bool {
	if args == nil {
		return false
	}
	value, ok := args["confirm"]
	if !ok {
		return false
	}
	confirm, ok := value.(bool)
	return ok && confirm
}
