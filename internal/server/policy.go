package server

import (
	"fmt"

	"github.com/agentfold/toolbroker/internal/policy"
)

func authorizeToolCall(guard *policy.Guard, tool ToolSpec) error {
	if guard == nil {
		return nil
	}
	if err := guard.AuthorizeTool(tool.Name, tool.Capability); err != nil {
		return fmt.Errorf("tool authorization denied: %w", err)
	}
	return nil
}

func resolvedMode(guard *policy.Guard) string {
	return guard.Mode()
}
