package server

import (
	"fmt"
	"strings"
)

const (
	defaultProtocolVersion = "2024-11-05"
	defaultServerName      = "toolbroker"
)

// ToolSpec describes one broker operation exposed over the serve surface.
type ToolSpec struct {
	Name                 string         `json:"name"`
	Capability           string         `json:"capability"`
	Description          string         `json:"description,omitempty"`
	AllowedRoles         []string       `json:"allowedRoles,omitempty"`
	ConfirmationRequired bool           `json:"confirmationRequired,omitempty"`
	InputSchema          map[string]any `json:"inputSchema,omitempty"`
}

func taskSchema(extra map[string]any) map[string]any {
	properties := map[string]any{
		"task": map[string]any{"type": "string"},
	}
	for key, value := range extra {
		properties[key] = value
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   []any{"task"},
	}
}

// BuiltinTools is the fixed contract of broker operations.
func BuiltinTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        "classify",
			Capability:  "read",
			Description: "Classify a task description into a GREEN/YELLOW/RED risk tier.",
			InputSchema: taskSchema(nil),
		},
		{
			Name:        "check_permission",
			Capability:  "read",
			Description: "Run every permission gate for a provider action without executing it.",
			InputSchema: taskSchema(map[string]any{
				"provider": map[string]any{"type": "string"},
				"action":   map[string]any{"type": "string"},
			}),
		},
		{
			Name:        "call_tool",
			Capability:  "write",
			Description: "Execute one audited, permission-gated provider call.",
			InputSchema: taskSchema(map[string]any{
				"provider": map[string]any{"type": "string"},
				"action":   map[string]any{"type": "string"},
				"params":   map[string]any{"type": "object"},
				"dry_run":  map[string]any{"type": "boolean"},
				"confirm":  map[string]any{"type": "boolean"},
			}),
		},
		{
			Name:        "suggest",
			Capability:  "read",
			Description: "Advisory report on which providers could serve a task.",
			InputSchema: taskSchema(nil),
		},
		{
			Name:                 "auto_execute",
			Capability:           "write",
			Description:          "Make and apply an autonomous execution decision for a task.",
			AllowedRoles:         []string{"IMPLEMENTER"},
			ConfirmationRequired: true,
			InputSchema: taskSchema(map[string]any{
				"confirm": map[string]any{"type": "boolean"},
			}),
		},
		{
			Name:        "readiness",
			Capability:  "read",
			Description: "Environment readiness report with per-check remediation.",
			InputSchema: map[string]any{"type": "object"},
		},
		{
			Name:         "remember",
			Capability:   "write",
			Description:  "Persist a validated, redacted memory record.",
			AllowedRoles: []string{"IMPLEMENTER", "AUDITOR"},
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary": map[string]any{"type": "string"},
					"task":    map[string]any{"type": "string"},
					"type":    map[string]any{"type": "string"},
					"sources": map[string]any{"type": "array"},
					"tags":    map[string]any{"type": "array"},
				},
				"required": []any{"summary", "sources"},
			},
		},
		{
			Name:        "recall",
			Capability:  "read",
			Description: "List recent memory records, optionally filtered by tags.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{"type": "integer"},
					"tags":  map[string]any{"type": "array"},
				},
			},
		},
		{
			Name:        "status",
			Capability:  "read",
			Description: "Broker state, memory, and capability summary.",
			InputSchema: map[string]any{"type": "object"},
		},
	}
}

// ToolRegistry provides read-only access to the serve contract.
type ToolRegistry struct {
	tools  []ToolSpec
	byName map[string]ToolSpec
}

// NewToolRegistry validates minimal contract invariants.
func NewToolRegistry(tools []ToolSpec) (*ToolRegistry, error) {
	if len(tools) == 0 {
		return nil, fmt.Errorf("serve contract has no tools")
	}

	byName := make(map[string]ToolSpec, len(tools))
	ordered := make([]ToolSpec, 0, len(tools))
	for _, tool := range tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" {
			return nil, fmt.Errorf("serve contract contains empty tool name")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("serve contract contains duplicate tool %q", name)
		}
		tool.Name = name
		tool.Capability = strings.TrimSpace(tool.Capability)
		if tool.Capability == "" {
			return nil, fmt.Errorf("tool %q has empty capability", name)
		}
		byName[name] = tool
		ordered = append(ordered, tool)
	}

	return &ToolRegistry{
		tools:  ordered,
		byName: byName,
	}, nil
}

// List returns all registered tools in contract order.
func (r *ToolRegistry) List() []ToolSpec {
	items := make([]ToolSpec, 0, len(r.tools))
	items = append(items, r.tools...)
	return items
}

// Lookup returns a tool by name.
func (r *ToolRegistry) Lookup(name string) (ToolSpec, bool) {
	tool, ok := r.byName[strings.TrimSpace(name)]
	return tool, ok
}
