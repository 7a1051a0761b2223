package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentfold/toolbroker/internal/broker"
	"github.com/agentfold/toolbroker/internal/capability"
	"github.com/agentfold/toolbroker/internal/memory"
	"github.com/agentfold/toolbroker/internal/risk"
)

// ToolCaller executes one tool call and returns structured content.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// BrokerCaller dispatches serve-contract tools onto a broker.
type BrokerCaller struct {
	broker *broker.Broker
}

// NewBrokerCaller wraps a broker for the serve surface.
func NewBrokerCaller(b *broker.Broker) *BrokerCaller {
	return &BrokerCaller{broker: b}
}

// Call implements ToolCaller.
func (c *BrokerCaller) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch strings.TrimSpace(name) {
	case "classify":
		task, err := requiredString(args, "task")
		if err != nil {
			return nil, err
		}
		tier, reason := risk.Classify(task)
		return map[string]any{"task": task, "tier": string(tier), "reason": reason}, nil

	case "check_permission":
		task, err := requiredString(args, "task")
		if err != nil {
			return nil, err
		}
		providerName, err := requiredString(args, "provider")
		if err != nil {
			return nil, err
		}
		action, err := requiredString(args, "action")
		if err != nil {
			return nil, err
		}
		tier, decision := c.broker.CheckPermission(task, providerName, action)
		out, err := asMap(decision)
		if err != nil {
			return nil, err
		}
		out["tier"] = string(tier)
		return out, nil

	case "call_tool":
		providerName, err := requiredString(args, "provider")
		if err != nil {
			return nil, err
		}
		action, err := requiredString(args, "action")
		if err != nil {
			return nil, err
		}
		task := stringArg(args, "task")
		if task == "" {
			task = fmt.Sprintf("%s %s", providerName, action)
		}
		result, err := c.broker.ExecuteTask(ctx, broker.TaskRequest{
			Task:     task,
			Provider: providerName,
			Action:   action,
			Params:   mapArg(args, "params"),
			Role:     c.broker.Role(),
			DryRun:   boolArg(args, "dry_run"),
		})
		if err != nil {
			return nil, err
		}
		return asMap(result)

	case "suggest":
		task, err := requiredString(args, "task")
		if err != nil {
			return nil, err
		}
		return asMap(c.broker.Suggest(ctx, task))

	case "auto_execute":
		task, err := requiredString(args, "task")
		if err != nil {
			return nil, err
		}
		result, err := c.broker.AutoExecute(ctx, task)
		if err != nil {
			return nil, err
		}
		return asMap(result)

	case "readiness":
		return asMap(c.broker.Readiness(ctx))

	case "remember":
		summary, err := requiredString(args, "summary")
		if err != nil {
			return nil, err
		}
		task := stringArg(args, "task")
		if task == "" {
			task = summary
		}
		recordType := memory.Type(stringArg(args, "type"))
		if recordType == "" {
			recordType = memory.TypePattern
		}
		record, err := memory.BuildRecord(task, summary, stringSliceArg(args, "sources"), stringSliceArg(args, "tags"), recordType, nil)
		if err != nil {
			return nil, err
		}
		outcome, err := c.broker.Memory().Save(ctx, record)
		if err != nil {
			return nil, err
		}
		return asMap(outcome)

	case "recall":
		limit := intArg(args, "limit", 10)
		entries, err := c.broker.Memory().Recent(limit, stringSliceArg(args, "tags"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": len(entries), "records": entries}, nil

	case "status":
		return c.broker.Status(), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", strings.TrimSpace(name))
	}
}

// Role reports the broker's configured role for the serve role gate.
func (c *BrokerCaller) Role() capability.Role {
	return c.broker.Role()
}

// asMap converts a typed result to the generic map shape the MCP payload
// carries.
func asMap(value any) (map[string]any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("decoding tool result: %w", err)
	}
	return out, nil
}

func requiredString(args map[string]any, key string) (string, error) {
	value := stringArg(args, key)
	if value == "" {
		return "", fmt.Errorf("missing required argument: %s", key)
	}
	return value, nil
}

func stringArg(args map[string]any, key string) string {
	raw, ok := args[key]
	if !ok {
		return ""
	}
	value, ok := raw.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func boolArg(args map[string]any, key string) bool {
	raw, ok := args[key]
	if !ok {
		return false
	}
	value, ok := raw.(bool)
	return ok && value
}

func intArg(args map[string]any, key string, fallback int) int {
	raw, ok := args[key]
	if !ok {
		return fallback
	}
	switch value := raw.(type) {
	case int:
		return value
	case float64:
		return int(value)
	default:
		return fallback
	}
}

func mapArg(args map[string]any, key string) map[string]any {
	raw, ok := args[key]
	if !ok {
		return nil
	}
	value, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return value
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key]
	if !ok {
		return nil
	}
	switch value := raw.(type) {
	case []string:
		return value
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if text, ok := item.(string); ok {
				out = append(out, text)
			}
		}
		return out
	default:
		return nil
	}
}

func toolCallResultFromExecution(name, mode string, payload map[string]any) callToolResult {
	return callToolResult{
		Content: []contentBlock{
			{
				Type: "text",
				Text: fmt.Sprintf("tool %s executed", strings.TrimSpace(name)),
			},
		},
		IsError: false,
		StructuredContent: map[string]any{
			"tool":   strings.TrimSpace(name),
			"mode":   strings.TrimSpace(mode),
			"status": "ok",
			"result": payload,
		},
	}
}

func toolCallResultFromError(name, mode string, err error) callToolResult {
	message := "unknown tool execution error"
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		message = strings.TrimSpace(err.Error())
	}
	return callToolResult{
		Content: []contentBlock{
			{
				Type: "text",
				Text: message,
			},
		},
		IsError: true,
		StructuredContent: map[string]any{
			"tool":   strings.TrimSpace(name),
			"mode":   strings.TrimSpace(mode),
			"status": "error",
			"error":  map[string]any{"message": message},
		},
	}
}
