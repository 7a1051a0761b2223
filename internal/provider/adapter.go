// Package provider executes brokered tool calls against external stdio
// servers, one adapter per tool family.
package provider

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/agentfold/toolbroker/internal/capability"
)

// Result is the uniform outcome of an adapter call. Adapters never return
// errors out-of-band; failures are expressed in Result.Error.
type Result struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data"`
	Error string         `json:"error,omitempty"`
	Meta  map[string]any `json:"meta"`
}

// Adapter is one provider family behind a uniform call contract.
type Adapter interface {
	Name() string
	Call(ctx context.Context, action string, params map[string]any) Result
}

// spec fixes the per-family wiring that is not part of the runtime
// configuration: the action catalog, the secret gate, and the env override
// that can force noop mode.
type spec struct {
	name      string
	secretEnv string
	modeEnv   string
}

var adapterSpecs = map[string]spec{
	"github":      {name: "github", secretEnv: "GITHUB_TOKEN", modeEnv: "TOOLBROKER_GITHUB_SERVER"},
	"docs-search": {name: "docs-search", modeEnv: "TOOLBROKER_DOCS_SEARCH_SERVER"},
	"browser":     {name: "browser", modeEnv: "TOOLBROKER_BROWSER_SERVER"},
	"sentry":      {name: "sentry", secretEnv: "SENTRY_AUTH_TOKEN", modeEnv: "TOOLBROKER_SENTRY_SERVER"},
	"security":    {name: "security", modeEnv: "TOOLBROKER_SECURITY_SERVER"},
	"container":   {name: "container", modeEnv: "TOOLBROKER_CONTAINER_SERVER"},
}

// stdioAdapter executes one provider family over stdin/stdout.
type stdioAdapter struct {
	spec     spec
	config   capability.ProviderConfig
	executor *Executor
}

// New creates the adapter for a known provider family.
func New(name string, config capability.ProviderConfig) (Adapter, error) {
	adapterSpec, ok := adapterSpecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider family: %s", name)
	}
	return &stdioAdapter{
		spec:     adapterSpec,
		config:   config,
		executor: &Executor{},
	}, nil
}

// NewAdapters builds the name-keyed adapter table for every provider the
// registry knows about, enabled or not. Permission checks happen upstream.
func NewAdapters(registry *capability.Registry) map[string]Adapter {
	adapters := make(map[string]Adapter, len(capability.KnownProviders()))
	for _, name := range capability.KnownProviders() {
		config, _ := registry.Provider(name)
		adapter, err := New(name, config)
		if err != nil {
			continue
		}
		adapters[name] = adapter
	}
	return adapters
}

// Name implements Adapter.
func (a *stdioAdapter) Name() string {
	return a.spec.name
}

// Call executes one action. The gates run in fixed order: catalog
// membership, server mode, command configured, secret present, command
// resolvable. Meta is populated on every path.
func (a *stdioAdapter) Call(ctx context.Context, action string, params map[string]any) Result {
	normalized := strings.TrimSpace(action)
	meta := a.baseMeta(normalized, params)

	if !slices.Contains(capability.ActionCatalog(a.spec.name), normalized) {
		if normalized == "" {
			normalized = "[missing]"
		}
		return Result{Error: fmt.Sprintf("action %s not supported by provider %s", normalized, a.spec.name), Meta: meta}
	}

	if a.serverMode() == capability.ServerModeNoop {
		meta["server_available"] = false
		return Result{Error: fmt.Sprintf("provider %s noop mode: server not available", a.spec.name), Meta: meta}
	}

	if len(a.config.Command) == 0 {
		meta["server_available"] = false
		return Result{Error: fmt.Sprintf("no command configured for provider %s", a.spec.name), Meta: meta}
	}

	if a.spec.secretEnv != "" && os.Getenv(a.spec.secretEnv) == "" {
		meta["token_present"] = false
		return Result{Error: fmt.Sprintf("%s not set", a.spec.secretEnv), Meta: meta}
	}

	if !capability.CommandResolvable(a.config.Command[0]) {
		meta["command_available"] = false
		return Result{Error: fmt.Sprintf("provider %s command not found: %s", a.spec.name, a.config.Command[0]), Meta: meta}
	}
	meta["command_available"] = true

	timeout := time.Duration(a.config.TimeoutSeconds) * time.Second
	payload := map[string]any{"action": normalized, "params": params}
	if params == nil {
		payload["params"] = map[string]any{}
	}

	execResult := a.executor.Run(ctx, a.config.Command, payload, timeout)
	for key, value := range execResult.Meta {
		meta[key] = value
	}
	return Result{OK: execResult.OK, Data: execResult.Data, Error: execResult.Error, Meta: meta}
}

func (a *stdioAdapter) serverMode() string {
	if a.spec.modeEnv != "" {
		if mode := strings.ToLower(strings.TrimSpace(os.Getenv(a.spec.modeEnv))); mode != "" {
			return mode
		}
	}
	if a.config.ServerMode != "" {
		return a.config.ServerMode
	}
	return capability.ServerModeStdio
}

func (a *stdioAdapter) baseMeta(action string, params map[string]any) map[string]any {
	meta := map[string]any{
		"provider":           a.spec.name,
		"action":             action,
		"server_mode":        a.serverMode(),
		"server_available":   true,
		"command_configured": len(a.config.Command) > 0,
		"params_keys":        sortedKeys(params),
	}
	if a.spec.secretEnv != "" {
		meta["token_present"] = os.Getenv(a.spec.secretEnv) != ""
	}
	return meta
}

func sortedKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
