// Package broker wires the classifier, capability registry, permission gate,
// provider adapters, audit trail, durable memory, and session state into one
// facade the CLI drives.
package broker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agentfold/toolbroker/internal/audit"
	"github.com/agentfold/toolbroker/internal/capability"
	"github.com/agentfold/toolbroker/internal/config"
	"github.com/agentfold/toolbroker/internal/gate"
	"github.com/agentfold/toolbroker/internal/memory"
	"github.com/agentfold/toolbroker/internal/planner"
	"github.com/agentfold/toolbroker/internal/provider"
	"github.com/agentfold/toolbroker/internal/readiness"
	"github.com/agentfold/toolbroker/internal/risk"
	"github.com/agentfold/toolbroker/internal/state"
)

// Broker is the policy-governed tool-access facade.
type Broker struct {
	cfg         config.Config
	logger      zerolog.Logger
	registry    *capability.Registry
	registryErr error
	adapters    map[string]provider.Adapter
	trail       *audit.Trail
	store       *memory.Store
	state       *state.Manager
	probe       *readiness.Probe
}

// New builds a broker from runtime configuration. An invalid capability
// document does not fail construction: the registry stays unloaded (denying
// everything) and the load error is kept for reporting.
func New(cfg config.Config, logger zerolog.Logger) (*Broker, error) {
	registry := &capability.Registry{}
	var registryErr error
	if cfg.CapabilityPath != "" {
		registry, registryErr = capability.Load(cfg.CapabilityPath)
	}

	trail, err := audit.NewTrail(cfg.EvidenceDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	store, err := memory.NewStore(cfg.MemoryDir(), memory.RemoteConfig{
		URL:    cfg.RemoteURL,
		APIKey: cfg.RemoteAPIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	stateManager, err := state.NewManager(cfg.StateDir())
	if err != nil {
		return nil, fmt.Errorf("state manager: %w", err)
	}

	probe := readiness.New(registry, cfg.MemoryDir())
	probe.RemoteURL = cfg.RemoteURL
	probe.RemoteKey = cfg.RemoteAPIKey

	return &Broker{
		cfg:         cfg,
		logger:      logger.With().Str("component", "broker").Logger(),
		registry:    registry,
		registryErr: registryErr,
		adapters:    provider.NewAdapters(registry),
		trail:       trail,
		store:       store,
		state:       stateManager,
		probe:       probe,
	}, nil
}

// Registry exposes the capability registry.
func (b *Broker) Registry() *capability.Registry { return b.registry }

// RegistryErr reports the capability load error, if any.
func (b *Broker) RegistryErr() error { return b.registryErr }

// Memory exposes the durable memory store.
func (b *Broker) Memory() *memory.Store { return b.store }

// Probe exposes the readiness probe.
func (b *Broker) Probe() *readiness.Probe { return b.probe }

// Role is the role the broker is configured to act as.
func (b *Broker) Role() capability.Role { return b.cfg.Role }

// Readiness runs all readiness checks.
func (b *Broker) Readiness(ctx context.Context) readiness.Report {
	return b.probe.Collect(ctx)
}

// CheckPermission classifies the task and runs the gate without executing
// anything.
func (b *Broker) CheckPermission(task, providerName, action string) (risk.Tier, gate.Decision) {
	tier, _ := risk.Classify(task)
	return tier, gate.Check(b.registry, providerName, action, tier, b.cfg.Role)
}

// Status reports the broker's persistent state in one view.
func (b *Broker) Status() map[string]any {
	return map[string]any{
		"state":      b.state.Load(),
		"memory":     b.store.Status(),
		"capability": b.registry.Summarize(),
		"config": map[string]any{
			"role":      string(b.cfg.Role),
			"data_dir":  b.cfg.DataDir,
			"auto_exec": b.cfg.AutoExecEnabled,
		},
	}
}

// Suggest produces the advisory planner report for a task, using a fresh
// readiness snapshot.
func (b *Broker) Suggest(ctx context.Context, task string) planner.Suggestion {
	report := b.probe.Collect(ctx)
	return planner.Suggest(task, report.Overall, b.registry)
}

// TaskRequest describes one brokered tool call.
type TaskRequest struct {
	Task     string
	Provider string
	Action   string
	Params   map[string]any
	Role     capability.Role
	DryRun   bool
}

// TaskResult is the audited outcome of one brokered tool call.
type TaskResult struct {
	SessionID  string          `json:"session_id"`
	Tier       risk.Tier       `json:"risk_tier"`
	TierReason string          `json:"risk_reason"`
	Decision   gate.Decision   `json:"decision"`
	Result     provider.Result `json:"result"`
	DryRun     bool            `json:"dry_run,omitempty"`
}

// ExecuteTask classifies the task, opens an audit session, routes the call
// through the permission gate, and records the outcome in the session state.
// Permission denials are normal results, not errors; only infrastructure
// failures (audit or state writes) surface as errors.
func (b *Broker) ExecuteTask(ctx context.Context, req TaskRequest) (TaskResult, error) {
	tier, tierReason := risk.Classify(req.Task)

	session, err := b.trail.StartSession(req.Task, map[string]any{
		"provider": req.Provider,
		"action":   req.Action,
		"role":     string(req.Role),
		"dry_run":  req.DryRun,
	})
	if err != nil {
		return TaskResult{}, fmt.Errorf("start audit session: %w", err)
	}

	if _, err := session.LogEvent("risk_classification", map[string]any{
		"tier":   string(tier),
		"reason": tierReason,
	}); err != nil {
		return TaskResult{}, err
	}

	out := TaskResult{
		SessionID:  session.ID(),
		Tier:       tier,
		TierReason: tierReason,
		DryRun:     req.DryRun,
	}

	if req.DryRun {
		out.Decision = gate.Check(b.registry, req.Provider, req.Action, tier, req.Role)
		if _, err := session.LogEvent("permission_check", map[string]any{
			"allowed": out.Decision.Allowed,
			"reason":  out.Decision.Reason,
			"checks":  out.Decision.Checks,
		}); err != nil {
			return TaskResult{}, err
		}
		if err := session.End("dry_run", nil); err != nil {
			return TaskResult{}, err
		}
		return out, b.recordSession(session.ID(), req.Task, "dry-run", verdict(out.Decision.Allowed))
	}

	out.Result, out.Decision = gate.Route(ctx, b.registry, b.adapters, req.Provider, req.Action, req.Params, tier, req.Role)
	if _, err := session.LogToolCall(req.Provider, req.Action, out.Result.OK, out.Result.Error, out.Result.Meta, req.Params); err != nil {
		return TaskResult{}, err
	}

	status := "completed"
	if !out.Result.OK {
		status = "failed"
	}
	if err := session.End(status, map[string]any{
		"ok":    out.Result.OK,
		"error": audit.RedactSensitiveText(out.Result.Error),
	}); err != nil {
		return TaskResult{}, err
	}

	return out, b.recordSession(session.ID(), req.Task, "call", status)
}

// AutoResult is the outcome of one autonomous execution attempt.
type AutoResult struct {
	Task       string           `json:"task"`
	Readiness  readiness.Status `json:"readiness,omitempty"`
	Decision   planner.Decision `json:"decision"`
	Executed   bool             `json:"executed"`
	Execution  *TaskResult      `json:"execution,omitempty"`
	MemoryPath string           `json:"memory_path,omitempty"`
}

// AutoExecute makes and applies an autonomous execution decision. The kill
// switch and a RED readiness report refuse before any planning; execute_mcp
// decisions are routed through ExecuteTask, and a memory record is written
// only after a successful, audited call.
func (b *Broker) AutoExecute(ctx context.Context, task string) (AutoResult, error) {
	out := AutoResult{Task: task}

	if !b.cfg.AutoExecEnabled {
		out.Decision = refusal("autonomous execution disabled: set TOOLBROKER_AUTO_EXEC=1 to enable")
		return out, nil
	}

	report := b.probe.Collect(ctx)
	out.Readiness = report.Overall
	if report.Overall == readiness.StatusRed {
		out.Decision = refusal("autonomous execution blocked: readiness RED")
		return out, nil
	}

	out.Decision = planner.Decide(task, report.Overall, b.registry)
	if out.Decision.Decision != planner.DecisionExecute {
		return out, nil
	}

	execution, err := b.ExecuteTask(ctx, TaskRequest{
		Task:     task,
		Provider: out.Decision.Provider,
		Action:   out.Decision.Action,
		Params:   out.Decision.Params,
		Role:     b.cfg.Role,
	})
	if err != nil {
		return out, err
	}
	out.Executed = true
	out.Execution = &execution

	if execution.Result.OK {
		record, err := memory.BuildRecord(
			task,
			fmt.Sprintf("Autonomous execution succeeded: %s %s", out.Decision.Provider, out.Decision.Action),
			[]string{"evidence:" + execution.SessionID},
			[]string{"auto", out.Decision.Provider},
			memory.TypePattern,
			nil,
		)
		if err == nil {
			if outcome, saveErr := b.store.Save(ctx, record); saveErr == nil {
				out.MemoryPath = outcome.LocalPath
			} else {
				b.logger.Warn().Err(saveErr).Msg("memory write after successful task failed")
			}
		}
	}
	return out, nil
}

func (b *Broker) recordSession(sessionID, task, mode, result string) error {
	return b.state.RecordSession(state.SessionInfo{
		SessionID: sessionID,
		Task:      task,
		Mode:      mode,
		Result:    result,
	}, b.features())
}

func (b *Broker) features() readiness.Capabilities {
	return readiness.Capabilities{
		Tooling: readiness.ToolingCapability{
			Enabled:   b.registry.Enabled(),
			Providers: b.registry.EnabledProviders(),
		},
		Remote: readiness.RemoteCapability{
			Enabled:    b.cfg.RemoteURL != "" || b.cfg.RemoteAPIKey != "",
			Configured: b.cfg.RemoteURL != "" && b.cfg.RemoteAPIKey != "",
		},
		MemoryWrite: b.store.Status().Writable,
	}
}

func refusal(reason string) planner.Decision {
	return planner.Decision{
		Decision:  planner.DecisionBlockUnsafe,
		Reasoning: map[string]any{"reason": reason},
		Params:    map[string]any{},
	}
}

func verdict(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
