package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentfold/toolbroker/internal/broker"
	"github.com/agentfold/toolbroker/internal/config"
	"github.com/agentfold/toolbroker/internal/memory"
	"github.com/agentfold/toolbroker/internal/planner"
	"github.com/agentfold/toolbroker/internal/policy"
	"github.com/agentfold/toolbroker/internal/readiness"
	"github.com/agentfold/toolbroker/internal/risk"
	"github.com/agentfold/toolbroker/internal/server"
)

func newRootCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "toolbroker",
		Short:         "Policy-governed tool access broker for autonomous agents",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newClassifyCommand(),
		newCheckCommand(cfg, logger),
		newCallCommand(cfg, logger),
		newSuggestCommand(cfg, logger),
		newAutoCommand(cfg, logger),
		newReadinessCommand(cfg, logger),
		newRememberCommand(cfg, logger),
		newRecallCommand(cfg, logger),
		newStatusCommand(cfg, logger),
		newServeCommand(cfg, logger),
	)
	return root
}

// newBroker constructs the broker; when requireRegistry is set, a capability
// configuration that failed to parse becomes a config-format exit.
func newBroker(cfg config.Config, logger zerolog.Logger, requireRegistry bool) (*broker.Broker, error) {
	b, err := broker.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if requireRegistry && b.RegistryErr() != nil {
		return nil, &exitError{
			code:    exitConfigError,
			message: fmt.Sprintf("capability configuration failed to load: %v", b.RegistryErr()),
		}
	}
	return b, nil
}

func printJSON(cmd *cobra.Command, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}

func joinedTask(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <task>...",
		Short: "Classify a task into a GREEN/YELLOW/RED risk tier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := joinedTask(args)
			tier, reason := risk.Classify(task)
			return printJSON(cmd, map[string]any{
				"task":   task,
				"tier":   tier,
				"reason": reason,
			})
		},
	}
}

func newCheckCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "check <provider> <action>",
		Short: "Run every permission gate without executing anything",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg, logger, true)
			if err != nil {
				return err
			}
			if task == "" {
				task = fmt.Sprintf("%s %s", args[0], args[1])
			}
			tier, decision := b.CheckPermission(task, args[0], args[1])
			if err := printJSON(cmd, map[string]any{
				"task":     task,
				"tier":     tier,
				"decision": decision,
			}); err != nil {
				return err
			}
			if !decision.Allowed {
				return &exitError{code: exitDenied}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description used for risk classification")
	return cmd
}

func newCallCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	var (
		task   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "call <provider> <action> [params-json]",
		Short: "Execute one audited, permission-gated provider call",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params map[string]any
			if len(args) == 3 && strings.TrimSpace(args[2]) != "" {
				if err := json.Unmarshal([]byte(args[2]), &params); err != nil {
					return &exitError{
						code:    exitConfigError,
						message: fmt.Sprintf("invalid params JSON: %v", err),
					}
				}
			}

			b, err := newBroker(cfg, logger, true)
			if err != nil {
				return err
			}
			if task == "" {
				task = fmt.Sprintf("%s %s", args[0], args[1])
			}
			result, err := b.ExecuteTask(cmd.Context(), broker.TaskRequest{
				Task:     task,
				Provider: args[0],
				Action:   args[1],
				Params:   params,
				Role:     cfg.Role,
				DryRun:   dryRun,
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if !result.Decision.Allowed || (!dryRun && !result.Result.OK) {
				return &exitError{code: exitDenied}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description used for risk classification")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the permission gates without calling the provider")
	return cmd
}

func newSuggestCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <task>...",
		Short: "Advisory report on which providers could serve a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg, logger, true)
			if err != nil {
				return err
			}
			return printJSON(cmd, b.Suggest(cmd.Context(), joinedTask(args)))
		},
	}
}

func newAutoCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "auto <task>...",
		Short: "Make and apply an autonomous execution decision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg, logger, true)
			if err != nil {
				return err
			}
			result, err := b.AutoExecute(cmd.Context(), joinedTask(args))
			if err != nil {
				return err
			}
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			executed := result.Decision.Decision == planner.DecisionExecute &&
				result.Execution != nil && result.Execution.Result.OK
			if !executed {
				return &exitError{code: exitDenied}
			}
			return nil
		},
	}
}

func newReadinessCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "readiness",
		Short: "Environment readiness report with per-check remediation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg, logger, false)
			if err != nil {
				return err
			}
			report := b.Readiness(cmd.Context())
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if report.Overall == readiness.StatusRed {
				return &exitError{code: exitDenied}
			}
			return nil
		},
	}
}

func newRememberCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	var (
		summary    string
		task       string
		recordType string
		sources    []string
		tags       []string
		confidence float64
	)
	cmd := &cobra.Command{
		Use:   "remember",
		Short: "Persist a validated, redacted memory record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg, logger, false)
			if err != nil {
				return err
			}
			if task == "" {
				task = summary
			}
			var confidencePtr *float64
			if confidence >= 0 {
				confidencePtr = &confidence
			}
			record, err := memory.BuildRecord(task, summary, sources, tags, memory.Type(recordType), confidencePtr)
			if err != nil {
				return &exitError{code: exitDenied, message: err.Error()}
			}
			outcome, err := b.Memory().Save(cmd.Context(), record)
			if err != nil {
				return err
			}
			return printJSON(cmd, outcome)
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "what was learned (required)")
	cmd.Flags().StringVar(&task, "task", "", "task context the learning came from")
	cmd.Flags().StringVar(&recordType, "type", string(memory.TypePattern), "record type (decision|gotcha|pattern|incident|mapping)")
	cmd.Flags().StringArrayVar(&sources, "source", nil, "evidence source (repeatable, required)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag (repeatable, required)")
	cmd.Flags().Float64Var(&confidence, "confidence", -1, "confidence in [0,1]")
	_ = cmd.MarkFlagRequired("summary")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func newRecallCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	var (
		limit int
		tags  []string
	)
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "List recent memory records, optionally filtered by tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg, logger, false)
			if err != nil {
				return err
			}
			entries, err := b.Memory().Recent(limit, tags)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"count":   len(entries),
				"records": entries,
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum records to return")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "require all of these tags (repeatable)")
	return cmd
}

func newStatusCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Broker state, memory, and capability summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg, logger, false)
			if err != nil {
				return err
			}
			return printJSON(cmd, b.Status())
		},
	}
}

func newServeCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	var (
		mode        string
		enableWrite bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose broker operations to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg, logger, false)
			if err != nil {
				return err
			}
			registry, err := server.NewToolRegistry(server.BuiltinTools())
			if err != nil {
				return err
			}
			guard, err := policy.NewGuard(mode, enableWrite)
			if err != nil {
				return &exitError{code: exitConfigError, message: err.Error()}
			}

			serveLogger := logger.With().Str("component", "serve").Logger()
			serveLogger.Info().Str("mode", guard.Mode()).Str("role", string(cfg.Role)).Msg("starting stdio runtime")
			return server.RunStdio(cmd.Context(), os.Stdin, os.Stdout, server.Options{
				Registry: registry,
				Guard:    guard,
				Role:     string(cfg.Role),
				Caller:   server.NewBrokerCaller(b),
				Version:  version,
				Logger:   serveLogger,
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", envOrDefault("TOOLBROKER_MODE", policy.ModeReadOnly), "serve mode (read-only|read-write)")
	cmd.Flags().BoolVar(&enableWrite, "enable-write", os.Getenv("TOOLBROKER_ENABLE_WRITE") == "true", "second switch required for read-write mode")
	return cmd
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
