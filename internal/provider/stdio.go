package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// RedactedMarker replaces any sensitive environment value found in captured
// process output.
const RedactedMarker = "[redacted]"

// SensitiveEnvVars is the fixed set of environment variables whose current
// values are scrubbed from everything a provider process emits.
var SensitiveEnvVars = []string{
	"GITHUB_TOKEN",
	"SENTRY_AUTH_TOKEN",
	"TOOLBROKER_REMOTE_API_KEY",
}

// ExecResult is the outcome of one stdio execution.
type ExecResult struct {
	OK    bool
	Data  any
	Error string
	Meta  map[string]any
}

// Executor runs provider commands over stdin/stdout with a hard timeout and
// unconditional secret redaction of captured output.
type Executor struct {
	// LookupEnv resolves sensitive variables for redaction; defaults to
	// os.LookupEnv. Overridable for tests.
	LookupEnv func(string) (string, bool)
}

// Run executes argv with the JSON-encoded payload on stdin.
//
// The payload is serialized with encoding/json, which orders map keys, so
// identical payloads always produce identical bytes. Three failure modes are
// distinguished: non-zero exit (error carries redacted stderr or a generic
// message), zero exit with non-JSON stdout, and start/timeout failures.
func (e *Executor) Run(ctx context.Context, argv []string, payload map[string]any, timeout time.Duration) ExecResult {
	start := time.Now()
	meta := map[string]any{"exit_code": -1}

	if len(argv) == 0 {
		meta["elapsed_ms"] = time.Since(start).Milliseconds()
		return ExecResult{Error: "no command configured", Meta: meta}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		meta["elapsed_ms"] = time.Since(start).Milliseconds()
		return ExecResult{Error: fmt.Sprintf("encoding request payload: %v", err), Meta: meta}
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(encoded)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	meta["elapsed_ms"] = time.Since(start).Milliseconds()

	outText := e.redact(stdout.String())
	errText := e.redact(stderr.String())
	meta["stdout_len"] = len(outText)
	meta["stderr_len"] = len(errText)

	if runCtx.Err() == context.DeadlineExceeded {
		return ExecResult{Error: "provider command timed out", Meta: meta}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			meta["exit_code"] = exitErr.ExitCode()
			message := strings.TrimSpace(errText)
			if message == "" {
				message = "provider command failed"
			}
			meta["stderr_preview"] = preview(errText)
			return ExecResult{Error: message, Meta: meta}
		}
		return ExecResult{Error: e.redact(fmt.Sprintf("provider command failed to start: %v", runErr)), Meta: meta}
	}

	meta["exit_code"] = 0

	var data any
	if strings.TrimSpace(outText) != "" {
		if err := json.Unmarshal([]byte(outText), &data); err != nil {
			meta["stdout_preview"] = preview(outText)
			return ExecResult{Error: "invalid provider response (non-JSON)", Meta: meta}
		}
	}

	return ExecResult{OK: true, Data: data, Meta: meta}
}

// redact replaces every literal occurrence of a sensitive environment value
// in text with the redaction marker. It runs unconditionally, success or not.
func (e *Executor) redact(text string) string {
	if text == "" {
		return text
	}
	lookup := e.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	redacted := text
	for _, name := range SensitiveEnvVars {
		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		redacted = strings.ReplaceAll(redacted, value, RedactedMarker)
	}
	return redacted
}

func preview(text string) string {
	const limit = 800
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
