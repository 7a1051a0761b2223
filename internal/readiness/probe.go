// Package readiness verifies that the broker's providers, runtime helpers,
// and memory storage are actually usable before any autonomous execution.
package readiness

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentfold/toolbroker/internal/capability"
)

// Status is the tri-state outcome of a readiness check.
type Status string

const (
	StatusGreen  Status = "GREEN"
	StatusYellow Status = "YELLOW"
	StatusRed    Status = "RED"
)

// nodeVersionFloor is the minimum Node.js major version required by the
// npx-launched stdio servers.
const nodeVersionFloor = 18

// Check is a single readiness probe result. Remediation is only set when
// the check did not pass.
type Check struct {
	Name        string `json:"name"`
	Status      Status `json:"status"`
	Detail      string `json:"detail"`
	Remediation string `json:"remediation,omitempty"`
}

// ToolingCapability summarizes the capability layer state.
type ToolingCapability struct {
	Enabled   bool     `json:"enabled"`
	Providers []string `json:"providers"`
}

// RemoteCapability summarizes remote memory replication state.
type RemoteCapability struct {
	Enabled    bool `json:"enabled"`
	Configured bool `json:"configured"`
}

// Capabilities reports which broker subsystems are operational.
type Capabilities struct {
	Tooling     ToolingCapability `json:"tooling"`
	Remote      RemoteCapability  `json:"remote"`
	MemoryWrite bool              `json:"memory_write"`
}

// Report is the aggregate readiness picture. Overall is RED if any check is
// RED, YELLOW if any check is YELLOW and none is RED, GREEN otherwise.
type Report struct {
	Overall      Status       `json:"overall_status"`
	Checks       []Check      `json:"checks"`
	Capabilities Capabilities `json:"capabilities"`
	MissingEnv   []string     `json:"missing_env"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Probe collects readiness checks. The function fields exist so tests can
// substitute the process environment and external binaries.
type Probe struct {
	Registry  *capability.Registry
	MemoryDir string
	RemoteURL string
	RemoteKey string

	LookPath  func(file string) (string, error)
	Output    func(ctx context.Context, name string, args ...string) ([]byte, error)
	LookupEnv func(key string) (string, bool)
}

// New returns a Probe wired to the real environment.
func New(registry *capability.Registry, memoryDir string) *Probe {
	return &Probe{
		Registry:  registry,
		MemoryDir: memoryDir,
		LookPath:  exec.LookPath,
		Output: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		LookupEnv: os.LookupEnv,
	}
}

// Collect runs every readiness check and aggregates the overall status.
func (p *Probe) Collect(ctx context.Context) Report {
	var checks []Check
	var missingEnv []string
	capabilities := Capabilities{
		Tooling: ToolingCapability{Providers: []string{}},
	}

	checks = append(checks, p.checkNode(ctx))
	checks = append(checks, p.checkNpx())

	registryChecks, tooling, missing := p.checkRegistry()
	checks = append(checks, registryChecks...)
	capabilities.Tooling = tooling
	missingEnv = append(missingEnv, missing...)

	remoteCheck, remote := p.checkRemote()
	checks = append(checks, remoteCheck)
	capabilities.Remote = remote

	memoryCheck, writable := p.checkMemoryDir()
	checks = append(checks, memoryCheck)
	capabilities.MemoryWrite = writable

	slices.Sort(missingEnv)
	missingEnv = slices.Compact(missingEnv)

	return Report{
		Overall:      overall(checks),
		Checks:       checks,
		Capabilities: capabilities,
		MissingEnv:   missingEnv,
		Timestamp:    time.Now().UTC(),
	}
}

func overall(checks []Check) Status {
	status := StatusGreen
	for _, check := range checks {
		if check.Status == StatusRed {
			return StatusRed
		}
		if check.Status == StatusYellow {
			status = StatusYellow
		}
	}
	return status
}

func (p *Probe) checkNode(ctx context.Context) Check {
	out, err := p.Output(ctx, "node", "--version")
	if err != nil {
		return Check{
			Name:        "Node Runtime",
			Status:      StatusYellow,
			Detail:      "node not found",
			Remediation: fmt.Sprintf("Install Node.js %d or newer for npx-launched providers", nodeVersionFloor),
		}
	}
	version := strings.TrimSpace(string(out))
	major, ok := nodeMajor(version)
	if !ok {
		return Check{
			Name:        "Node Runtime",
			Status:      StatusYellow,
			Detail:      fmt.Sprintf("unrecognized node version: %s", version),
			Remediation: fmt.Sprintf("Install Node.js %d or newer", nodeVersionFloor),
		}
	}
	if major < nodeVersionFloor {
		return Check{
			Name:        "Node Runtime",
			Status:      StatusYellow,
			Detail:      fmt.Sprintf("node %s below required major %d", version, nodeVersionFloor),
			Remediation: fmt.Sprintf("Upgrade Node.js to %d or newer", nodeVersionFloor),
		}
	}
	return Check{
		Name:   "Node Runtime",
		Status: StatusGreen,
		Detail: fmt.Sprintf("node %s", version),
	}
}

func nodeMajor(version string) (int, bool) {
	version = strings.TrimPrefix(version, "v")
	head, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return major, true
}

func (p *Probe) checkNpx() Check {
	path, err := p.LookPath("npx")
	if err != nil {
		return Check{
			Name:        "npx Availability",
			Status:      StatusYellow,
			Detail:      "npx not found on PATH",
			Remediation: "Install Node.js which bundles npx",
		}
	}
	return Check{
		Name:   "npx Availability",
		Status: StatusGreen,
		Detail: fmt.Sprintf("npx found at %s", path),
	}
}

func (p *Probe) checkRegistry() ([]Check, ToolingCapability, []string) {
	tooling := ToolingCapability{Providers: []string{}}

	if p.Registry == nil {
		return []Check{{
			Name:   "Capability Configuration",
			Status: StatusYellow,
			Detail: "capability layer not configured",
		}}, tooling, nil
	}
	if !p.Registry.Loaded() {
		return []Check{{
			Name:        "Capability Configuration",
			Status:      StatusRed,
			Detail:      fmt.Sprintf("capability configuration failed to load: %s", strings.Join(p.Registry.LoadErrors(), ", ")),
			Remediation: "Fix capability configuration file errors",
		}}, tooling, nil
	}
	if !p.Registry.Enabled() {
		return []Check{{
			Name:   "Capability Configuration",
			Status: StatusYellow,
			Detail: "capability layer disabled",
		}}, tooling, nil
	}

	tooling.Enabled = true
	tooling.Providers = p.Registry.EnabledProviders()

	checks := []Check{{
		Name:   "Capability Configuration",
		Status: StatusGreen,
		Detail: fmt.Sprintf("capability layer enabled with %d providers", len(tooling.Providers)),
	}}

	var missingEnv []string
	for _, name := range tooling.Providers {
		checks = append(checks, p.checkProviderCommand(name))

		envCheck, missing := p.checkProviderEnv(name)
		checks = append(checks, envCheck)
		missingEnv = append(missingEnv, missing...)
	}
	return checks, tooling, missingEnv
}

func (p *Probe) checkProviderCommand(name string) Check {
	config, _ := p.Registry.Provider(name)
	checkName := fmt.Sprintf("Provider %s Command", name)

	if len(config.Command) == 0 {
		return Check{
			Name:        checkName,
			Status:      StatusYellow,
			Detail:      fmt.Sprintf("no command specified for provider %s", name),
			Remediation: fmt.Sprintf("Add a command to the capability config for %s", name),
		}
	}
	head := config.Command[0]
	if filepath.IsAbs(head) {
		if _, err := os.Stat(head); err == nil {
			return Check{Name: checkName, Status: StatusGreen, Detail: fmt.Sprintf("command exists: %s", head)}
		}
	} else if _, err := p.LookPath(head); err == nil {
		return Check{Name: checkName, Status: StatusGreen, Detail: fmt.Sprintf("command found on PATH: %s", head)}
	}
	return Check{
		Name:        checkName,
		Status:      StatusRed,
		Detail:      fmt.Sprintf("command not found: %s", head),
		Remediation: fmt.Sprintf("Install %s or update the capability config with the correct path", head),
	}
}

func (p *Probe) checkProviderEnv(name string) (Check, []string) {
	checkName := fmt.Sprintf("Provider %s Environment", name)

	var missing []string
	for _, key := range capability.RequiredEnv(name) {
		if value, ok := p.LookupEnv(key); !ok || strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Check{
			Name:        checkName,
			Status:      StatusRed,
			Detail:      fmt.Sprintf("missing required environment variables: %s", strings.Join(missing, ", ")),
			Remediation: fmt.Sprintf("Set environment variables: %s", strings.Join(missing, ", ")),
		}, missing
	}
	return Check{
		Name:   checkName,
		Status: StatusGreen,
		Detail: "all required environment variables present",
	}, nil
}

func (p *Probe) checkRemote() (Check, RemoteCapability) {
	remote := RemoteCapability{
		Enabled:    p.RemoteURL != "" || p.RemoteKey != "",
		Configured: p.RemoteURL != "" && p.RemoteKey != "",
	}
	if remote.Configured {
		return Check{
			Name:   "Remote Memory",
			Status: StatusGreen,
			Detail: "remote memory replication configured",
		}, remote
	}
	return Check{
		Name:        "Remote Memory",
		Status:      StatusYellow,
		Detail:      "remote memory not configured",
		Remediation: "Set TOOLBROKER_REMOTE_URL and TOOLBROKER_REMOTE_API_KEY",
	}, remote
}

// checkMemoryDir verifies write access by touching and removing a marker
// file, which also catches read-only mounts that Stat alone would miss.
func (p *Probe) checkMemoryDir() (Check, bool) {
	marker := filepath.Join(p.MemoryDir, ".writable_test_"+uuid.NewString())
	err := os.WriteFile(marker, nil, 0o600)
	if err == nil {
		err = os.Remove(marker)
	}
	if err != nil {
		return Check{
			Name:        "Memory Directory Writable",
			Status:      StatusRed,
			Detail:      fmt.Sprintf("memory directory not writable: %s", p.MemoryDir),
			Remediation: fmt.Sprintf("Ensure %s exists and has write permissions", p.MemoryDir),
		}, false
	}
	return Check{
		Name:   "Memory Directory Writable",
		Status: StatusGreen,
		Detail: fmt.Sprintf("memory directory writable: %s", p.MemoryDir),
	}, true
}
