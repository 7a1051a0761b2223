package capability

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ServerModeStdio executes provider commands over stdin/stdout.
	ServerModeStdio = "stdio"
	// ServerModeNoop disables execution for a provider without removing it
	// from the configuration.
	ServerModeNoop = "noop"

	defaultTimeoutSeconds = 30
)

// Config is the root of the capability configuration document.
type Config struct {
	Enabled   bool                      `yaml:"enabled"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig configures one provider entry.
type ProviderConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Actions        []string `yaml:"actions"`
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	ServerMode     string   `yaml:"serverMode"`
}

// LoadError carries the full set of validation violations for a capability
// configuration. The registry stays unloaded while any violation exists.
type LoadError struct {
	Path       string
	Violations []string
}

// Error implements error.
func (e *LoadError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "capability config invalid"
	}
	return fmt.Sprintf("capability config %s invalid: %s", e.Path, strings.Join(e.Violations, "; "))
}

// Registry holds a validated, immutable capability configuration.
type Registry struct {
	config     Config
	configPath string
	loaded     bool
	loadErrors []string
}

// Load reads and validates the capability configuration at path.
//
// Validation collects every violation rather than stopping at the first; on
// any violation the returned registry is unloaded and the error is a
// *LoadError listing all of them. The document is parsed strictly, so
// unknown fields are violations too.
func Load(path string) (*Registry, error) {
	registry := &Registry{configPath: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		registry.loadErrors = []string{fmt.Sprintf("configuration file not readable: %v", err)}
		return registry, &LoadError{Path: path, Violations: registry.loadErrors}
	}

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(string(raw)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		registry.loadErrors = []string{fmt.Sprintf("invalid configuration document: %v", err)}
		return registry, &LoadError{Path: path, Violations: registry.loadErrors}
	}

	violations := validate(cfg)
	if len(violations) > 0 {
		registry.loadErrors = violations
		return registry, &LoadError{Path: path, Violations: violations}
	}

	registry.config = normalize(cfg)
	registry.loaded = true
	return registry, nil
}

func validate(cfg Config) []string {
	var violations []string

	// A disabled capability layer needs no provider validation.
	if !cfg.Enabled {
		return violations
	}

	if len(cfg.Providers) == 0 {
		violations = append(violations, "capability enabled but no providers configured")
		return violations
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		provider := cfg.Providers[name]

		catalog, known := actionCatalogs[name]
		if !known {
			violations = append(violations, fmt.Sprintf("unknown provider: %s", name))
			continue
		}
		if !provider.Enabled {
			continue
		}

		for _, action := range provider.Actions {
			if !slices.Contains(catalog, action) {
				violations = append(violations, fmt.Sprintf("provider %s: action %q not in catalog", name, action))
			}
		}

		switch strings.ToLower(strings.TrimSpace(provider.ServerMode)) {
		case "", ServerModeStdio, ServerModeNoop:
		default:
			violations = append(violations, fmt.Sprintf("provider %s: invalid serverMode %q (allowed: %s|%s)", name, provider.ServerMode, ServerModeStdio, ServerModeNoop))
		}

		if provider.TimeoutSeconds < 0 {
			violations = append(violations, fmt.Sprintf("provider %s: timeout_seconds must not be negative", name))
		}

		// An empty command is legal and surfaces as a runtime denial; a
		// non-empty command must have a resolvable head.
		if len(provider.Command) > 0 && !CommandResolvable(provider.Command[0]) {
			violations = append(violations, fmt.Sprintf("provider %s: command not found: %s", name, provider.Command[0]))
		}
	}

	return violations
}

func normalize(cfg Config) Config {
	for name, provider := range cfg.Providers {
		if provider.TimeoutSeconds == 0 {
			provider.TimeoutSeconds = defaultTimeoutSeconds
		}
		if strings.TrimSpace(provider.ServerMode) == "" {
			provider.ServerMode = ServerModeStdio
		} else {
			provider.ServerMode = strings.ToLower(strings.TrimSpace(provider.ServerMode))
		}
		cfg.Providers[name] = provider
	}
	return cfg
}

// CommandResolvable reports whether a command head resolves: an absolute
// path must exist, anything else must be found on the search path.
func CommandResolvable(head string) bool {
	if strings.TrimSpace(head) == "" {
		return false
	}
	if filepath.IsAbs(head) {
		_, err := os.Stat(head)
		return err == nil
	}
	_, err := exec.LookPath(head)
	return err == nil
}

// Loaded reports whether a valid configuration is in effect.
func (r *Registry) Loaded() bool {
	return r != nil && r.loaded
}

// LoadErrors returns the violations from the last load attempt.
func (r *Registry) LoadErrors() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.loadErrors))
	copy(out, r.loadErrors)
	return out
}

// ConfigPath returns the path the configuration was loaded from.
func (r *Registry) ConfigPath() string {
	if r == nil {
		return ""
	}
	return r.configPath
}

// Enabled reports whether the capability layer is enabled.
func (r *Registry) Enabled() bool {
	return r.Loaded() && r.config.Enabled
}

// ProviderEnabled reports whether a provider is enabled.
func (r *Registry) ProviderEnabled(name string) bool {
	if !r.Enabled() {
		return false
	}
	provider, ok := r.config.Providers[name]
	return ok && provider.Enabled
}

// ActionAllowed reports whether an action is allowlisted for a provider.
func (r *Registry) ActionAllowed(provider, action string) bool {
	if !r.ProviderEnabled(provider) {
		return false
	}
	return slices.Contains(r.config.Providers[provider].Actions, action)
}

// EnabledProviders returns the sorted names of all enabled providers.
func (r *Registry) EnabledProviders() []string {
	if !r.Enabled() {
		return nil
	}
	names := make([]string, 0, len(r.config.Providers))
	for name, provider := range r.config.Providers {
		if provider.Enabled {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// AllowedActions returns the configured allowlist for a provider, in
// configuration order.
func (r *Registry) AllowedActions(provider string) []string {
	if !r.ProviderEnabled(provider) {
		return nil
	}
	actions := r.config.Providers[provider].Actions
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}

// Provider returns the configuration for a provider and whether it exists.
func (r *Registry) Provider(name string) (ProviderConfig, bool) {
	if !r.Loaded() {
		return ProviderConfig{}, false
	}
	provider, ok := r.config.Providers[name]
	return provider, ok
}

// Summary returns a log-safe snapshot of the registry state. It carries no
// secrets or command arguments.
type Summary struct {
	Status           string         `json:"status"`
	Enabled          bool           `json:"enabled"`
	ConfigPath       string         `json:"config_path,omitempty"`
	EnabledProviders []string       `json:"enabled_providers,omitempty"`
	ActionCounts     map[string]int `json:"action_counts,omitempty"`
	LoadErrors       []string       `json:"load_errors,omitempty"`
}

// Summarize builds a Summary for status output and logging.
func (r *Registry) Summarize() Summary {
	if !r.Loaded() {
		return Summary{
			Status:     "not_loaded",
			ConfigPath: r.ConfigPath(),
			LoadErrors: r.LoadErrors(),
		}
	}
	summary := Summary{
		Status:           "loaded",
		Enabled:          r.Enabled(),
		ConfigPath:       r.ConfigPath(),
		EnabledProviders: r.EnabledProviders(),
	}
	if r.Enabled() {
		summary.ActionCounts = make(map[string]int, len(summary.EnabledProviders))
		for _, name := range summary.EnabledProviders {
			summary.ActionCounts[name] = len(r.config.Providers[name].Actions)
		}
	}
	return summary
}
