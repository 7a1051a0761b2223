// Package config loads toolbroker runtime configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agentfold/toolbroker/internal/auth"
	"github.com/agentfold/toolbroker/internal/capability"
)

const (
	defaultDataDir        = ".toolbroker"
	defaultLogLevel       = "info"
	defaultTimeoutSeconds = 30
)

// Config holds broker runtime configuration.
type Config struct {
	DataDir        string
	LogLevel       string
	Role           capability.Role
	CapabilityPath string

	RemoteURL    string
	RemoteAPIKey string

	// AutoExecEnabled is the autonomous-execution kill switch. It defaults
	// to off; anything but an explicit truthy value keeps it off.
	AutoExecEnabled bool

	DefaultTimeoutSeconds int
}

// EvidenceDir is where audit evidence files are written.
func (c Config) EvidenceDir() string { return filepath.Join(c.DataDir, "evidence") }

// MemoryDir is where durable memory records are written.
func (c Config) MemoryDir() string { return filepath.Join(c.DataDir, "memory") }

// StateDir is where STATE.json and PROGRESS.md live.
func (c Config) StateDir() string { return filepath.Join(c.DataDir, "state") }

// Load returns configuration parsed from environment variables.
func Load() (Config, error) {
	cfg := Config{
		DataDir:               strings.TrimSpace(envOrDefault("TOOLBROKER_DATA_DIR", defaultDataDir)),
		LogLevel:              strings.ToLower(strings.TrimSpace(envOrDefault("TOOLBROKER_LOG_LEVEL", defaultLogLevel))),
		Role:                  capability.Role(strings.ToUpper(strings.TrimSpace(envOrDefault("TOOLBROKER_ROLE", string(capability.RolePlanner))))),
		CapabilityPath:        strings.TrimSpace(os.Getenv("TOOLBROKER_CAPABILITY_CONFIG")),
		RemoteURL:             strings.TrimSpace(os.Getenv("TOOLBROKER_REMOTE_URL")),
		AutoExecEnabled:       envBool("TOOLBROKER_AUTO_EXEC", false),
		DefaultTimeoutSeconds: envInt("TOOLBROKER_DEFAULT_TIMEOUT_SECONDS", defaultTimeoutSeconds),
	}

	resolvedKey, err := auth.ResolveRemoteKey(auth.KeySourceOptions{
		AllowCredentialsFile: envBool("TOOLBROKER_ALLOW_CREDENTIALS_FILE", false),
		CredentialsPath:      strings.TrimSpace(os.Getenv("TOOLBROKER_CREDENTIALS_PATH")),
	})
	if err != nil {
		return Config{}, fmt.Errorf("resolving remote API key: %w", err)
	}
	cfg.RemoteAPIKey = resolvedKey.Key

	switch cfg.Role {
	case capability.RolePlanner, capability.RoleImplementer, capability.RoleAuditor:
	default:
		return Config{}, fmt.Errorf("invalid TOOLBROKER_ROLE %q (allowed: %s|%s|%s)",
			cfg.Role, capability.RolePlanner, capability.RoleImplementer, capability.RoleAuditor)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.DefaultTimeoutSeconds <= 0 {
		cfg.DefaultTimeoutSeconds = defaultTimeoutSeconds
	}

	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		default:
			return defaultVal
		}
	}
	return parsed
}

func envInt(key string, defaultVal int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultVal
	}
	return parsed
}
