// Package auth resolves the credential used for remote memory replication.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeySource identifies where the remote API key was resolved from.
type KeySource string

const (
	// KeySourceRemoteEnv is TOOLBROKER_REMOTE_API_KEY.
	KeySourceRemoteEnv KeySource = "toolbroker_remote_api_key"
	// KeySourceSharedEnv is TOOLBROKER_API_KEY.
	KeySourceSharedEnv KeySource = "toolbroker_api_key"
	// KeySourceCredentialsFile is ~/.toolbroker/credentials.yaml remote.api_key.
	KeySourceCredentialsFile KeySource = "credentials_file"
)

const defaultCredentialsPath = "~/.toolbroker/credentials.yaml"

// KeyResolution contains the resolved key and source.
type KeyResolution struct {
	Key    string
	Source KeySource
}

// KeySourceOptions controls key resolution.
type KeySourceOptions struct {
	AllowCredentialsFile bool
	CredentialsPath      string
}

// Environment sources in precedence order. The credentials file only runs
// after these, and only when opted in.
var envKeySources = []struct {
	env    string
	source KeySource
}{
	{"TOOLBROKER_REMOTE_API_KEY", KeySourceRemoteEnv},
	{"TOOLBROKER_API_KEY", KeySourceSharedEnv},
}

// ResolveRemoteKey resolves the remote memory key using deterministic
// precedence: TOOLBROKER_REMOTE_API_KEY, then TOOLBROKER_API_KEY, then the
// credentials file remote.api_key (only when AllowCredentialsFile=true).
// An empty resolution with no error means no key is configured.
func ResolveRemoteKey(opts KeySourceOptions) (KeyResolution, error) {
	for _, candidate := range envKeySources {
		if key := strings.TrimSpace(os.Getenv(candidate.env)); key != "" {
			return KeyResolution{Key: key, Source: candidate.source}, nil
		}
	}

	if !opts.AllowCredentialsFile {
		return KeyResolution{}, nil
	}
	return credentialsFileKey(opts.CredentialsPath)
}

func credentialsFileKey(path string) (KeyResolution, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = defaultCredentialsPath
	}

	data, err := os.ReadFile(expandPath(resolved))
	if errors.Is(err, os.ErrNotExist) {
		return KeyResolution{}, nil
	}
	if err != nil {
		return KeyResolution{}, fmt.Errorf("reading credentials file key source: %w", err)
	}

	var creds struct {
		Remote struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"remote"`
	}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return KeyResolution{}, fmt.Errorf("decoding credentials file key source: %w", err)
	}

	key := strings.TrimSpace(creds.Remote.APIKey)
	if key == "" {
		return KeyResolution{}, nil
	}
	return KeyResolution{Key: key, Source: KeySourceCredentialsFile}, nil
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return filepath.Clean(path)
}
