// Package state persists cross-session broker state: a STATE.json snapshot
// and an append-only PROGRESS.md ledger.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/agentfold/toolbroker/internal/readiness"
)

const (
	stateFileName    = "STATE.json"
	progressFileName = "PROGRESS.md"
	progressHeader   = "# Broker Progress Ledger\n\n"
)

// SessionInfo summarizes one completed session for the state snapshot and
// the progress ledger.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Task      string `json:"task"`
	Mode      string `json:"mode"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp,omitempty"`
}

// State is the persisted snapshot in STATE.json.
type State struct {
	LastUpdated string                 `json:"last_updated"`
	LastSession *SessionInfo           `json:"last_session"`
	Features    readiness.Capabilities `json:"features"`
}

// Manager owns the state directory.
type Manager struct {
	dir          string
	statePath    string
	progressPath string
	now          func() time.Time
}

// NewManager creates the state directory and seeds STATE.json and
// PROGRESS.md when they do not exist yet.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	manager := &Manager{
		dir:          dir,
		statePath:    filepath.Join(dir, stateFileName),
		progressPath: filepath.Join(dir, progressFileName),
		now:          time.Now,
	}

	if _, err := os.Stat(manager.statePath); os.IsNotExist(err) {
		if err := manager.writeState(manager.defaultState()); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(manager.progressPath); os.IsNotExist(err) {
		if err := os.WriteFile(manager.progressPath, []byte(progressHeader), 0o600); err != nil {
			return nil, fmt.Errorf("seed progress ledger: %w", err)
		}
	}
	return manager, nil
}

// Load reads the state snapshot. A missing or corrupt file yields the
// default state rather than an error, so a damaged snapshot never blocks a
// new session.
func (m *Manager) Load() State {
	raw, err := os.ReadFile(m.statePath)
	if err != nil {
		return m.defaultState()
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return m.defaultState()
	}
	return state
}

// RecordSession updates STATE.json and appends one line to PROGRESS.md.
func (m *Manager) RecordSession(info SessionInfo, features readiness.Capabilities) error {
	state := m.Load()
	state.LastUpdated = m.now().UTC().Format(time.RFC3339)
	if info.Timestamp == "" {
		info.Timestamp = state.LastUpdated
	}
	state.LastSession = &info
	state.Features = features

	if err := m.writeState(state); err != nil {
		return err
	}
	return m.appendProgress(info)
}

func (m *Manager) defaultState() State {
	return State{
		LastUpdated: m.now().UTC().Format(time.RFC3339),
		Features: readiness.Capabilities{
			Tooling: readiness.ToolingCapability{Providers: []string{}},
		},
	}
}

func (m *Manager) writeState(state State) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := m.statePath + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish state: %w", err)
	}
	return nil
}

func (m *Manager) appendProgress(info SessionInfo) error {
	sessionID := info.SessionID
	if sessionID == "" {
		sessionID = "unknown"
	}
	line := fmt.Sprintf("[%s] Session %s: %s [%s] -> %s\n",
		m.now().Format("2006-01-02 15:04:05"), sessionID, info.Task, info.Mode, info.Result)

	file, err := os.OpenFile(m.progressPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open progress ledger: %w", err)
	}
	defer file.Close()
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("append progress ledger: %w", err)
	}
	return nil
}
