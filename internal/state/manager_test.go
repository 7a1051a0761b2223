package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfold/toolbroker/internal/readiness"
)

func TestNewManager_SeedsStateAndLedger(t *testing.T) {
	dir := t.TempDir()
	_, err := NewManager(dir)
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(dir, "STATE.json"))

	ledger, err := os.ReadFile(filepath.Join(dir, "PROGRESS.md"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(ledger), "# Broker Progress Ledger"))
}

func TestRecordSession_UpdatesSnapshotAndAppendsLedger(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir)
	require.NoError(t, err)

	features := readiness.Capabilities{
		Tooling:     readiness.ToolingCapability{Enabled: true, Providers: []string{"github"}},
		MemoryWrite: true,
	}
	require.NoError(t, manager.RecordSession(SessionInfo{
		SessionID: "abc12345",
		Task:      "list open issues",
		Mode:      "call",
		Result:    "success",
	}, features))

	state := manager.Load()
	require.NotNil(t, state.LastSession)
	require.Equal(t, "abc12345", state.LastSession.SessionID)
	require.Equal(t, "success", state.LastSession.Result)
	require.NotEmpty(t, state.LastSession.Timestamp)
	require.True(t, state.Features.Tooling.Enabled)

	ledger, err := os.ReadFile(filepath.Join(dir, "PROGRESS.md"))
	require.NoError(t, err)
	require.Contains(t, string(ledger), "Session abc12345: list open issues [call] -> success")
}

func TestRecordSession_LedgerIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir)
	require.NoError(t, err)

	for _, result := range []string{"success", "failure"} {
		require.NoError(t, manager.RecordSession(SessionInfo{
			SessionID: "s1",
			Task:      "task",
			Mode:      "auto",
			Result:    result,
		}, readiness.Capabilities{}))
	}

	ledger, err := os.ReadFile(filepath.Join(dir, "PROGRESS.md"))
	require.NoError(t, err)
	require.Contains(t, string(ledger), "-> success")
	require.Contains(t, string(ledger), "-> failure")
}

func TestLoad_ToleratesCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "STATE.json"), []byte("{broken"), 0o600))

	state := manager.Load()
	require.Nil(t, state.LastSession)
	require.NotEmpty(t, state.LastUpdated)
}

func TestLoad_ToleratesMissingSnapshot(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "STATE.json")))

	state := manager.Load()
	require.Nil(t, state.LastSession)
}
