package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testExecutor(secrets map[string]string) *Executor {
	return &Executor{
		LookupEnv: func(name string) (string, bool) {
			value, ok := secrets[name]
			return value, ok
		},
	}
}

func TestExecutorRun_Success(t *testing.T) {
	executor := testExecutor(nil)
	result := executor.Run(context.Background(),
		[]string{"sh", "-c", `echo '{"items":[1,2]}'`},
		map[string]any{"action": "list"},
		5*time.Second,
	)

	require.True(t, result.OK)
	require.Empty(t, result.Error)
	require.EqualValues(t, 0, result.Meta["exit_code"])

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	require.Len(t, data["items"], 2)
}

func TestExecutorRun_NonZeroExitCarriesStderr(t *testing.T) {
	executor := testExecutor(nil)
	result := executor.Run(context.Background(),
		[]string{"sh", "-c", `echo "boom" >&2; exit 3`},
		map[string]any{},
		5*time.Second,
	)

	require.False(t, result.OK)
	require.Equal(t, "boom", result.Error)
	require.EqualValues(t, 3, result.Meta["exit_code"])
}

func TestExecutorRun_NonJSONStdout(t *testing.T) {
	executor := testExecutor(nil)
	result := executor.Run(context.Background(),
		[]string{"sh", "-c", `echo "plain text"`},
		map[string]any{},
		5*time.Second,
	)

	require.False(t, result.OK)
	require.Equal(t, "invalid provider response (non-JSON)", result.Error)
	require.EqualValues(t, 0, result.Meta["exit_code"])
}

func TestExecutorRun_Timeout(t *testing.T) {
	executor := testExecutor(nil)
	start := time.Now()
	result := executor.Run(context.Background(),
		[]string{"sleep", "30"},
		map[string]any{},
		100*time.Millisecond,
	)

	require.False(t, result.OK)
	require.Equal(t, "provider command timed out", result.Error)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutorRun_CommandNotFound(t *testing.T) {
	executor := testExecutor(nil)
	result := executor.Run(context.Background(),
		[]string{"/nonexistent/tool"},
		map[string]any{},
		time.Second,
	)

	require.False(t, result.OK)
	require.Contains(t, result.Error, "failed to start")
}

func TestExecutorRun_RedactsSecretsFromAllStreams(t *testing.T) {
	executor := testExecutor(map[string]string{
		"GITHUB_TOKEN":      "ghp_supersecret123",
		"SENTRY_AUTH_TOKEN": "sn_othersecret",
	})

	result := executor.Run(context.Background(),
		[]string{"sh", "-c", `echo "token is ghp_supersecret123" >&2; exit 1`},
		map[string]any{},
		5*time.Second,
	)

	require.NotContains(t, result.Error, "ghp_supersecret123")
	require.Contains(t, result.Error, RedactedMarker)
}

func TestExecutorRun_RedactsEvenOnSuccess(t *testing.T) {
	executor := testExecutor(map[string]string{
		"GITHUB_TOKEN": "ghp_supersecret123",
	})

	result := executor.Run(context.Background(),
		[]string{"sh", "-c", `echo '{"note":"leaked ghp_supersecret123"}'`},
		map[string]any{},
		5*time.Second,
	)

	// Redaction breaks nothing when the payload stays valid JSON.
	require.True(t, result.OK)
	data := result.Data.(map[string]any)
	require.Equal(t, "leaked "+RedactedMarker, data["note"])
}

func TestExecutorRun_EmptyCommand(t *testing.T) {
	executor := testExecutor(nil)
	result := executor.Run(context.Background(), nil, map[string]any{}, time.Second)
	require.False(t, result.OK)
	require.Equal(t, "no command configured", result.Error)
}
