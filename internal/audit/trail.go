// Package audit writes a file-based evidence trail of broker activity and
// emits structured completion log entries for tool calls.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`)
	keyValuePattern    = regexp.MustCompile(`(?i)\b(token|secret|password|authorization)\s*[:=]\s*([^\s,;]+)`)
)

// ErrSessionEnded is returned when events are logged against a session that
// has already been closed.
var ErrSessionEnded = errors.New("audit session already ended")

// ErrSessionNotStarted is returned when a zero-value Session is used instead
// of one obtained from Trail.StartSession.
var ErrSessionNotStarted = errors.New("audit session not started")

// Trail writes timestamped evidence files into a single directory. Each
// event becomes its own file so a partial write can never corrupt earlier
// evidence.
type Trail struct {
	dir    string
	logger zerolog.Logger
	now    func() time.Time
}

// NewTrail creates the evidence directory if needed and returns a trail
// rooted there.
func NewTrail(dir string, logger zerolog.Logger) (*Trail, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &Trail{
		dir:    dir,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}, nil
}

// Session is an explicit handle for one evidence session. All events carry
// its id; logging after End fails with ErrSessionEnded.
type Session struct {
	trail   *Trail
	id      string
	task    string
	started time.Time

	mu    sync.Mutex
	ended bool
}

// ID returns the short session identifier.
func (s *Session) ID() string { return s.id }

// StartSession opens a new evidence session and records a session_start
// event.
func (t *Trail) StartSession(task string, config map[string]any) (*Session, error) {
	session := &Session{
		trail:   t,
		id:      uuid.NewString()[:8],
		task:    task,
		started: t.now(),
	}

	data := map[string]any{
		"session_id":       session.id,
		"task_description": task,
		"start_time":       session.started.Format(time.RFC3339Nano),
		"status":           "started",
	}
	if len(config) > 0 {
		data["config"] = config
	}
	if _, err := t.writeEvidence(session.id, "session_start", data); err != nil {
		return nil, err
	}
	return session, nil
}

// LogEvent records one event in the session's evidence trail and returns the
// evidence filename.
func (s *Session) LogEvent(eventType string, eventData map[string]any) (string, error) {
	if s.trail == nil {
		return "", ErrSessionNotStarted
	}

	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return "", ErrSessionEnded
	}

	record := map[string]any{
		"session_id": s.id,
		"timestamp":  s.trail.now().Format(time.RFC3339Nano),
		"event_type": eventType,
		"event_data": eventData,
	}
	return s.trail.writeEvidence(s.id, eventType, record)
}

// LogToolCall records a brokered tool call without exposing parameter
// values: only a stable hash and the sorted key names are stored.
func (s *Session) LogToolCall(provider, action string, ok bool, errText string, meta, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	if meta == nil {
		meta = map[string]any{}
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	name, err := s.LogEvent("tool_call", map[string]any{
		"provider":    provider,
		"action":      action,
		"ok":          ok,
		"error":       RedactSensitiveText(errText),
		"meta":        meta,
		"params_hash": StableHash(params),
		"params_keys": keys,
	})
	if err != nil {
		return "", err
	}

	entry := s.trail.logger.Info().
		Str("event", "tool_call.completed").
		Str("session_id", s.id).
		Str("provider", provider).
		Str("action", action).
		Bool("ok", ok).
		Strs("params_keys", keys)
	if redacted := RedactSensitiveText(errText); redacted != "" {
		entry = entry.Str("error_detail", redacted)
	}
	entry.Msg("tool call completed")

	return name, nil
}

// End closes the session and records a session_end event with the final
// status and total duration. Ending twice is a no-op.
func (s *Session) End(finalStatus string, summary map[string]any) error {
	if s.trail == nil {
		return ErrSessionNotStarted
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.mu.Unlock()

	if summary == nil {
		summary = map[string]any{}
	}
	end := s.trail.now()
	_, err := s.trail.writeEvidence(s.id, "session_end", map[string]any{
		"session_id":       s.id,
		"end_time":         end.Format(time.RFC3339Nano),
		"duration_seconds": end.Sub(s.started).Seconds(),
		"final_status":     finalStatus,
		"summary":          summary,
	})
	return err
}

// SessionFiles returns the evidence filenames recorded for a session id.
func (t *Trail) SessionFiles(sessionID string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(t.dir, "*_"+sessionID+"_*.json"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		names = append(names, filepath.Base(match))
	}
	slices.Sort(names)
	return names, nil
}

// RecentFiles returns up to limit evidence filenames, newest first.
func (t *Trail) RecentFiles(limit int) ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, err
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: entry.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].name > files[j].name
		}
		return files[i].modTime.After(files[j].modTime)
	})

	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, file.name)
	}
	return names, nil
}

func (t *Trail) writeEvidence(sessionID, eventType string, data map[string]any) (string, error) {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode evidence: %w", err)
	}

	stamp := t.now().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s_%s.json", stamp, sessionID, eventType)
	// Same-second events of one type get a numeric suffix instead of
	// overwriting earlier evidence.
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(t.dir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s_%s_%s-%d.json", stamp, sessionID, eventType, i)
	}

	if err := os.WriteFile(filepath.Join(t.dir, name), payload, 0o600); err != nil {
		return "", fmt.Errorf("write evidence file: %w", err)
	}
	return name, nil
}

// StableHash returns a short deterministic digest of a JSON-encodable value.
// Map keys are encoded in sorted order, so equal values always hash equal.
func StableHash(data any) string {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte(fmt.Sprint(data))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

// RedactSensitiveText removes obvious secrets from free-text error details.
func RedactSensitiveText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	redacted := bearerTokenPattern.ReplaceAllString(trimmed, "Bearer [REDACTED]")
	redacted = keyValuePattern.ReplaceAllStringFunc(redacted, func(match string) string {
		parts := strings.SplitN(match, ":", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s: [REDACTED]", strings.TrimSpace(parts[0]))
		}
		parts = strings.SplitN(match, "=", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s=[REDACTED]", strings.TrimSpace(parts[0]))
		}
		return "[REDACTED]"
	})
	return redacted
}
