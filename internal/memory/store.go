package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	indexFileName = "INDEX.jsonl"
	remoteTimeout = 10 * time.Second
	remoteProject = "toolbroker"
)

// Remote status values in a StorageOutcome.
const (
	RemoteSuccess = "success"
	RemoteFailure = "failure"
	RemoteSkipped = "skipped"
)

// Value-bearing patterns run before name patterns so a secret assignment
// like api_key=sk-123 loses its value, not just its name.
var (
	bearerPattern = regexp.MustCompile(`(?i)Authorization:\s*Bearer\s+[A-Za-z0-9\-._~+/]+`)
	paramPatterns = []struct {
		re    *regexp.Regexp
		label string
	}{
		{regexp.MustCompile(`(?i)password=[^&\s]+`), "password"},
		{regexp.MustCompile(`(?i)api_key=[^&\s]+`), "api_key"},
		{regexp.MustCompile(`(?i)token=[^&\s]+`), "token"},
	}
	// The leading group keeps names inside an earlier [REDACTED:...] marker
	// from being re-matched.
	envNamePatterns = []struct {
		re    *regexp.Regexp
		label string
	}{
		{regexp.MustCompile(`(?i)(^|[^:A-Za-z0-9_])([A-Z0-9_]+_KEY)\b`), "KEY"},
		{regexp.MustCompile(`(?i)(^|[^:A-Za-z0-9_])([A-Z0-9_]+_TOKEN)\b`), "TOKEN"},
		{regexp.MustCompile(`(?i)(^|[^:A-Za-z0-9_])([A-Z0-9_]+_SECRET)\b`), "SECRET"},
		{regexp.MustCompile(`(?i)(^|[^:A-Za-z0-9_])([A-Z0-9_]+_PASSWORD)\b`), "PASSWORD"},
	}
)

// RemoteConfig points replication at a remote memory service. Both fields
// must be set for replication to run.
type RemoteConfig struct {
	URL    string
	APIKey string
}

func (c RemoteConfig) configured() bool {
	return c.URL != "" && c.APIKey != ""
}

// IndexEntry is one line of the append-only INDEX.jsonl audit trail.
type IndexEntry struct {
	Timestamp string   `json:"timestamp"`
	File      string   `json:"file"`
	Type      Type     `json:"type"`
	Tags      []string `json:"tags"`
	Summary   string   `json:"summary"`
}

// StorageOutcome reports what happened to one Save call. Remote replication
// is best-effort: its failure never undoes a local success.
type StorageOutcome struct {
	LocalPath    string     `json:"local_path"`
	Redacted     bool       `json:"redacted"`
	RemoteStatus string     `json:"remote_status"`
	RemoteError  string     `json:"remote_error,omitempty"`
	IndexEntry   IndexEntry `json:"index_entry"`
}

// StorageStatus summarizes the local store.
type StorageStatus struct {
	Writable    bool   `json:"writable"`
	Directory   string `json:"directory"`
	IndexPath   string `json:"index_file"`
	IndexExists bool   `json:"index_exists"`
	RecordCount int    `json:"record_count"`
}

// Store persists memory records under one directory. Record files are
// written via temp file + rename so a crash never leaves a half-written
// record under its final name.
type Store struct {
	dir       string
	indexPath string
	remote    RemoteConfig
	logger    zerolog.Logger
	client    *http.Client
	now       func() time.Time

	// rename is a seam for simulating publish failures in tests.
	rename func(oldpath, newpath string) error
}

// NewStore creates the memory directory with owner-only permissions and
// returns a store rooted there.
func NewStore(dir string, remote RemoteConfig, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Store{
		dir:       dir,
		indexPath: filepath.Join(dir, indexFileName),
		remote:    remote,
		logger:    logger.With().Str("component", "memory").Logger(),
		client:    &http.Client{Timeout: remoteTimeout},
		now:       time.Now,
		rename:    os.Rename,
	}, nil
}

// RedactSecrets scrubs secret-shaped substrings from text. The replacement
// is deterministic so redacted records stay byte-for-byte comparable.
func RedactSecrets(text string) string {
	redacted := bearerPattern.ReplaceAllString(text, "Authorization: Bearer [REDACTED:TOKEN]")
	for _, pattern := range paramPatterns {
		redacted = pattern.re.ReplaceAllString(redacted, fmt.Sprintf("%s=[REDACTED:%s]", pattern.label, strings.ToUpper(pattern.label)))
	}
	for _, pattern := range envNamePatterns {
		redacted = pattern.re.ReplaceAllString(redacted, fmt.Sprintf("${1}[REDACTED:%s]", pattern.label))
	}
	return redacted
}

// Save validates, redacts, and persists a record locally, appends it to the
// index, then replicates to the remote if configured. Validation or local
// write failure aborts the whole save; remote failure is reported in the
// outcome only.
func (s *Store) Save(ctx context.Context, record Record) (StorageOutcome, error) {
	if err := Validate(record); err != nil {
		return StorageOutcome{}, err
	}

	redacted, err := redactRecord(record)
	if err != nil {
		// Fail closed: nothing is persisted if redaction cannot be trusted.
		return StorageOutcome{}, err
	}

	payload, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return StorageOutcome{}, fmt.Errorf("encode record: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", s.now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)
	if err := s.writeAtomic(path, payload); err != nil {
		return StorageOutcome{}, fmt.Errorf("local storage failed: %w", err)
	}

	entry := IndexEntry{
		Timestamp: s.now().Format(time.RFC3339Nano),
		File:      path,
		Type:      redacted.Type,
		Tags:      redacted.Tags,
		Summary:   truncate(redacted.Summary, 100),
	}
	if err := s.appendIndex(entry); err != nil {
		return StorageOutcome{}, fmt.Errorf("index append failed: %w", err)
	}

	outcome := StorageOutcome{
		LocalPath:    path,
		Redacted:     true,
		RemoteStatus: RemoteSkipped,
		IndexEntry:   entry,
	}

	if s.remote.configured() {
		if err := s.replicate(ctx, redacted); err != nil {
			outcome.RemoteStatus = RemoteFailure
			outcome.RemoteError = err.Error()
			s.logger.Warn().Err(err).Str("record_id", redacted.ID).Msg("remote replication failed")
		} else {
			outcome.RemoteStatus = RemoteSuccess
		}
	}
	return outcome, nil
}

// Recent returns up to limit index entries, newest first. When tags are
// given, only entries carrying every one of them are returned.
func (s *Store) Recent(limit int, tags []string) ([]IndexEntry, error) {
	file, err := os.Open(s.indexPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer file.Close()

	var entries []IndexEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry IndexEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// Corrupt lines are skipped, not fatal.
			continue
		}
		if hasAllTags(entry.Tags, tags) {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Status reports whether the store is usable and how many records it holds.
func (s *Store) Status() StorageStatus {
	_, statErr := os.Stat(s.indexPath)
	entries, _ := s.Recent(0, nil)
	return StorageStatus{
		Writable:    s.writable(),
		Directory:   s.dir,
		IndexPath:   s.indexPath,
		IndexExists: statErr == nil,
		RecordCount: len(entries),
	}
}

func (s *Store) writable() bool {
	marker := filepath.Join(s.dir, ".writable_test_"+uuid.NewString())
	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		return false
	}
	return os.Remove(marker) == nil
}

func (s *Store) writeAtomic(path string, content []byte) error {
	tmp := path + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return err
	}
	if err := s.rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) appendIndex(entry IndexEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(s.indexPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}
	return file.Sync()
}

// replicate POSTs the redacted record to the remote service, retrying once.
func (s *Store) replicate(ctx context.Context, record Record) error {
	body, err := json.Marshal(map[string]any{
		"record":  record,
		"project": remoteProject,
	})
	if err != nil {
		return fmt.Errorf("encode remote payload: %w", err)
	}

	return retry.New(
		retry.Context(ctx),
		retry.Attempts(2),
	).Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.remote.URL+"/store", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.remote.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("remote store returned status %d", resp.StatusCode)
		}
		return nil
	})
}

func redactRecord(record Record) (Record, error) {
	redacted := record
	var err error

	if redacted.Summary, err = redactField("summary", record.Summary); err != nil {
		return Record{}, err
	}
	if redacted.Task, err = redactField("task", record.Task); err != nil {
		return Record{}, err
	}

	redacted.Sources = make([]string, len(record.Sources))
	for i, source := range record.Sources {
		if redacted.Sources[i], err = redactField("sources", source); err != nil {
			return Record{}, err
		}
	}
	redacted.Tags = make([]string, len(record.Tags))
	for i, tag := range record.Tags {
		if redacted.Tags[i], err = redactField("tags", tag); err != nil {
			return Record{}, err
		}
	}
	return redacted, nil
}

func redactField(field, value string) (string, error) {
	redacted := RedactSecrets(value)
	if value != "" && redacted == "" {
		return "", fmt.Errorf("redaction failed for field %q: produced empty string", field)
	}
	return redacted, nil
}

func hasAllTags(have, want []string) bool {
	for _, tag := range want {
		found := false
		for _, candidate := range have {
			if candidate == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
