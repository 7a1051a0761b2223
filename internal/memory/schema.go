// Package memory persists durable agent memory records with fail-closed
// secret redaction, atomic local writes, and best-effort remote replication.
package memory

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Type classifies what kind of knowledge a record captures.
type Type string

const (
	TypeDecision Type = "decision"
	TypeGotcha   Type = "gotcha"
	TypePattern  Type = "pattern"
	TypeIncident Type = "incident"
	TypeMapping  Type = "mapping"
)

// KnownTypes returns every valid record type.
func KnownTypes() []Type {
	return []Type{TypeDecision, TypeGotcha, TypePattern, TypeIncident, TypeMapping}
}

const (
	maxSummaryLength = 500
	maxSourceLength  = 500
	maxTagLength     = 50
)

// Record is one durable memory entry.
type Record struct {
	ID         string   `json:"id"`
	Type       Type     `json:"type"`
	Summary    string   `json:"summary"`
	Sources    []string `json:"sources"`
	Date       string   `json:"date"`
	Tags       []string `json:"tags"`
	Task       string   `json:"task,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ValidationError carries every schema violation found in a record.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record validation failed: %s", strings.Join(e.Violations, "; "))
}

// Validate checks a record against the schema and reports every violation at
// once rather than stopping at the first.
func Validate(record Record) error {
	var violations []string

	if strings.TrimSpace(record.ID) == "" {
		violations = append(violations, "missing required field: id")
	}
	if record.Type == "" {
		violations = append(violations, "missing required field: type")
	} else if !validType(record.Type) {
		violations = append(violations, fmt.Sprintf("invalid type %q", record.Type))
	}

	if strings.TrimSpace(record.Summary) == "" {
		violations = append(violations, "missing required field: summary")
	} else if count := utf8.RuneCountInString(record.Summary); count > maxSummaryLength {
		violations = append(violations, fmt.Sprintf("summary too long: %d chars (max %d)", count, maxSummaryLength))
	}

	if len(record.Sources) == 0 {
		violations = append(violations, "sources cannot be empty")
	}
	for _, source := range record.Sources {
		if utf8.RuneCountInString(source) > maxSourceLength {
			violations = append(violations, fmt.Sprintf("source too long: %.50s...", source))
		}
		if strings.ContainsAny(source, "<>|&") {
			violations = append(violations, fmt.Sprintf("unsafe characters in source: %s", source))
		}
	}

	if len(record.Tags) == 0 {
		violations = append(violations, "tags cannot be empty")
	}
	for _, tag := range record.Tags {
		if utf8.RuneCountInString(tag) > maxTagLength {
			violations = append(violations, fmt.Sprintf("tag too long: %.30s...", tag))
		}
		if strings.ContainsAny(tag, " \n\t") {
			violations = append(violations, fmt.Sprintf("invalid whitespace in tag: %q", tag))
		}
	}

	if strings.TrimSpace(record.Date) == "" {
		violations = append(violations, "missing required field: date")
	} else if !validDate(record.Date) {
		violations = append(violations, fmt.Sprintf("invalid date format: %s (must be ISO 8601)", record.Date))
	}

	if record.Confidence != nil && (*record.Confidence < 0 || *record.Confidence > 1) {
		violations = append(violations, fmt.Sprintf("confidence must be between 0.0 and 1.0, got %v", *record.Confidence))
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// BuildRecord assembles and validates a record from user input. Tags are
// lowercased and all text fields trimmed.
func BuildRecord(task, summary string, sources, tags []string, recordType Type, confidence *float64) (Record, error) {
	cleanSources := make([]string, 0, len(sources))
	for _, source := range sources {
		cleanSources = append(cleanSources, strings.TrimSpace(source))
	}
	cleanTags := make([]string, 0, len(tags))
	for _, tag := range tags {
		cleanTags = append(cleanTags, strings.ToLower(strings.TrimSpace(tag)))
	}

	record := Record{
		ID:         uuid.NewString(),
		Type:       recordType,
		Summary:    strings.TrimSpace(summary),
		Sources:    cleanSources,
		Date:       time.Now().UTC().Format(time.RFC3339),
		Tags:       cleanTags,
		Task:       strings.TrimSpace(task),
		Confidence: confidence,
	}
	if err := Validate(record); err != nil {
		return Record{}, err
	}
	return record, nil
}

func validType(t Type) bool {
	for _, known := range KnownTypes() {
		if t == known {
			return true
		}
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func validDate(date string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, date); err == nil {
			return true
		}
	}
	return false
}
