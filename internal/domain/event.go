package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity is the reported importance of a log event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

var severityRank = map[Severity]int{
	SeverityDebug:   0,
	SeverityInfo:    1,
	SeverityWarning: 2,
	SeverityError:   3,
	SeverityFatal:   4,
}

// ParseSeverity validates and canonicalizes a severity string.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(s)
	_, ok := severityRank[sev]
	return sev, ok
}

// AtLeast reports whether s is at or above the given threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return severityRank[s] >= severityRank[threshold]
}

// StackFrame is a single entry of a reported stack trace.
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// LogEvent is the canonical error event flowing through the pipeline.
// It is immutable once admitted by the gateway: everything after enqueue
// (fingerprinting, grouping, the sink write) only reads it.
type LogEvent struct {
	ID              uuid.UUID      `json:"event_id"`
	TenantID        uuid.UUID      `json:"tenant_id"`
	ReceivedAt      time.Time      `json:"received_at"`
	ClientTimestamp time.Time      `json:"client_timestamp"`
	Severity        Severity       `json:"severity"`
	Message         string         `json:"message"`
	StackTrace      []StackFrame   `json:"stack_trace"`
	Environment     string         `json:"environment,omitempty"`
	ReleaseVersion  string         `json:"release_version,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	Context         map[string]any `json:"context,omitempty"`

	// Identity is a content hash of the raw submitted payload. It is the
	// idempotency key: a redelivered copy of the same submission carries
	// the same Identity and must not be double-counted.
	Identity string `json:"identity"`

	// RuleVersion pins the fingerprint normalization rule set that was
	// active when the event was admitted, so every redelivery computes
	// the same fingerprint.
	RuleVersion int `json:"rule_version"`
}
