package domain

import (
	"time"

	"github.com/google/uuid"
)

// Fingerprint is the deterministic grouping key derived from an event's
// normalized error signature. Events with equal fingerprints belong to
// the same ErrorGroup.
type Fingerprint string

// GroupStatus is set externally (by the dashboard) and consumed here only
// as a gate for alerting.
type GroupStatus string

const (
	GroupStatusOpen     GroupStatus = "open"
	GroupStatusResolved GroupStatus = "resolved"
	GroupStatusMuted    GroupStatus = "muted"
)

// ErrorGroup aggregates all events sharing a fingerprint. It is keyed by
// (tenant_id, fingerprint) and updated via conditional updates against the
// durable sink: Version is the compare-and-swap token. The pipeline never
// deletes groups; archival is an external retention concern.
type ErrorGroup struct {
	TenantID    uuid.UUID   `json:"tenant_id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
	EventCount  int64       `json:"event_count"`

	// SampleEventID references one representative event. It is replaced
	// when a newer event (by ReceivedAt) arrives for the group.
	SampleEventID    uuid.UUID `json:"sample_event_id"`
	SampleReceivedAt time.Time `json:"sample_received_at"`

	Status      GroupStatus `json:"status"`
	RuleVersion int         `json:"rule_version"`
	Version     int64       `json:"version"`
}
