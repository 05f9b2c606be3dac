package domain

import (
	"time"

	"github.com/google/uuid"
)

// AlertState tracks notification history per (tenant_id, fingerprint).
// Absence of a record means "never notified". Version is the
// compare-and-swap token used to claim the right to notify.
type AlertState struct {
	TenantID        uuid.UUID   `json:"tenant_id"`
	Fingerprint     Fingerprint `json:"fingerprint"`
	LastNotifiedAt  time.Time   `json:"last_notified_at"`
	SuppressedUntil time.Time   `json:"suppressed_until"`

	// SuppressedCount counts qualifying events that fell inside the
	// suppression window; surfaced to the dashboard.
	SuppressedCount int64 `json:"suppressed_count"`

	Version int64 `json:"version"`
}

// GroupSummary is the payload handed to the notification sink when an
// alert fires.
type GroupSummary struct {
	TenantID    uuid.UUID   `json:"tenant_id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Message     string      `json:"message"`
	Severity    Severity    `json:"severity"`
	EventCount  int64       `json:"event_count"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
}
