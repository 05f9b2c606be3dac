package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventStore is the raw-event side of the durable sink. Writes are
// idempotent on event ID so redeliveries are harmless.
type EventStore interface {
	WriteEvent(ctx context.Context, event *LogEvent) error
}

// GroupStore is the error-group side of the durable sink. All cross-worker
// coordination happens through its conditional-update primitive; workers
// never hold in-process locks on shared state.
type GroupStore interface {
	// GetGroup returns the group for (tenantID, fp) or ErrNotFound.
	GetGroup(ctx context.Context, tenantID uuid.UUID, fp Fingerprint) (*ErrorGroup, error)

	// CreateGroup inserts a new group with Version 1. Returns
	// ErrGroupUpdateConflict if another worker created it first.
	CreateGroup(ctx context.Context, group *ErrorGroup) error

	// UpdateGroup applies the new state only if the stored version still
	// equals expectedVersion; otherwise ErrGroupUpdateConflict.
	UpdateGroup(ctx context.Context, group *ErrorGroup, expectedVersion int64) error

	// ClaimEventIdentity records that an event identity has been counted.
	// Returns false if the identity was already claimed (a redelivery).
	// The record expires at expiresAt, which must be at least as far out
	// as the queue's maximum redelivery window.
	ClaimEventIdentity(ctx context.Context, tenantID uuid.UUID, identity string, expiresAt time.Time) (bool, error)

	// ReleaseEventIdentity undoes a claim whose group update could not be
	// completed, so the redelivered message counts normally.
	ReleaseEventIdentity(ctx context.Context, tenantID uuid.UUID, identity string) error

	// PruneExpiredIdentities removes idempotency records past their
	// expiry. Invoked by the retention hook.
	PruneExpiredIdentities(ctx context.Context, now time.Time) (int64, error)
}

// AlertStateStore persists per-(tenant, fingerprint) notification state
// with the same conditional-update contract as GroupStore.
type AlertStateStore interface {
	// GetAlertState returns the state or ErrNotFound if never notified.
	GetAlertState(ctx context.Context, tenantID uuid.UUID, fp Fingerprint) (*AlertState, error)

	// PutAlertState writes the state. expectedVersion 0 means
	// create-if-absent; a mismatch returns ErrGroupUpdateConflict.
	PutAlertState(ctx context.Context, state *AlertState, expectedVersion int64) error
}

// TenantStore resolves API keys and per-tenant configuration.
type TenantStore interface {
	// ResolveAPIKey maps an API key to its tenant, or ErrUnauthorized.
	ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error)

	// Config returns the tenant's pipeline configuration with defaults
	// applied for unset fields.
	Config(ctx context.Context, tenantID uuid.UUID) (*TenantConfig, error)
}

// Notifier is the external notification delivery collaborator.
type Notifier interface {
	Send(ctx context.Context, summary *GroupSummary) error
}
