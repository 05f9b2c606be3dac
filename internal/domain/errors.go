package domain

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Handlers and workers branch on these with
// errors.Is; everything else is treated as transient.
var (
	// ErrQueueUnavailable means the queue cannot accept writes. The
	// gateway surfaces it to the caller as a retryable condition instead
	// of dropping events.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrTransientSinkFailure marks a sink operation that should be
	// retried via redelivery.
	ErrTransientSinkFailure = errors.New("transient sink failure")

	// ErrPayloadCorrupted marks a message that can never be processed;
	// it is acknowledged and dead-lettered, not retried.
	ErrPayloadCorrupted = errors.New("payload corrupted")

	// ErrGroupUpdateConflict is returned by conditional updates when the
	// expected version no longer matches. Callers resolve it with a
	// local retry; it is never surfaced.
	ErrGroupUpdateConflict = errors.New("group update conflict")

	// ErrNotificationDelivery marks a failed notification send. Logged,
	// never blocks pipeline progress.
	ErrNotificationDelivery = errors.New("notification delivery failed")

	// ErrNotFound is returned by store reads for absent records.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when an API key does not resolve to a
	// tenant.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError rejects a single event within a batch. It is
// caller-visible and non-fatal to sibling events.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}
