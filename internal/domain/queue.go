package domain

import (
	"context"
	"time"
)

// QueueMessage is the envelope wrapping a serialized LogEvent between the
// gateway and the workers. Receipt is the broker-specific handle used to
// settle the message; it is opaque outside the queue adapter.
type QueueMessage struct {
	Payload         []byte
	DeliveryAttempt int
	EnqueuedAt      time.Time

	// MaxDeliveries is stamped at enqueue from tenant configuration.
	// Zero means the adapter's default ceiling applies.
	MaxDeliveries int

	// PartitionKey scopes per-partition ordering; the gateway sets it to
	// the tenant ID.
	PartitionKey string

	Receipt string
}

// Queue is a durable, at-least-once, ordered-per-tenant-partition buffer
// between ingestion and processing. Implementations must guarantee that an
// acknowledged enqueue is eventually delivered to some consumer, possibly
// more than once.
type Queue interface {
	// Enqueue durably appends a message. Returns ErrQueueUnavailable if
	// the broker cannot accept writes.
	Enqueue(ctx context.Context, msg *QueueMessage) error

	// Consume blocks until a message is available or ctx is cancelled.
	Consume(ctx context.Context) (*QueueMessage, error)

	// Ack removes the message from the redelivery pool.
	Ack(ctx context.Context, msg *QueueMessage) error

	// Nack returns the message to the pool for retry after a backoff,
	// incrementing its delivery attempt. A message past its delivery
	// ceiling is routed to the dead-letter channel instead.
	Nack(ctx context.Context, msg *QueueMessage) error

	// DeadLetter routes the message to the dead-letter channel and
	// settles it. Dead-lettered messages are preserved for inspection.
	DeadLetter(ctx context.Context, msg *QueueMessage, reason string) error
}
