// Package memqueue is an in-process domain.Queue with the same delivery
// contract as the broker-backed adapters: at-least-once, redelivery with
// backoff on Nack, dead-lettering past the delivery ceiling. It backs
// tests and local development.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/user/error-pipeline/internal/domain"
)

// DeadLetter is a preserved record of a terminally failed message.
type DeadLetter struct {
	Message *domain.QueueMessage
	Reason  string
	At      time.Time
}

type Queue struct {
	ch             chan *domain.QueueMessage
	defaultCeiling int
	backoff        time.Duration

	mu      sync.Mutex
	dead    []DeadLetter
	pending sync.WaitGroup
}

// New creates a queue with the given buffer capacity. A full buffer makes
// Enqueue fail with ErrQueueUnavailable, which is the backpressure signal:
// memory stays bounded under burst load.
func New(capacity, defaultCeiling int, backoff time.Duration) *Queue {
	return &Queue{
		ch:             make(chan *domain.QueueMessage, capacity),
		defaultCeiling: defaultCeiling,
		backoff:        backoff,
	}
}

func (q *Queue) Enqueue(ctx context.Context, msg *domain.QueueMessage) error {
	if msg.DeliveryAttempt == 0 {
		msg.DeliveryAttempt = 1
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return domain.ErrQueueUnavailable
	}
}

func (q *Queue) Consume(ctx context.Context) (*domain.QueueMessage, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) Ack(ctx context.Context, msg *domain.QueueMessage) error {
	return nil
}

func (q *Queue) Nack(ctx context.Context, msg *domain.QueueMessage) error {
	ceiling := msg.MaxDeliveries
	if ceiling == 0 {
		ceiling = q.defaultCeiling
	}
	if msg.DeliveryAttempt >= ceiling {
		return q.DeadLetter(ctx, msg, "delivery ceiling exceeded")
	}

	msg.DeliveryAttempt++
	q.pending.Add(1)
	time.AfterFunc(q.backoff, func() {
		defer q.pending.Done()
		select {
		case q.ch <- msg:
		default:
			// Buffer full on redelivery: keep the message rather than
			// lose it, even if that momentarily overshoots capacity.
			go func() { q.ch <- msg }()
		}
	})
	return nil
}

func (q *Queue) DeadLetter(ctx context.Context, msg *domain.QueueMessage, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DeadLetter{Message: msg, Reason: reason, At: time.Now().UTC()})
	return nil
}

// DeadLetters returns a snapshot of the dead-letter channel.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Depth returns the number of buffered messages.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// WaitForRedeliveries blocks until scheduled redeliveries have been
// re-buffered. Test helper.
func (q *Queue) WaitForRedeliveries() {
	q.pending.Wait()
}
