// Package redisqueue implements domain.Queue on Redis Streams with
// consumer groups. Redelivery uses the pending-entries list: a message
// that is never acknowledged is reclaimed with XAUTOCLAIM once it has
// been idle for the backoff interval, and its delivery attempt comes from
// the pending entry's retry counter.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/error-pipeline/internal/domain"
)

const (
	readBlock = 2 * time.Second
)

type Queue struct {
	client         *redis.Client
	stream         string
	dlqStream      string
	group          string
	consumer       string
	defaultCeiling int
	backoff        time.Duration
	logger         *slog.Logger

	// mu serializes reads so pool consumers sharing this adapter do not
	// race on the claim cursor.
	mu          sync.Mutex
	claimCursor string
}

// New creates the queue and ensures the consumer group exists. A missing
// broker at startup is not fatal: the group is re-created lazily once the
// broker is reachable.
func New(client *redis.Client, stream, dlqStream, group, consumer string, defaultCeiling int, backoff time.Duration, logger *slog.Logger) *Queue {
	q := &Queue{
		client:         client,
		stream:         stream,
		dlqStream:      dlqStream,
		group:          group,
		consumer:       consumer,
		defaultCeiling: defaultCeiling,
		backoff:        backoff,
		logger:         logger.With("component", "redis_queue"),
		claimCursor:    "0-0",
	}
	if err := q.setupConsumerGroup(context.Background()); err != nil {
		q.logger.Error("failed to setup consumer group, redis may be unavailable on startup", "error", err)
	}
	return q
}

func (q *Queue) setupConsumerGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, msg *domain.QueueMessage) error {
	values := map[string]interface{}{
		"payload":        msg.Payload,
		"enqueued_at":    msg.EnqueuedAt.Format(time.RFC3339Nano),
		"max_deliveries": msg.MaxDeliveries,
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("%w: XADD: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Consume returns the next message: first any pending message whose
// backoff has elapsed, then new entries. Blocks until a message arrives
// or ctx is cancelled.
func (q *Queue) Consume(ctx context.Context) (*domain.QueueMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.mu.Lock()
		msg, err := q.claimRedelivery(ctx)
		q.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		msg, err = q.readNew(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

func (q *Queue) claimRedelivery(ctx context.Context) (*domain.QueueMessage, error) {
	msgs, cursor, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.backoff,
		Start:    q.claimCursor,
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: XAUTOCLAIM: %v", domain.ErrQueueUnavailable, err)
	}
	q.claimCursor = cursor
	if len(msgs) == 0 {
		q.claimCursor = "0-0"
		return nil, nil
	}

	raw := msgs[0]
	msg, err := q.decode(raw)
	if err != nil {
		q.logger.Warn("dead-lettering undecodable stream entry", "error", err, "message_id", raw.ID)
		_ = q.DeadLetter(ctx, &domain.QueueMessage{Receipt: raw.ID}, "undecodable stream entry")
		return nil, nil
	}
	msg.DeliveryAttempt = q.retryCount(ctx, raw.ID)

	ceiling := msg.MaxDeliveries
	if ceiling == 0 {
		ceiling = q.defaultCeiling
	}
	if msg.DeliveryAttempt > ceiling {
		q.logger.Warn("delivery ceiling exceeded, dead-lettering", "message_id", raw.ID, "attempt", msg.DeliveryAttempt)
		if err := q.DeadLetter(ctx, msg, "delivery ceiling exceeded"); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return msg, nil
}

func (q *Queue) readNew(ctx context.Context) (*domain.QueueMessage, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    readBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: XREADGROUP: %v", domain.ErrQueueUnavailable, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	raw := streams[0].Messages[0]
	msg, err := q.decode(raw)
	if err != nil {
		q.logger.Warn("dead-lettering undecodable stream entry", "error", err, "message_id", raw.ID)
		_ = q.DeadLetter(ctx, &domain.QueueMessage{Receipt: raw.ID}, "undecodable stream entry")
		return nil, nil
	}
	msg.DeliveryAttempt = 1
	return msg, nil
}

// retryCount reads the pending-entry retry counter, which Redis bumps on
// every delivery of the entry.
func (q *Queue) retryCount(ctx context.Context, id string) int {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 2 // reclaimed at least once
	}
	return int(pending[0].RetryCount)
}

func (q *Queue) Ack(ctx context.Context, msg *domain.QueueMessage) error {
	if err := q.client.XAck(ctx, q.stream, q.group, msg.Receipt).Err(); err != nil {
		return fmt.Errorf("failed to XACK message %s: %w", msg.Receipt, err)
	}
	return nil
}

// Nack leaves the entry in the pending list; it is redelivered by
// claimRedelivery once the backoff has elapsed, with the retry counter
// incremented by the broker.
func (q *Queue) Nack(ctx context.Context, msg *domain.QueueMessage) error {
	return nil
}

func (q *Queue) DeadLetter(ctx context.Context, msg *domain.QueueMessage, reason string) error {
	args := &redis.XAddArgs{
		Stream: q.dlqStream,
		Values: map[string]interface{}{
			"payload":         msg.Payload,
			"original_stream": q.stream,
			"original_msg_id": msg.Receipt,
			"attempt":         msg.DeliveryAttempt,
			"reason":          reason,
			"failed_at":       time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := q.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to dead-letter stream: %w", err)
	}
	if err := q.client.XAck(ctx, q.stream, q.group, msg.Receipt).Err(); err != nil {
		return fmt.Errorf("failed to XACK dead-lettered message: %w", err)
	}
	return nil
}

func (q *Queue) decode(raw redis.XMessage) (*domain.QueueMessage, error) {
	payload, ok := raw.Values["payload"].(string)
	if !ok {
		return nil, errors.New("missing payload field")
	}
	msg := &domain.QueueMessage{
		Payload: []byte(payload),
		Receipt: raw.ID,
	}
	if v, ok := raw.Values["enqueued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			msg.EnqueuedAt = t
		}
	}
	if v, ok := raw.Values["max_deliveries"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			msg.MaxDeliveries = n
		}
	}
	return msg, nil
}

func isBusyGroupError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
