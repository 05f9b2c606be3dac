// Package kafkaqueue implements domain.Queue on Kafka with the
// retry-republish pattern: a Nack produces the message to a retry topic
// with its attempt counter incremented and commits the original, and a
// message past its delivery ceiling is produced to a dead-letter topic.
// Every settle path ends in an offset commit, so redelivery never depends
// on uncommitted offsets and commit ordering does not affect correctness.
package kafkaqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/user/error-pipeline/internal/domain"
)

const (
	headerAttempt       = "delivery_attempt"
	headerMaxDeliveries = "max_deliveries"
	headerEnqueuedAt    = "enqueued_at"
	headerNotBefore     = "retry_not_before"
	headerReason        = "dead_letter_reason"
)

type Queue struct {
	writer         *kafka.Writer
	retryWriter    *kafka.Writer
	dlqWriter      *kafka.Writer
	reader         *kafka.Reader
	defaultCeiling int
	retryBackoff   time.Duration
	logger         *slog.Logger

	// now is swapped in tests.
	now func() time.Time

	// fetchMu serializes FetchMessage for pool consumers sharing this
	// adapter; the reader is not safe for concurrent fetches.
	fetchMu sync.Mutex

	mu      sync.Mutex
	pending map[string]kafka.Message
}

// Config carries the broker wiring for the Kafka adapter.
type Config struct {
	Brokers        []string
	Topic          string
	RetryTopic     string
	DLQTopic       string
	ConsumerGroup  string
	DefaultCeiling int
	RetryBackoff   time.Duration
}

func New(cfg Config, logger *slog.Logger) *Queue {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.ConsumerGroup,
		GroupTopics: []string{cfg.Topic, cfg.RetryTopic},
	})
	return &Queue{
		writer:         newWriter(cfg.Topic),
		retryWriter:    newWriter(cfg.RetryTopic),
		dlqWriter:      newWriter(cfg.DLQTopic),
		reader:         reader,
		defaultCeiling: cfg.DefaultCeiling,
		retryBackoff:   cfg.RetryBackoff,
		logger:         logger.With("component", "kafka_queue"),
		now:            time.Now,
		pending:        make(map[string]kafka.Message),
	}
}

func (q *Queue) Enqueue(ctx context.Context, msg *domain.QueueMessage) error {
	km := kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: headerAttempt, Value: []byte("1")},
			{Key: headerMaxDeliveries, Value: []byte(strconv.Itoa(msg.MaxDeliveries))},
			{Key: headerEnqueuedAt, Value: []byte(msg.EnqueuedAt.Format(time.RFC3339Nano))},
		},
	}
	if err := q.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("%w: produce: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *Queue) Consume(ctx context.Context) (*domain.QueueMessage, error) {
	q.fetchMu.Lock()
	km, err := q.reader.FetchMessage(ctx)
	q.fetchMu.Unlock()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fetch: %v", domain.ErrQueueUnavailable, err)
	}

	// Retry-topic messages carry a not-before stamp. Hold the message
	// until the backoff elapses; a cancelled wait leaves the offset
	// uncommitted, so the group redelivers it.
	if wait := q.retryWait(km); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	msg := q.decode(km)
	q.mu.Lock()
	q.pending[msg.Receipt] = km
	q.mu.Unlock()
	return msg, nil
}

func (q *Queue) retryWait(km kafka.Message) time.Duration {
	for _, h := range km.Headers {
		if h.Key != headerNotBefore {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
			return t.Sub(q.now())
		}
	}
	return 0
}

func (q *Queue) Ack(ctx context.Context, msg *domain.QueueMessage) error {
	km, ok := q.take(msg.Receipt)
	if !ok {
		return fmt.Errorf("no pending message for receipt %s", msg.Receipt)
	}
	if err := q.reader.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
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

	km, ok := q.take(msg.Receipt)
	if !ok {
		return fmt.Errorf("no pending message for receipt %s", msg.Receipt)
	}

	retry := kafka.Message{
		Key:   km.Key,
		Value: km.Value,
		Headers: []kafka.Header{
			{Key: headerAttempt, Value: []byte(strconv.Itoa(msg.DeliveryAttempt + 1))},
			{Key: headerMaxDeliveries, Value: []byte(strconv.Itoa(msg.MaxDeliveries))},
			{Key: headerEnqueuedAt, Value: []byte(msg.EnqueuedAt.Format(time.RFC3339Nano))},
			{Key: headerNotBefore, Value: []byte(q.now().Add(q.retryBackoff).Format(time.RFC3339Nano))},
		},
	}
	// Republish before committing: if the produce fails the original
	// offset stays uncommitted and the partition redelivers it.
	if err := q.retryWriter.WriteMessages(ctx, retry); err != nil {
		q.restore(msg.Receipt, km)
		return fmt.Errorf("%w: retry produce: %v", domain.ErrQueueUnavailable, err)
	}
	if err := q.reader.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("commit after retry produce: %w", err)
	}
	return nil
}

func (q *Queue) DeadLetter(ctx context.Context, msg *domain.QueueMessage, reason string) error {
	km, ok := q.take(msg.Receipt)
	if !ok {
		return fmt.Errorf("no pending message for receipt %s", msg.Receipt)
	}

	dead := kafka.Message{
		Key:   km.Key,
		Value: km.Value,
		Headers: []kafka.Header{
			{Key: headerAttempt, Value: []byte(strconv.Itoa(msg.DeliveryAttempt))},
			{Key: headerReason, Value: []byte(reason)},
		},
	}
	if err := q.dlqWriter.WriteMessages(ctx, dead); err != nil {
		q.restore(msg.Receipt, km)
		return fmt.Errorf("%w: dead-letter produce: %v", domain.ErrQueueUnavailable, err)
	}
	if err := q.reader.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("commit after dead-letter produce: %w", err)
	}
	return nil
}

// Close releases the reader and writers.
func (q *Queue) Close() error {
	var errs []error
	errs = append(errs, q.reader.Close(), q.writer.Close(), q.retryWriter.Close(), q.dlqWriter.Close())
	return errors.Join(errs...)
}

func (q *Queue) decode(km kafka.Message) *domain.QueueMessage {
	msg := &domain.QueueMessage{
		Payload:         km.Value,
		DeliveryAttempt: 1,
		PartitionKey:    string(km.Key),
		Receipt:         fmt.Sprintf("%s/%d/%d", km.Topic, km.Partition, km.Offset),
	}
	for _, h := range km.Headers {
		switch h.Key {
		case headerAttempt:
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				msg.DeliveryAttempt = n
			}
		case headerMaxDeliveries:
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				msg.MaxDeliveries = n
			}
		case headerEnqueuedAt:
			if t, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				msg.EnqueuedAt = t
			}
		}
	}
	return msg
}

func (q *Queue) take(receipt string) (kafka.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	km, ok := q.pending[receipt]
	if ok {
		delete(q.pending, receipt)
	}
	return km, ok
}

func (q *Queue) restore(receipt string, km kafka.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[receipt] = km
}
