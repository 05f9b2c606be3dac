package kafkaqueue

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestDecode(t *testing.T) {
	q := &Queue{pending: make(map[string]kafka.Message)}
	enqueued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	msg := q.decode(kafka.Message{
		Topic:     "events",
		Partition: 2,
		Offset:    41,
		Key:       []byte("tenant-a"),
		Value:     []byte(`{"message":"boom"}`),
		Headers: []kafka.Header{
			{Key: headerAttempt, Value: []byte("3")},
			{Key: headerMaxDeliveries, Value: []byte("5")},
			{Key: headerEnqueuedAt, Value: []byte(enqueued.Format(time.RFC3339Nano))},
		},
	})

	if msg.Receipt != "events/2/41" {
		t.Errorf("unexpected receipt %q", msg.Receipt)
	}
	if msg.DeliveryAttempt != 3 {
		t.Errorf("expected attempt 3, got %d", msg.DeliveryAttempt)
	}
	if msg.MaxDeliveries != 5 {
		t.Errorf("expected max_deliveries 5, got %d", msg.MaxDeliveries)
	}
	if msg.PartitionKey != "tenant-a" {
		t.Errorf("unexpected partition key %q", msg.PartitionKey)
	}
	if !msg.EnqueuedAt.Equal(enqueued) {
		t.Errorf("unexpected enqueued_at %v", msg.EnqueuedAt)
	}
}

func TestDecode_HeaderlessMessageDefaultsToFirstAttempt(t *testing.T) {
	q := &Queue{pending: make(map[string]kafka.Message)}
	msg := q.decode(kafka.Message{Topic: "events", Value: []byte("{}")})
	if msg.DeliveryAttempt != 1 {
		t.Errorf("expected attempt 1, got %d", msg.DeliveryAttempt)
	}
}

func TestPendingTakeRestore(t *testing.T) {
	q := &Queue{pending: make(map[string]kafka.Message)}
	km := kafka.Message{Topic: "events", Partition: 1, Offset: 9}

	q.restore("events/1/9", km)
	got, ok := q.take("events/1/9")
	if !ok || got.Offset != 9 {
		t.Fatalf("expected to take the pending message back, ok=%v", ok)
	}
	if _, ok := q.take("events/1/9"); ok {
		t.Error("a taken receipt must not be takeable twice")
	}
}

func TestRetryWait_HoldsRepublishedMessagesForTheBackoff(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q := &Queue{now: func() time.Time { return clock }}

	stamped := func(notBefore time.Time) kafka.Message {
		return kafka.Message{Headers: []kafka.Header{
			{Key: headerNotBefore, Value: []byte(notBefore.Format(time.RFC3339Nano))},
		}}
	}

	if wait := q.retryWait(stamped(clock.Add(5 * time.Second))); wait != 5*time.Second {
		t.Errorf("expected a 5s hold, got %v", wait)
	}
	if wait := q.retryWait(stamped(clock.Add(-time.Second))); wait > 0 {
		t.Errorf("an elapsed stamp must not hold the message, got %v", wait)
	}
	if wait := q.retryWait(kafka.Message{}); wait != 0 {
		t.Errorf("first deliveries carry no stamp and must not wait, got %v", wait)
	}
}
