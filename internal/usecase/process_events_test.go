package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/error-pipeline/internal/adapter/repository/memstore"
	"github.com/user/error-pipeline/internal/domain"
	"github.com/user/error-pipeline/internal/domain/mocks"
	"github.com/user/error-pipeline/internal/fingerprint"
)

type processorFixture struct {
	processor *Processor
	queue     *mocks.MockQueue
	store     *memstore.Store
	events    *mocks.MockEventStore
	notifier  *mocks.MockNotifier
	tenantID  uuid.UUID
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	queue := &mocks.MockQueue{}
	store := memstore.New()
	events := &mocks.MockEventStore{}
	notifier := &mocks.MockNotifier{}
	tenantID := uuid.New()
	tenants := &mocks.MockTenantStore{}
	logger := discardLogger()

	fp := fingerprint.New(fingerprint.NewDefaultRegistry())
	grouper := NewGrouper(store, time.Hour, nil, logger)
	alerts := NewAlertEngine(store, tenants, notifier, time.Second, time.Second, 0, nil, logger)

	return &processorFixture{
		processor: NewProcessor(queue, fp, grouper, events, alerts, 5*time.Second, nil, logger),
		queue:     queue,
		store:     store,
		events:    events,
		notifier:  notifier,
		tenantID:  tenantID,
	}
}

func (f *processorFixture) message(t *testing.T, event *domain.LogEvent) *domain.QueueMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	return &domain.QueueMessage{Payload: payload, DeliveryAttempt: 1, MaxDeliveries: 5}
}

func (f *processorFixture) event() *domain.LogEvent {
	return &domain.LogEvent{
		ID:         uuid.New(),
		TenantID:   f.tenantID,
		ReceivedAt: time.Now().UTC(),
		Severity:   domain.SeverityError,
		Message:    "connection refused to 0x7f3a2b",
		StackTrace: []domain.StackFrame{
			{Function: "db.Connect", File: "db.go", Line: 42},
		},
		Identity:    uuid.NewString(),
		RuleVersion: 1,
	}
}

func TestHandle_SuccessAcks(t *testing.T) {
	f := newProcessorFixture(t)
	msg := f.message(t, f.event())

	if err := f.processor.Handle(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.Acked) != 1 {
		t.Errorf("expected 1 ack, got %d", len(f.queue.Acked))
	}
	if len(f.events.WrittenEvents) != 1 {
		t.Errorf("expected the raw event to be written, got %d", len(f.events.WrittenEvents))
	}
	if f.notifier.SentCount() != 1 {
		t.Errorf("expected an alert for a threshold-severity event, got %d", f.notifier.SentCount())
	}
}

func TestHandle_CorruptPayloadDeadLettersWithoutRetry(t *testing.T) {
	f := newProcessorFixture(t)

	cases := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("{{{")},
		{"missing identity", mustMarshal(t, &domain.LogEvent{ID: uuid.New(), TenantID: uuid.New(), Message: "x"})},
		{"missing message", mustMarshal(t, &domain.LogEvent{ID: uuid.New(), TenantID: uuid.New(), Identity: "id"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &domain.QueueMessage{Payload: tc.payload, DeliveryAttempt: 1}
			if err := f.processor.Handle(context.Background(), msg); err != nil {
				t.Fatal(err)
			}
		})
	}

	if len(f.queue.DeadLettered) != len(cases) {
		t.Errorf("expected %d dead letters, got %d", len(cases), len(f.queue.DeadLettered))
	}
	if len(f.queue.Nacked) != 0 {
		t.Error("corrupt payloads must never be redelivered")
	}
}

func TestHandle_UnknownRuleVersionDeadLetters(t *testing.T) {
	f := newProcessorFixture(t)
	event := f.event()
	event.RuleVersion = 99

	if err := f.processor.Handle(context.Background(), f.message(t, event)); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.DeadLettered) != 1 {
		t.Errorf("expected a dead letter, got %d", len(f.queue.DeadLettered))
	}
}

func TestHandle_TransientSinkFailureNacks(t *testing.T) {
	f := newProcessorFixture(t)
	f.events.WriteErr = errors.New("connection reset")

	if err := f.processor.Handle(context.Background(), f.message(t, f.event())); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.Nacked) != 1 {
		t.Errorf("expected a nack on transient failure, got %d", len(f.queue.Nacked))
	}
	if len(f.queue.Acked) != 0 || len(f.queue.DeadLettered) != 0 {
		t.Error("a transient failure must leave the message redeliverable")
	}
}

func TestHandle_RedeliveryAfterSinkFailureConvergesToOneCount(t *testing.T) {
	f := newProcessorFixture(t)
	f.events.WriteErr = errors.New("connection reset")
	f.events.FailFirstN = 1

	event := f.event()

	// First delivery: the group upsert lands, the event write fails.
	if err := f.processor.Handle(context.Background(), f.message(t, event)); err != nil {
		t.Fatal(err)
	}
	// Redelivery of the same payload.
	if err := f.processor.Handle(context.Background(), f.message(t, event)); err != nil {
		t.Fatal(err)
	}

	if len(f.queue.Acked) != 1 {
		t.Fatalf("expected the redelivery to ack, got %d acks", len(f.queue.Acked))
	}

	fp := fingerprint.New(fingerprint.NewDefaultRegistry())
	fingerprintVal, err := fp.Fingerprint(event)
	if err != nil {
		t.Fatal(err)
	}
	group, err := f.store.GetGroup(context.Background(), f.tenantID, fingerprintVal)
	if err != nil {
		t.Fatal(err)
	}
	if group.EventCount != 1 {
		t.Errorf("redelivery of one identity must count once, got %d", group.EventCount)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
