package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/error-pipeline/internal/domain"
	"github.com/user/error-pipeline/internal/domain/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validSubmission(msg string) EventSubmission {
	return EventSubmission{
		ClientTimestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Severity:        "error",
		Message:         msg,
		StackTrace: []domain.StackFrame{
			{Function: "main.handle", File: "main.go", Line: 10},
		},
	}
}

func TestIngestBatch_PartialAcceptance(t *testing.T) {
	queue := &mocks.MockQueue{}
	tenants := &mocks.MockTenantStore{}
	uc := NewIngestUseCase(queue, tenants, nil, discardLogger())

	batch := []EventSubmission{
		validSubmission("e1"),
		validSubmission("e2"),
		validSubmission(""), // missing message
		validSubmission("e4"),
		validSubmission("e5"),
	}

	result, err := uc.IngestBatch(context.Background(), uuid.New(), batch)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Accepted != 4 {
		t.Errorf("expected 4 accepted, got %d", result.Accepted)
	}
	if result.Rejected != 1 {
		t.Errorf("expected 1 rejected, got %d", result.Rejected)
	}
	if len(queue.Enqueued) != 4 {
		t.Errorf("expected 4 enqueued messages, got %d", len(queue.Enqueued))
	}

	rejected := result.Results[2]
	if rejected.Index != 2 || rejected.Status != "rejected" {
		t.Errorf("expected event #3 to be rejected, got %+v", rejected)
	}
	if rejected.Reason == "" {
		t.Error("expected a specific rejection reason")
	}
}

func TestIngestBatch_ValidationReasons(t *testing.T) {
	queue := &mocks.MockQueue{}
	uc := NewIngestUseCase(queue, &mocks.MockTenantStore{}, nil, discardLogger())

	cases := []struct {
		name   string
		mutate func(*EventSubmission)
	}{
		{"missing message", func(s *EventSubmission) { s.Message = "" }},
		{"missing client timestamp", func(s *EventSubmission) { s.ClientTimestamp = time.Time{} }},
		{"bad severity", func(s *EventSubmission) { s.Severity = "catastrophic" }},
		{"empty stack trace", func(s *EventSubmission) { s.StackTrace = nil }},
		{"blank frame", func(s *EventSubmission) { s.StackTrace = []domain.StackFrame{{Line: 3}} }},
		{"negative line", func(s *EventSubmission) { s.StackTrace[0].Line = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := validSubmission("boom")
			tc.mutate(&sub)
			result, err := uc.IngestBatch(context.Background(), uuid.New(), []EventSubmission{sub})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result.Rejected != 1 || result.Accepted != 0 {
				t.Errorf("expected rejection, got %+v", result)
			}
		})
	}
}

func TestIngestBatch_QueueUnavailable(t *testing.T) {
	queue := &mocks.MockQueue{EnqueueErr: domain.ErrQueueUnavailable}
	uc := NewIngestUseCase(queue, &mocks.MockTenantStore{}, nil, discardLogger())

	_, err := uc.IngestBatch(context.Background(), uuid.New(), []EventSubmission{validSubmission("boom")})
	if err != domain.ErrQueueUnavailable {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
}

func TestIngestBatch_AdmittedEventShape(t *testing.T) {
	queue := &mocks.MockQueue{}
	tenantID := uuid.New()
	uc := NewIngestUseCase(queue, &mocks.MockTenantStore{}, nil, discardLogger())

	sub := validSubmission("boom")
	sub.Context = map[string]any{
		"request_path": "/checkout",
		"retries":      float64(3),
		"nested":       map[string]any{"dropped": true},
	}

	if _, err := uc.IngestBatch(context.Background(), tenantID, []EventSubmission{sub}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var event domain.LogEvent
	if err := json.Unmarshal(queue.Enqueued[0].Payload, &event); err != nil {
		t.Fatalf("failed to decode enqueued payload: %v", err)
	}
	if event.ID == uuid.Nil {
		t.Error("expected a generated event ID")
	}
	if event.TenantID != tenantID {
		t.Error("tenant ID mismatch")
	}
	if event.ReceivedAt.IsZero() {
		t.Error("expected server-assigned ReceivedAt")
	}
	if event.Identity == "" {
		t.Error("expected a content-hash identity")
	}
	if event.RuleVersion == 0 {
		t.Error("expected the rule version to be stamped")
	}
	if _, ok := event.Context["nested"]; ok {
		t.Error("expected non-scalar context values to be dropped")
	}
	if event.Context["request_path"] != "/checkout" {
		t.Error("expected scalar context values to survive")
	}
	if queue.Enqueued[0].PartitionKey != tenantID.String() {
		t.Error("expected the tenant to be the partition key")
	}
}

func TestIngestBatch_IdentityStableAcrossRetransmits(t *testing.T) {
	queue := &mocks.MockQueue{}
	tenantID := uuid.New()
	uc := NewIngestUseCase(queue, &mocks.MockTenantStore{}, nil, discardLogger())

	sub := validSubmission("boom")
	for i := 0; i < 2; i++ {
		if _, err := uc.IngestBatch(context.Background(), tenantID, []EventSubmission{sub}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	var first, second domain.LogEvent
	_ = json.Unmarshal(queue.Enqueued[0].Payload, &first)
	_ = json.Unmarshal(queue.Enqueued[1].Payload, &second)

	if first.Identity != second.Identity {
		t.Error("retransmitted payload must keep the same identity")
	}
	if first.ID == second.ID {
		t.Error("each admission gets its own event ID")
	}

	later := sub
	later.ClientTimestamp = sub.ClientTimestamp.Add(5 * time.Second)
	if _, err := uc.IngestBatch(context.Background(), tenantID, []EventSubmission{later}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var third domain.LogEvent
	_ = json.Unmarshal(queue.Enqueued[2].Payload, &third)
	if third.Identity == first.Identity {
		t.Error("a new client timestamp is a new identity")
	}
}

func TestTenantClock_Monotonic(t *testing.T) {
	clock := newTenantClock()
	tenant := uuid.New()

	// Force the wall clock backwards between calls.
	times := []time.Time{
		time.Date(2026, 8, 1, 12, 0, 10, 0, time.UTC),
		time.Date(2026, 8, 1, 12, 0, 5, 0, time.UTC),
		time.Date(2026, 8, 1, 12, 0, 20, 0, time.UTC),
	}
	i := 0
	clock.now = func() time.Time { t := times[i]; i++; return t }

	var prev time.Time
	for range times {
		next := clock.Next(tenant)
		if next.Before(prev) {
			t.Fatalf("ReceivedAt went backwards: %v < %v", next, prev)
		}
		prev = next
	}
}
