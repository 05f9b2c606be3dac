package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/user/error-pipeline/internal/adapter/metrics"
	"github.com/user/error-pipeline/internal/domain"
	"github.com/user/error-pipeline/internal/fingerprint"
)

// EventSubmission is one candidate event in an inbound batch, as sent by
// instrumented clients.
type EventSubmission struct {
	ClientTimestamp time.Time            `json:"client_timestamp"`
	Severity        string               `json:"severity"`
	Message         string               `json:"message"`
	StackTrace      []domain.StackFrame  `json:"stack_trace"`
	Environment     string               `json:"environment,omitempty"`
	ReleaseVersion  string               `json:"release_version,omitempty"`
	UserID          string               `json:"user_id,omitempty"`
	Context         map[string]any       `json:"context,omitempty"`
}

// EventResult is the per-event outcome returned to the caller.
type EventResult struct {
	Index   int       `json:"index"`
	Status  string    `json:"status"` // accepted | rejected
	EventID uuid.UUID `json:"event_id,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// BatchResult summarizes a batch submission. Rejections are per-event and
// non-fatal to siblings.
type BatchResult struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Results  []EventResult `json:"results"`
}

// IngestUseCase validates inbound batches and enqueues admitted events.
// It returns as soon as the queue has acknowledged the enqueue; it never
// performs synchronous sink writes.
type IngestUseCase struct {
	queue   domain.Queue
	tenants domain.TenantStore
	clock   *tenantClock
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger
}

func NewIngestUseCase(queue domain.Queue, tenants domain.TenantStore, m *metrics.PipelineMetrics, logger *slog.Logger) *IngestUseCase {
	return &IngestUseCase{
		queue:   queue,
		tenants: tenants,
		clock:   newTenantClock(),
		metrics: m,
		logger:  logger,
	}
}

// IngestBatch applies partial-batch acceptance: every valid event is
// admitted and enqueued even if siblings are rejected. A queue failure is
// the one batch-fatal condition and surfaces as ErrQueueUnavailable.
func (uc *IngestUseCase) IngestBatch(ctx context.Context, tenantID uuid.UUID, submissions []EventSubmission) (*BatchResult, error) {
	ctx, span := otel.Tracer("ingest").Start(ctx, "IngestBatch")
	defer span.End()

	cfg, err := uc.tenants.Config(ctx, tenantID)
	if err != nil {
		uc.logger.Error("failed to load tenant config", "error", err, "tenant_id", tenantID)
		return nil, fmt.Errorf("tenant config: %w", err)
	}

	result := &BatchResult{Results: make([]EventResult, 0, len(submissions))}
	for i, sub := range submissions {
		if verr := validateSubmission(&sub); verr != nil {
			result.Rejected++
			result.Results = append(result.Results, EventResult{
				Index:  i,
				Status: "rejected",
				Reason: verr.Error(),
			})
			if uc.metrics != nil {
				uc.metrics.EventsRejected.WithLabelValues(verr.Field).Inc()
			}
			continue
		}

		event := uc.admit(tenantID, cfg, &sub)
		if err := uc.enqueue(ctx, cfg, event); err != nil {
			uc.logger.Error("failed to enqueue event", "error", err, "tenant_id", tenantID, "event_id", event.ID)
			if uc.metrics != nil {
				uc.metrics.QueueUnavailable.Inc()
			}
			return nil, domain.ErrQueueUnavailable
		}

		result.Accepted++
		result.Results = append(result.Results, EventResult{
			Index:   i,
			Status:  "accepted",
			EventID: event.ID,
		})
		if uc.metrics != nil {
			uc.metrics.EventsAccepted.Inc()
		}
	}

	return result, nil
}

// admit builds the immutable LogEvent from a validated submission: the
// server-assigned ReceivedAt, the content-hash identity and the rule
// version are all fixed here, before enqueue.
func (uc *IngestUseCase) admit(tenantID uuid.UUID, cfg *domain.TenantConfig, sub *EventSubmission) *domain.LogEvent {
	severity, _ := domain.ParseSeverity(sub.Severity)
	event := &domain.LogEvent{
		ID:              uuid.New(),
		TenantID:        tenantID,
		ReceivedAt:      uc.clock.Next(tenantID),
		ClientTimestamp: sub.ClientTimestamp.UTC(),
		Severity:        severity,
		Message:         sub.Message,
		StackTrace:      sub.StackTrace,
		Environment:     sub.Environment,
		ReleaseVersion:  sub.ReleaseVersion,
		UserID:          sub.UserID,
		Context:         scalarContext(sub.Context),
		RuleVersion:     cfg.RuleVersion,
	}
	event.Identity = fingerprint.EventIdentity(
		tenantID,
		event.ClientTimestamp.Format(time.RFC3339Nano),
		event.Severity,
		event.Message,
		event.StackTrace,
	)
	return event
}

func (uc *IngestUseCase) enqueue(ctx context.Context, cfg *domain.TenantConfig, event *domain.LogEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return uc.queue.Enqueue(ctx, &domain.QueueMessage{
		Payload:         payload,
		DeliveryAttempt: 1,
		EnqueuedAt:      time.Now().UTC(),
		MaxDeliveries:   cfg.RedeliveryCeiling,
		PartitionKey:    event.TenantID.String(),
	})
}

func validateSubmission(sub *EventSubmission) *domain.ValidationError {
	if sub.Message == "" {
		return &domain.ValidationError{Field: "message", Reason: "required"}
	}
	if sub.ClientTimestamp.IsZero() {
		return &domain.ValidationError{Field: "client_timestamp", Reason: "required"}
	}
	if _, ok := domain.ParseSeverity(sub.Severity); !ok {
		return &domain.ValidationError{Field: "severity", Reason: "must be one of debug, info, warning, error, fatal"}
	}
	if len(sub.StackTrace) == 0 {
		return &domain.ValidationError{Field: "stack_trace", Reason: "required"}
	}
	for i, frame := range sub.StackTrace {
		if frame.Function == "" && frame.File == "" {
			return &domain.ValidationError{
				Field:  fmt.Sprintf("stack_trace[%d]", i),
				Reason: "frame needs a function or file",
			}
		}
		if frame.Line < 0 {
			return &domain.ValidationError{
				Field:  fmt.Sprintf("stack_trace[%d].line", i),
				Reason: "must not be negative",
			}
		}
	}
	return nil
}

// scalarContext drops non-scalar context values. The accepted set matches
// what encoding/json produces for JSON scalars.
func scalarContext(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch v.(type) {
		case string, bool, float64, int, int64, nil:
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
