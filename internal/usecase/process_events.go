package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/user/error-pipeline/internal/adapter/metrics"
	"github.com/user/error-pipeline/internal/domain"
	"github.com/user/error-pipeline/internal/fingerprint"
)

// Processor runs the per-message worker sequence: decode and integrity
// check, fingerprint, group upsert, raw-event sink write, alert
// evaluation, then settle the message. Transient failures Nack so the
// queue redelivers; permanent failures Ack into the dead-letter channel.
type Processor struct {
	queue         domain.Queue
	fingerprinter *fingerprint.Fingerprinter
	grouper       *Grouper
	events        domain.EventStore
	alerts        *AlertEngine
	sinkTimeout   time.Duration
	metrics       *metrics.PipelineMetrics
	logger        *slog.Logger
}

func NewProcessor(
	queue domain.Queue,
	fp *fingerprint.Fingerprinter,
	grouper *Grouper,
	events domain.EventStore,
	alerts *AlertEngine,
	sinkTimeout time.Duration,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		queue:         queue,
		fingerprinter: fp,
		grouper:       grouper,
		events:        events,
		alerts:        alerts,
		sinkTimeout:   sinkTimeout,
		metrics:       m,
		logger:        logger,
	}
}

// Handle processes one queue message to a terminal acknowledge or
// negative-acknowledge state. It never returns a message unsettled.
func (p *Processor) Handle(ctx context.Context, msg *domain.QueueMessage) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "HandleMessage")
	defer span.End()

	event, err := p.decode(msg)
	if err != nil {
		p.logger.Warn("dead-lettering corrupt message", "error", err, "attempt", msg.DeliveryAttempt)
		if p.metrics != nil {
			p.metrics.MessagesDeadLettered.Inc()
		}
		return p.queue.DeadLetter(ctx, msg, err.Error())
	}

	if err := p.process(ctx, event); err != nil {
		if errors.Is(err, domain.ErrPayloadCorrupted) {
			p.logger.Warn("dead-lettering unprocessable event", "error", err, "event_id", event.ID)
			if p.metrics != nil {
				p.metrics.MessagesDeadLettered.Inc()
			}
			return p.queue.DeadLetter(ctx, msg, err.Error())
		}
		p.logger.Warn("transient failure, message will be redelivered",
			"error", err, "event_id", event.ID, "attempt", msg.DeliveryAttempt)
		if p.metrics != nil {
			p.metrics.MessagesNacked.Inc()
		}
		return p.queue.Nack(ctx, msg)
	}

	if p.metrics != nil {
		p.metrics.MessagesProcessed.Inc()
	}
	return p.queue.Ack(ctx, msg)
}

// decode validates payload integrity. A payload that cannot yield a
// well-formed event will never succeed, no matter how often it is
// redelivered.
func (p *Processor) decode(msg *domain.QueueMessage) (*domain.LogEvent, error) {
	var event domain.LogEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPayloadCorrupted, err)
	}
	if event.ID == uuid.Nil || event.TenantID == uuid.Nil || event.Identity == "" {
		return nil, fmt.Errorf("%w: missing event identity fields", domain.ErrPayloadCorrupted)
	}
	if event.Message == "" {
		return nil, fmt.Errorf("%w: empty message", domain.ErrPayloadCorrupted)
	}
	return &event, nil
}

func (p *Processor) process(ctx context.Context, event *domain.LogEvent) error {
	fp, err := p.fingerprinter.Fingerprint(event)
	if err != nil {
		// An unknown rule version cannot heal on retry.
		return fmt.Errorf("%w: fingerprint: %v", domain.ErrPayloadCorrupted, err)
	}

	sinkCtx, cancel := context.WithTimeout(ctx, p.sinkTimeout)
	defer cancel()

	group, err := p.grouper.UpsertGroup(sinkCtx, event, fp)
	if err != nil {
		return err
	}

	if err := p.events.WriteEvent(sinkCtx, event); err != nil {
		return fmt.Errorf("%w: write event: %v", domain.ErrTransientSinkFailure, err)
	}

	// The raw event is durable; the group is now visible to alerting.
	return p.alerts.Evaluate(ctx, group, event)
}
