package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/error-pipeline/internal/adapter/metrics"
	"github.com/user/error-pipeline/internal/domain"
)

// AlertEngine decides per processed event whether a notification fires.
// The right to notify is claimed with a conditional update on AlertState
// before the notification sink is invoked, so two workers racing on
// near-simultaneous events for the same group cannot both send.
type AlertEngine struct {
	states        domain.AlertStateStore
	tenants       domain.TenantStore
	notifier      domain.Notifier
	storeTimeout  time.Duration
	notifyTimeout time.Duration
	notifyRetries int
	metrics       *metrics.PipelineMetrics
	logger        *slog.Logger
	now           func() time.Time
}

func NewAlertEngine(
	states domain.AlertStateStore,
	tenants domain.TenantStore,
	notifier domain.Notifier,
	storeTimeout time.Duration,
	notifyTimeout time.Duration,
	notifyRetries int,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
) *AlertEngine {
	return &AlertEngine{
		states:        states,
		tenants:       tenants,
		notifier:      notifier,
		storeTimeout:  storeTimeout,
		notifyTimeout: notifyTimeout,
		notifyRetries: notifyRetries,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

// Evaluate applies the tenant's severity threshold and suppression window
// to the post-update group snapshot. Notification delivery is best-effort
// with bounded retries; a delivery failure never propagates to the caller,
// so it never blocks event processing.
func (e *AlertEngine) Evaluate(ctx context.Context, group *domain.ErrorGroup, event *domain.LogEvent) error {
	// Config and AlertState reads are sink calls and carry the same kind
	// of deadline the event sink does.
	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	cfg, err := e.tenants.Config(storeCtx, group.TenantID)
	if err != nil {
		return fmt.Errorf("%w: tenant config: %v", domain.ErrTransientSinkFailure, err)
	}

	if !event.Severity.AtLeast(cfg.CriticalSeverity) {
		return nil
	}
	if group.Status != domain.GroupStatusOpen {
		return nil
	}

	claimed, err := e.claim(storeCtx, group, cfg.SuppressionWindow)
	if err != nil {
		return err
	}
	if !claimed {
		if e.metrics != nil {
			e.metrics.AlertsSuppressed.Inc()
		}
		return nil
	}

	e.deliver(ctx, group, event)
	return nil
}

// claim attempts the compare-and-swap that reserves the right to notify.
// The loser of a race, and any event inside the suppression window,
// increments SuppressedCount instead.
func (e *AlertEngine) claim(ctx context.Context, group *domain.ErrorGroup, window time.Duration) (bool, error) {
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		now := e.now().UTC()

		state, err := e.states.GetAlertState(ctx, group.TenantID, group.Fingerprint)
		var expected int64
		switch {
		case errors.Is(err, domain.ErrNotFound):
			state = &domain.AlertState{TenantID: group.TenantID, Fingerprint: group.Fingerprint}
			expected = 0
		case err != nil:
			return false, fmt.Errorf("%w: read alert state: %v", domain.ErrTransientSinkFailure, err)
		default:
			expected = state.Version
		}

		if now.Before(state.SuppressedUntil) {
			state.SuppressedCount++
			if err := e.states.PutAlertState(ctx, state, expected); err != nil {
				if errors.Is(err, domain.ErrGroupUpdateConflict) {
					continue
				}
				// The suppressed-count bump is best-effort bookkeeping.
				e.logger.Warn("failed to record suppressed alert", "error", err, "fingerprint", group.Fingerprint)
			}
			return false, nil
		}

		state.LastNotifiedAt = now
		state.SuppressedUntil = now.Add(window)
		if err := e.states.PutAlertState(ctx, state, expected); err != nil {
			if errors.Is(err, domain.ErrGroupUpdateConflict) {
				continue // another worker raced us; re-read and re-decide
			}
			return false, fmt.Errorf("%w: claim alert state: %v", domain.ErrTransientSinkFailure, err)
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: alert state contention on %s", domain.ErrTransientSinkFailure, group.Fingerprint)
}

// deliver invokes the notification sink with bounded retries. Permanent
// failure is recorded and dropped: the claim stands, so the suppression
// window still applies.
func (e *AlertEngine) deliver(ctx context.Context, group *domain.ErrorGroup, event *domain.LogEvent) {
	summary := &domain.GroupSummary{
		TenantID:    group.TenantID,
		Fingerprint: group.Fingerprint,
		Message:     truncate(event.Message, 512),
		Severity:    event.Severity,
		EventCount:  group.EventCount,
		FirstSeen:   group.FirstSeen,
		LastSeen:    group.LastSeen,
	}

	var lastErr error
	for attempt := 0; attempt <= e.notifyRetries; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
		lastErr = e.notifier.Send(sendCtx, summary)
		cancel()
		if lastErr == nil {
			if e.metrics != nil {
				e.metrics.AlertsFired.Inc()
			}
			return
		}
	}

	e.logger.Error("notification delivery failed",
		"error", errors.Join(domain.ErrNotificationDelivery, lastErr),
		"tenant_id", group.TenantID,
		"fingerprint", group.Fingerprint,
	)
	if e.metrics != nil {
		e.metrics.NotificationFailures.Inc()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
