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

// casRetryLimit bounds the local retry loop on conditional-update
// conflicts. Conflicts are expected under concurrent processing of the
// same group; exhausting the limit is treated as transient so the
// message is redelivered.
const casRetryLimit = 8

// Grouper maintains the fingerprint-to-ErrorGroup mapping. It is safe
// under concurrent invocation for the same (tenant, fingerprint) from
// different workers and even different processes: all coordination goes
// through the store's conditional updates.
type Grouper struct {
	store          domain.GroupStore
	identityWindow time.Duration
	metrics        *metrics.PipelineMetrics
	logger         *slog.Logger
}

// NewGrouper creates a Grouper. identityWindow is the retention of
// idempotency records and must be at least as long as the queue's maximum
// redelivery window.
func NewGrouper(store domain.GroupStore, identityWindow time.Duration, m *metrics.PipelineMetrics, logger *slog.Logger) *Grouper {
	return &Grouper{
		store:          store,
		identityWindow: identityWindow,
		metrics:        m,
		logger:         logger,
	}
}

// UpsertGroup folds one event into its group and returns the post-update
// snapshot. Redelivery of an already-counted event (same identity) leaves
// event_count untouched and returns the current snapshot.
func (g *Grouper) UpsertGroup(ctx context.Context, event *domain.LogEvent, fp domain.Fingerprint) (*domain.ErrorGroup, error) {
	claimed, err := g.store.ClaimEventIdentity(ctx, event.TenantID, event.Identity, time.Now().UTC().Add(g.identityWindow))
	if err != nil {
		return nil, fmt.Errorf("%w: claim identity: %v", domain.ErrTransientSinkFailure, err)
	}
	if !claimed {
		if g.metrics != nil {
			g.metrics.DedupHits.Inc()
		}
		group, err := g.store.GetGroup(ctx, event.TenantID, fp)
		if err == nil {
			return group, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: read group: %v", domain.ErrTransientSinkFailure, err)
		}
		// Claimed but no group: a previous delivery crashed between the
		// claim and the group write. Fall through and count it now.
	}

	group, err := g.applyWithRetry(ctx, event, fp)
	if err != nil {
		// Give the claim back so the redelivered message is counted.
		if relErr := g.store.ReleaseEventIdentity(ctx, event.TenantID, event.Identity); relErr != nil {
			g.logger.Error("failed to release identity claim", "error", relErr, "event_id", event.ID)
		}
		return nil, err
	}
	return group, nil
}

func (g *Grouper) applyWithRetry(ctx context.Context, event *domain.LogEvent, fp domain.Fingerprint) (*domain.ErrorGroup, error) {
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		group, err := g.store.GetGroup(ctx, event.TenantID, fp)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			group = &domain.ErrorGroup{
				TenantID:         event.TenantID,
				Fingerprint:      fp,
				FirstSeen:        event.ReceivedAt,
				LastSeen:         event.ReceivedAt,
				EventCount:       1,
				SampleEventID:    event.ID,
				SampleReceivedAt: event.ReceivedAt,
				Status:           domain.GroupStatusOpen,
				RuleVersion:      event.RuleVersion,
			}
			if err := g.store.CreateGroup(ctx, group); err != nil {
				if errors.Is(err, domain.ErrGroupUpdateConflict) {
					continue // another worker created it first
				}
				return nil, fmt.Errorf("%w: create group: %v", domain.ErrTransientSinkFailure, err)
			}
			if g.metrics != nil {
				g.metrics.GroupsCreated.Inc()
			}
			return group, nil

		case err != nil:
			return nil, fmt.Errorf("%w: read group: %v", domain.ErrTransientSinkFailure, err)
		}

		expected := group.Version
		group.EventCount++
		if event.ReceivedAt.After(group.LastSeen) {
			group.LastSeen = event.ReceivedAt
		}
		if event.ReceivedAt.Before(group.FirstSeen) {
			group.FirstSeen = event.ReceivedAt
		}
		// ReceivedAt, not worker arrival order, decides the sample.
		if event.ReceivedAt.After(group.SampleReceivedAt) {
			group.SampleEventID = event.ID
			group.SampleReceivedAt = event.ReceivedAt
		}

		if err := g.store.UpdateGroup(ctx, group, expected); err != nil {
			if errors.Is(err, domain.ErrGroupUpdateConflict) {
				continue
			}
			return nil, fmt.Errorf("%w: update group: %v", domain.ErrTransientSinkFailure, err)
		}
		return group, nil
	}

	return nil, fmt.Errorf("%w: conditional update contention on %s", domain.ErrTransientSinkFailure, fp)
}
