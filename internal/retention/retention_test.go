package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/error-pipeline/internal/adapter/repository/memstore"
)

func TestRunner_PrunesExpiredIdentities(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	tenantID := uuid.New()

	_, _ = store.ClaimEventIdentity(ctx, tenantID, "stale", time.Now().Add(-time.Hour))
	_, _ = store.ClaimEventIdentity(ctx, tenantID, "live", time.Now().Add(time.Hour))

	runner := NewRunner(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	runner.pruneIdentities()

	claimed, err := store.ClaimEventIdentity(ctx, tenantID, "stale", time.Now().Add(time.Hour))
	if err != nil || !claimed {
		t.Errorf("expected the stale identity to be pruned: claimed=%v err=%v", claimed, err)
	}
	claimed, _ = store.ClaimEventIdentity(ctx, tenantID, "live", time.Now().Add(time.Hour))
	if claimed {
		t.Error("live identities must survive pruning")
	}
}

func TestRunner_StartStop(t *testing.T) {
	store := memstore.New()
	runner := NewRunner(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := runner.Start("@every 1h"); err != nil {
		t.Fatal(err)
	}
	ran := make(chan struct{}, 1)
	if err := runner.AddJob("@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job never ran")
	}
	runner.Stop()
}

func TestRunner_RejectsBadSchedule(t *testing.T) {
	runner := NewRunner(memstore.New(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := runner.Start("not a schedule"); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}
