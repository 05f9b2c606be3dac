package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/error-pipeline/internal/adapter/repository/memstore"
	"github.com/user/error-pipeline/internal/domain"
)

func testEvent(tenantID uuid.UUID, identity string, receivedAt time.Time) *domain.LogEvent {
	return &domain.LogEvent{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ReceivedAt:  receivedAt,
		Severity:    domain.SeverityError,
		Message:     "boom",
		Identity:    identity,
		RuleVersion: 1,
	}
}

func TestUpsertGroup_CreateThenIncrement(t *testing.T) {
	store := memstore.New()
	grouper := NewGrouper(store, time.Hour, nil, discardLogger())
	tenantID := uuid.New()
	fp := domain.Fingerprint("fp-1")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	group, err := grouper.UpsertGroup(context.Background(), testEvent(tenantID, "id-1", base), fp)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if group.EventCount != 1 || group.Status != domain.GroupStatusOpen {
		t.Fatalf("unexpected new group: %+v", group)
	}

	later := testEvent(tenantID, "id-2", base.Add(time.Minute))
	group, err = grouper.UpsertGroup(context.Background(), later, fp)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if group.EventCount != 2 {
		t.Errorf("expected event_count 2, got %d", group.EventCount)
	}
	if !group.LastSeen.Equal(base.Add(time.Minute)) {
		t.Errorf("expected last_seen to advance, got %v", group.LastSeen)
	}
	if group.SampleEventID != later.ID {
		t.Error("expected the newer event to become the sample")
	}
}

func TestUpsertGroup_RedeliveryIsNotDoubleCounted(t *testing.T) {
	store := memstore.New()
	grouper := NewGrouper(store, time.Hour, nil, discardLogger())
	tenantID := uuid.New()
	fp := domain.Fingerprint("fp-1")

	event := testEvent(tenantID, "id-1", time.Now().UTC())
	for i := 0; i < 3; i++ {
		group, err := grouper.UpsertGroup(context.Background(), event, fp)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if group.EventCount != 1 {
			t.Fatalf("delivery %d: expected event_count 1, got %d", i, group.EventCount)
		}
	}
}

func TestUpsertGroup_HealsCrashBetweenClaimAndWrite(t *testing.T) {
	store := memstore.New()
	grouper := NewGrouper(store, time.Hour, nil, discardLogger())
	tenantID := uuid.New()
	event := testEvent(tenantID, "id-1", time.Now().UTC())

	// Simulate a worker that claimed the identity, then died before
	// writing the group.
	claimed, err := store.ClaimEventIdentity(context.Background(), tenantID, event.Identity, time.Now().Add(time.Hour))
	if err != nil || !claimed {
		t.Fatalf("seed claim: claimed=%v err=%v", claimed, err)
	}

	group, err := grouper.UpsertGroup(context.Background(), event, "fp-1")
	if err != nil {
		t.Fatalf("expected the redelivery to count the event, got %v", err)
	}
	if group.EventCount != 1 {
		t.Errorf("expected event_count 1, got %d", group.EventCount)
	}
}

func TestUpsertGroup_SampleFollowsReceivedAtNotArrivalOrder(t *testing.T) {
	store := memstore.New()
	grouper := NewGrouper(store, time.Hour, nil, discardLogger())
	tenantID := uuid.New()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	newest := testEvent(tenantID, "id-newest", base.Add(time.Minute))
	if _, err := grouper.UpsertGroup(context.Background(), newest, "fp-1"); err != nil {
		t.Fatal(err)
	}
	// An older event arrives late (redelivery reordering).
	stale := testEvent(tenantID, "id-stale", base)
	group, err := grouper.UpsertGroup(context.Background(), stale, "fp-1")
	if err != nil {
		t.Fatal(err)
	}
	if group.SampleEventID != newest.ID {
		t.Error("late arrival of an older event must not steal the sample")
	}
	if !group.FirstSeen.Equal(base) {
		t.Errorf("expected first_seen to move back to %v, got %v", base, group.FirstSeen)
	}
}

func TestUpsertGroup_ConcurrentConvergence(t *testing.T) {
	store := memstore.New()
	grouper := NewGrouper(store, time.Hour, nil, discardLogger())
	tenantID := uuid.New()
	fp := domain.Fingerprint("fp-hot")

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event := testEvent(tenantID, uuid.NewString(), time.Now().UTC())
			// Transient contention failures come back as redeliveries in
			// production; the loop stands in for the queue here.
			for attempt := 0; ; attempt++ {
				_, err := grouper.UpsertGroup(context.Background(), event, fp)
				if err == nil {
					return
				}
				if attempt > 100 {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent upsert: %v", err)
	}

	group, err := store.GetGroup(context.Background(), tenantID, fp)
	if err != nil {
		t.Fatal(err)
	}
	if group.EventCount != n {
		t.Errorf("expected event_count %d, got %d", n, group.EventCount)
	}
}
