package tenantcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/error-pipeline/internal/domain"
)

type countingTenantStore struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTenantStore) ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error) {
	return uuid.Nil, domain.ErrUnauthorized
}

func (c *countingTenantStore) Config(ctx context.Context, tenantID uuid.UUID) (*domain.TenantConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return &domain.TenantConfig{TenantID: tenantID, CriticalSeverity: domain.SeverityError}, nil
}

func (c *countingTenantStore) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestConfig_CachesInnerLookups(t *testing.T) {
	inner := &countingTenantStore{}
	store, err := New(inner, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tenantID := uuid.New()
	ctx := context.Background()

	first, err := store.Config(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	// Ristretto admits writes asynchronously; settle before re-reading.
	store.cache.Wait()

	second, err := store.Config(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	if inner.Calls() != 1 {
		t.Errorf("expected a single inner lookup, got %d", inner.Calls())
	}
	if first.TenantID != second.TenantID {
		t.Error("cached config must match the inner store's")
	}
}

func TestConfig_DistinctTenantsMissIndependently(t *testing.T) {
	inner := &countingTenantStore{}
	store, err := New(inner, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_, _ = store.Config(ctx, uuid.New())
	_, _ = store.Config(ctx, uuid.New())
	if inner.Calls() != 2 {
		t.Errorf("expected 2 inner lookups, got %d", inner.Calls())
	}
}
