// Package tenantcache decorates a domain.TenantStore with a ristretto
// read cache. Workers consult tenant configuration on every processed
// event; the cache keeps that off the sink's hot path.
package tenantcache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/user/error-pipeline/internal/domain"
)

type Store struct {
	inner domain.TenantStore
	cache *ristretto.Cache
	ttl   time.Duration
}

func New(inner domain.TenantStore, ttl time.Duration) (*Store, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{inner: inner, cache: cache, ttl: ttl}, nil
}

// ResolveAPIKey passes through; the postgres store already caches keys.
func (s *Store) ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error) {
	return s.inner.ResolveAPIKey(ctx, key)
}

func (s *Store) Config(ctx context.Context, tenantID uuid.UUID) (*domain.TenantConfig, error) {
	if v, ok := s.cache.Get(tenantID.String()); ok {
		if cfg, ok := v.(*domain.TenantConfig); ok {
			return cfg, nil
		}
	}
	cfg, err := s.inner.Config(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(tenantID.String(), cfg, 1, s.ttl)
	return cfg, nil
}
