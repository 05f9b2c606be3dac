// Package memstore is an in-memory durable-sink implementation with the
// same conditional-update semantics as the PostgreSQL adapter. It backs
// unit tests and local development.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/error-pipeline/internal/domain"
)

type groupKey struct {
	tenant uuid.UUID
	fp     domain.Fingerprint
}

type identityKey struct {
	tenant   uuid.UUID
	identity string
}

// Store implements domain.EventStore, domain.GroupStore and
// domain.AlertStateStore in memory.
type Store struct {
	mu         sync.Mutex
	events     map[uuid.UUID]*domain.LogEvent
	groups     map[groupKey]*domain.ErrorGroup
	states     map[groupKey]*domain.AlertState
	identities map[identityKey]time.Time
}

func New() *Store {
	return &Store{
		events:     make(map[uuid.UUID]*domain.LogEvent),
		groups:     make(map[groupKey]*domain.ErrorGroup),
		states:     make(map[groupKey]*domain.AlertState),
		identities: make(map[identityKey]time.Time),
	}
}

func (s *Store) WriteEvent(ctx context.Context, event *domain.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events[event.ID] = &cp
	return nil
}

// EventCount returns the number of distinct stored events.
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *Store) GetGroup(ctx context.Context, tenantID uuid.UUID, fp domain.Fingerprint) (*domain.ErrorGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupKey{tenantID, fp}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *Store) CreateGroup(ctx context.Context, group *domain.ErrorGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := groupKey{group.TenantID, group.Fingerprint}
	if _, ok := s.groups[key]; ok {
		return domain.ErrGroupUpdateConflict
	}
	cp := *group
	cp.Version = 1
	s.groups[key] = &cp
	group.Version = 1
	return nil
}

func (s *Store) UpdateGroup(ctx context.Context, group *domain.ErrorGroup, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := groupKey{group.TenantID, group.Fingerprint}
	stored, ok := s.groups[key]
	if !ok || stored.Version != expectedVersion {
		return domain.ErrGroupUpdateConflict
	}
	cp := *group
	cp.Version = expectedVersion + 1
	s.groups[key] = &cp
	group.Version = cp.Version
	return nil
}

func (s *Store) ClaimEventIdentity(ctx context.Context, tenantID uuid.UUID, identity string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identityKey{tenantID, identity}
	if exp, ok := s.identities[key]; ok && exp.After(time.Now()) {
		return false, nil
	}
	s.identities[key] = expiresAt
	return true, nil
}

func (s *Store) ReleaseEventIdentity(ctx context.Context, tenantID uuid.UUID, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.identities, identityKey{tenantID, identity})
	return nil
}

func (s *Store) PruneExpiredIdentities(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned int64
	for key, exp := range s.identities {
		if !exp.After(now) {
			delete(s.identities, key)
			pruned++
		}
	}
	return pruned, nil
}

func (s *Store) GetAlertState(ctx context.Context, tenantID uuid.UUID, fp domain.Fingerprint) (*domain.AlertState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[groupKey{tenantID, fp}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *Store) PutAlertState(ctx context.Context, state *domain.AlertState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := groupKey{state.TenantID, state.Fingerprint}
	stored, ok := s.states[key]
	if expectedVersion == 0 {
		if ok {
			return domain.ErrGroupUpdateConflict
		}
	} else if !ok || stored.Version != expectedVersion {
		return domain.ErrGroupUpdateConflict
	}
	cp := *state
	cp.Version = expectedVersion + 1
	s.states[key] = &cp
	state.Version = cp.Version
	return nil
}
