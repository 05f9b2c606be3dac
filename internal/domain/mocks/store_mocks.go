package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/user/error-pipeline/internal/domain"
)

// MockEventStore is a mock implementation of domain.EventStore for testing.
type MockEventStore struct {
	mu            sync.Mutex
	WrittenEvents []domain.LogEvent
	WriteErr      error

	// FailFirstN makes the first N writes fail with WriteErr, then succeed.
	FailFirstN int
	calls      int
}

func (m *MockEventStore) WriteEvent(ctx context.Context, event *domain.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.WriteErr != nil && (m.FailFirstN == 0 || m.calls <= m.FailFirstN) {
		return m.WriteErr
	}
	m.WrittenEvents = append(m.WrittenEvents, *event)
	return nil
}

// MockNotifier is a mock implementation of domain.Notifier for testing.
type MockNotifier struct {
	mu      sync.Mutex
	Sent    []domain.GroupSummary
	SendErr error

	// FailFirstN makes the first N sends fail with SendErr, then succeed.
	FailFirstN int
	calls      int
}

func (m *MockNotifier) Send(ctx context.Context, summary *domain.GroupSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.SendErr != nil && (m.FailFirstN == 0 || m.calls <= m.FailFirstN) {
		return m.SendErr
	}
	m.Sent = append(m.Sent, *summary)
	return nil
}

func (m *MockNotifier) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// MockTenantStore is a mock implementation of domain.TenantStore.
type MockTenantStore struct {
	Keys      map[string]uuid.UUID
	Configs   map[uuid.UUID]*domain.TenantConfig
	ConfigErr error
}

func (m *MockTenantStore) ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error) {
	if id, ok := m.Keys[key]; ok {
		return id, nil
	}
	return uuid.Nil, domain.ErrUnauthorized
}

func (m *MockTenantStore) Config(ctx context.Context, tenantID uuid.UUID) (*domain.TenantConfig, error) {
	if m.ConfigErr != nil {
		return nil, m.ConfigErr
	}
	if cfg, ok := m.Configs[tenantID]; ok {
		return cfg, nil
	}
	return &domain.TenantConfig{
		TenantID:          tenantID,
		CriticalSeverity:  domain.SeverityError,
		SuppressionWindow: 0,
		RuleVersion:       1,
		RedeliveryCeiling: 5,
	}, nil
}

// MockQueue records enqueued messages and can simulate an unavailable broker.
type MockQueue struct {
	mu           sync.Mutex
	Enqueued     []*domain.QueueMessage
	EnqueueErr   error
	Acked        []*domain.QueueMessage
	Nacked       []*domain.QueueMessage
	DeadLettered []*domain.QueueMessage
}

func (m *MockQueue) Enqueue(ctx context.Context, msg *domain.QueueMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.Enqueued = append(m.Enqueued, msg)
	return nil
}

func (m *MockQueue) Consume(ctx context.Context) (*domain.QueueMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *MockQueue) Ack(ctx context.Context, msg *domain.QueueMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acked = append(m.Acked, msg)
	return nil
}

func (m *MockQueue) Nack(ctx context.Context, msg *domain.QueueMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Nacked = append(m.Nacked, msg)
	return nil
}

func (m *MockQueue) DeadLetter(ctx context.Context, msg *domain.QueueMessage, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeadLettered = append(m.DeadLettered, msg)
	return nil
}
