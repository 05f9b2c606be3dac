package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/error-pipeline/internal/domain"
)

type keyCacheEntry struct {
	tenantID  uuid.UUID
	valid     bool
	expiresAt time.Time
}

// TenantStore resolves API keys and tenant configuration from PostgreSQL.
// Key lookups go through an in-memory, time-based cache: the gateway
// resolves a key on every batch and the table changes rarely.
type TenantStore struct {
	db       *sql.DB
	logger   *slog.Logger
	defaults domain.TenantConfig

	mu       sync.RWMutex
	keyCache map[string]keyCacheEntry
	cacheTTL time.Duration
}

// NewTenantStore creates the store. defaults fills unset per-tenant
// fields.
func NewTenantStore(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, defaults domain.TenantConfig) *TenantStore {
	return &TenantStore{
		db:       db,
		logger:   logger,
		defaults: defaults,
		keyCache: make(map[string]keyCacheEntry),
		cacheTTL: cacheTTL,
	}
}

func (s *TenantStore) ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error) {
	s.mu.RLock()
	entry, found := s.keyCache[key]
	s.mu.RUnlock()
	if found && time.Now().Before(entry.expiresAt) {
		if !entry.valid {
			return uuid.Nil, domain.ErrUnauthorized
		}
		return entry.tenantID, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed the entry while we waited.
	entry, found = s.keyCache[key]
	if found && time.Now().Before(entry.expiresAt) {
		if !entry.valid {
			return uuid.Nil, domain.ErrUnauthorized
		}
		return entry.tenantID, nil
	}

	const query = `
		SELECT tenant_id FROM api_keys
		WHERE key = $1 AND is_active = true
		  AND (expires_at IS NULL OR expires_at > NOW())`

	var tenantID uuid.UUID
	err := s.db.QueryRowContext(ctx, query, key).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		s.keyCache[key] = keyCacheEntry{valid: false, expiresAt: time.Now().Add(s.cacheTTL)}
		return uuid.Nil, domain.ErrUnauthorized
	}
	if err != nil {
		s.logger.Error("failed to resolve API key", "error", err)
		// Do not cache errors; the next request retries the database.
		return uuid.Nil, fmt.Errorf("resolve api key: %w", err)
	}

	s.keyCache[key] = keyCacheEntry{tenantID: tenantID, valid: true, expiresAt: time.Now().Add(s.cacheTTL)}
	return tenantID, nil
}

func (s *TenantStore) Config(ctx context.Context, tenantID uuid.UUID) (*domain.TenantConfig, error) {
	const query = `
		SELECT critical_severity, suppression_window_seconds, rule_version, redelivery_ceiling
		FROM tenants
		WHERE tenant_id = $1`

	cfg := s.defaults
	cfg.TenantID = tenantID

	var (
		severity sql.NullString
		window   sql.NullInt64
		ruleVer  sql.NullInt64
		ceiling  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&severity, &window, &ruleVer, &ceiling)
	if errors.Is(err, sql.ErrNoRows) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select tenant config: %w", err)
	}

	if severity.Valid {
		if sev, ok := domain.ParseSeverity(severity.String); ok {
			cfg.CriticalSeverity = sev
		}
	}
	if window.Valid {
		cfg.SuppressionWindow = time.Duration(window.Int64) * time.Second
	}
	if ruleVer.Valid {
		cfg.RuleVersion = int(ruleVer.Int64)
	}
	if ceiling.Valid {
		cfg.RedeliveryCeiling = int(ceiling.Int64)
	}
	return &cfg, nil
}
