package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/user/error-pipeline/internal/domain"
)

const uniqueViolation = "23505"

// GroupStore persists error groups with optimistic concurrency: every row
// carries a version column and updates are conditional on it. This is the
// primitive all cross-worker coordination rides on.
type GroupStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewGroupStore(db *sql.DB, logger *slog.Logger) *GroupStore {
	return &GroupStore{db: db, logger: logger}
}

func (s *GroupStore) GetGroup(ctx context.Context, tenantID uuid.UUID, fp domain.Fingerprint) (*domain.ErrorGroup, error) {
	const query = `
		SELECT tenant_id, fingerprint, first_seen, last_seen, event_count,
		       sample_event_id, sample_received_at, status, rule_version, version
		FROM error_groups
		WHERE tenant_id = $1 AND fingerprint = $2`

	var g domain.ErrorGroup
	err := s.db.QueryRowContext(ctx, query, tenantID, string(fp)).Scan(
		&g.TenantID, &g.Fingerprint, &g.FirstSeen, &g.LastSeen, &g.EventCount,
		&g.SampleEventID, &g.SampleReceivedAt, &g.Status, &g.RuleVersion, &g.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select group: %w", err)
	}
	return &g, nil
}

func (s *GroupStore) CreateGroup(ctx context.Context, group *domain.ErrorGroup) error {
	const query = `
		INSERT INTO error_groups (
			tenant_id, fingerprint, first_seen, last_seen, event_count,
			sample_event_id, sample_received_at, status, rule_version, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)`

	_, err := s.db.ExecContext(ctx, query,
		group.TenantID, string(group.Fingerprint), group.FirstSeen, group.LastSeen,
		group.EventCount, group.SampleEventID, group.SampleReceivedAt,
		string(group.Status), group.RuleVersion,
	)
	if isUniqueViolation(err) {
		return domain.ErrGroupUpdateConflict
	}
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	group.Version = 1
	return nil
}

func (s *GroupStore) UpdateGroup(ctx context.Context, group *domain.ErrorGroup, expectedVersion int64) error {
	const query = `
		UPDATE error_groups SET
			first_seen = $3, last_seen = $4, event_count = $5,
			sample_event_id = $6, sample_received_at = $7,
			version = version + 1
		WHERE tenant_id = $1 AND fingerprint = $2 AND version = $8`

	res, err := s.db.ExecContext(ctx, query,
		group.TenantID, string(group.Fingerprint), group.FirstSeen, group.LastSeen,
		group.EventCount, group.SampleEventID, group.SampleReceivedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update group rows: %w", err)
	}
	if n == 0 {
		return domain.ErrGroupUpdateConflict
	}
	group.Version = expectedVersion + 1
	return nil
}

// ClaimEventIdentity is an insert-if-absent on the idempotency table. An
// expired record may be reclaimed in place, which is what allows the same
// identity to count again after the retention window.
func (s *GroupStore) ClaimEventIdentity(ctx context.Context, tenantID uuid.UUID, identity string, expiresAt time.Time) (bool, error) {
	const query = `
		INSERT INTO processed_events (tenant_id, identity, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, identity) DO UPDATE
			SET expires_at = EXCLUDED.expires_at
			WHERE processed_events.expires_at <= NOW()`

	res, err := s.db.ExecContext(ctx, query, tenantID, identity, expiresAt)
	if err != nil {
		return false, fmt.Errorf("claim identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim identity rows: %w", err)
	}
	return n == 1, nil
}

func (s *GroupStore) ReleaseEventIdentity(ctx context.Context, tenantID uuid.UUID, identity string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE tenant_id = $1 AND identity = $2`,
		tenantID, identity,
	)
	if err != nil {
		return fmt.Errorf("release identity: %w", err)
	}
	return nil
}

func (s *GroupStore) PruneExpiredIdentities(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE expires_at <= $1`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("prune identities: %w", err)
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
