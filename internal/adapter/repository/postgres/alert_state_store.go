package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/user/error-pipeline/internal/domain"
)

// AlertStateStore persists notification state with the same versioned
// conditional-update contract as GroupStore.
type AlertStateStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAlertStateStore(db *sql.DB, logger *slog.Logger) *AlertStateStore {
	return &AlertStateStore{db: db, logger: logger}
}

func (s *AlertStateStore) GetAlertState(ctx context.Context, tenantID uuid.UUID, fp domain.Fingerprint) (*domain.AlertState, error) {
	const query = `
		SELECT tenant_id, fingerprint, last_notified_at, suppressed_until,
		       suppressed_count, version
		FROM alert_states
		WHERE tenant_id = $1 AND fingerprint = $2`

	var st domain.AlertState
	err := s.db.QueryRowContext(ctx, query, tenantID, string(fp)).Scan(
		&st.TenantID, &st.Fingerprint, &st.LastNotifiedAt, &st.SuppressedUntil,
		&st.SuppressedCount, &st.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select alert state: %w", err)
	}
	return &st, nil
}

func (s *AlertStateStore) PutAlertState(ctx context.Context, state *domain.AlertState, expectedVersion int64) error {
	if expectedVersion == 0 {
		const query = `
			INSERT INTO alert_states (
				tenant_id, fingerprint, last_notified_at, suppressed_until,
				suppressed_count, version
			) VALUES ($1, $2, $3, $4, $5, 1)`

		_, err := s.db.ExecContext(ctx, query,
			state.TenantID, string(state.Fingerprint), state.LastNotifiedAt,
			state.SuppressedUntil, state.SuppressedCount,
		)
		if isUniqueViolation(err) {
			return domain.ErrGroupUpdateConflict
		}
		if err != nil {
			return fmt.Errorf("insert alert state: %w", err)
		}
		state.Version = 1
		return nil
	}

	const query = `
		UPDATE alert_states SET
			last_notified_at = $3, suppressed_until = $4,
			suppressed_count = $5, version = version + 1
		WHERE tenant_id = $1 AND fingerprint = $2 AND version = $6`

	res, err := s.db.ExecContext(ctx, query,
		state.TenantID, string(state.Fingerprint), state.LastNotifiedAt,
		state.SuppressedUntil, state.SuppressedCount, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update alert state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert state rows: %w", err)
	}
	if n == 0 {
		return domain.ErrGroupUpdateConflict
	}
	state.Version = expectedVersion + 1
	return nil
}
