package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/error-pipeline/internal/domain"
)

// EventStore writes raw log events to PostgreSQL for later retrieval and
// search. Writes upsert on event_id, so a redelivered message is a no-op.
type EventStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEventStore(db *sql.DB, logger *slog.Logger) *EventStore {
	return &EventStore{db: db, logger: logger}
}

func (s *EventStore) WriteEvent(ctx context.Context, event *domain.LogEvent) error {
	stack, err := json.Marshal(event.StackTrace)
	if err != nil {
		return fmt.Errorf("marshal stack trace: %w", err)
	}
	var evctx []byte
	if event.Context != nil {
		evctx, err = json.Marshal(event.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
	}

	const query = `
		INSERT INTO events (
			event_id, tenant_id, received_at, client_timestamp, severity,
			message, stack_trace, environment, release_version, user_id,
			context, identity, rule_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.TenantID, event.ReceivedAt, event.ClientTimestamp,
		string(event.Severity), event.Message, stack, event.Environment,
		event.ReleaseVersion, nullable(event.UserID), evctx, event.Identity,
		event.RuleVersion,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
