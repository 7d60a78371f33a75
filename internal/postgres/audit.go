package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billing/pkg/audit"
	"github.com/dmitrymomot/billing/pkg/pg"
)

// AuditStore is the PostgreSQL audit.Storage. Events written inside a
// pg.Transactor transaction commit or roll back with it.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ audit.Storage = (*AuditStore)(nil)

// NewAuditStore stores audit events in the audit_events table.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Store(ctx context.Context, e audit.Event) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	query := `
		INSERT INTO audit_events (
			id, user_id, action, resource, resource_id, result, error, request_id, metadata, created_at
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := pg.Executor(ctx, s.pool).Exec(ctx, query,
		e.ID, e.UserID, e.Action, e.Resource, e.ResourceID,
		string(e.Result), e.Error, e.RequestID, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: store event %s: %w", audit.ErrStorageNotAvailable, e.Action, err)
	}
	return nil
}

// ListByResource returns the events recorded against one resource, oldest first.
func (s *AuditStore) ListByResource(ctx context.Context, resource, resourceID string) ([]audit.Event, error) {
	query := `
		SELECT id::text, user_id, action, resource, resource_id, result, error, request_id, metadata, created_at
		FROM audit_events
		WHERE resource = $1 AND resource_id = $2
		ORDER BY created_at, id
	`
	rows, err := pg.Executor(ctx, s.pool).Query(ctx, query, resource, resourceID)
	if err != nil {
		return nil, mapError(err, "list audit events")
	}
	events, err := collect(rows, scanAuditEvent)
	return events, mapError(err, "list audit events")
}

func scanAuditEvent(row pgx.Row) (audit.Event, error) {
	var (
		e      audit.Event
		result string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID,
		&result, &e.Error, &e.RequestID, &e.Metadata, &e.CreatedAt)
	e.Result = audit.Result(result)
	return e, err
}
