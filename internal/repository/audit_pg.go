package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/opscope/opscope/internal/model"
)

type PostgresAuditRepo struct {
	db *sqlx.DB
}

func NewPostgresAuditRepo(db *sqlx.DB) *PostgresAuditRepo {
	repo := &PostgresAuditRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, event *model.AuditEvent) error {
	if event == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, kind, correlation_id, tenant_id, actor, timestamp,
			method, path, status_code, duration_ms, handler_count, entity_count,
			handler_name, success, error_detail,
			entity_type, entity_id, operation, diff, version
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10,$11,$12,
			$13,$14,$15,
			$16,$17,$18,$19,$20
		)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Kind, event.CorrelationID, event.TenantID, event.Actor, event.Timestamp,
		event.Method, event.Path, event.StatusCode, event.DurationMs, event.HandlerCount, event.EntityCount,
		event.HandlerName, event.Success, event.ErrorDetail,
		event.EntityType, event.EntityID, event.Operation, event.Diff, event.Version)
	return err
}

// UpdateRoot finalizes a request root with its outcome and child counts.
func (r *PostgresAuditRepo) UpdateRoot(ctx context.Context, event *model.AuditEvent) error {
	if event == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE audit_events
		SET status_code = $2, duration_ms = $3, handler_count = $4, entity_count = $5
		WHERE id = $1
	`, event.ID, event.StatusCode, event.DurationMs, event.HandlerCount, event.EntityCount)
	return err
}

// ListByCorrelation returns every event row for one correlation id, oldest
// first.
func (r *PostgresAuditRepo) ListByCorrelation(ctx context.Context, correlationID string) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM audit_events
		WHERE correlation_id = $1
		ORDER BY timestamp ASC, id ASC
	`, correlationID)
	return events, err
}

// ListEntityHistory returns one entity's change rows, newest first.
func (r *PostgresAuditRepo) ListEntityHistory(ctx context.Context, entityType, entityID string, limit, offset int) ([]model.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []model.AuditEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM audit_events
		WHERE kind = 'entity_change' AND entity_type = $1 AND entity_id = $2
		ORDER BY timestamp DESC, version DESC
		LIMIT $3 OFFSET $4
	`, entityType, entityID, limit, offset)
	return events, err
}

// DeleteOlderThan implements the retention deletion contract. An empty tenant
// id or entity type widens that dimension.
func (r *PostgresAuditRepo) DeleteOlderThan(ctx context.Context, tenantID, entityType string, cutoff time.Time) (int64, error) {
	var (
		query string
		args  []interface{}
	)
	if entityType != "" {
		// Narrowed policies only purge the matching entity rows.
		query = `DELETE FROM audit_events WHERE kind = 'entity_change' AND timestamp < $1 AND entity_type = $2`
		args = []interface{}{cutoff, entityType}
		if tenantID != "" {
			query += " AND tenant_id = $3"
			args = append(args, tenantID)
		}
	} else {
		query = `DELETE FROM audit_events WHERE correlation_id IN (
			SELECT correlation_id FROM audit_events
			WHERE kind = 'http_request' AND timestamp < $1`
		args = []interface{}{cutoff}
		if tenantID != "" {
			query += " AND tenant_id = $2"
			args = append(args, tenantID)
		}
		query += ")"
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *PostgresAuditRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			tenant_id TEXT,
			actor TEXT,
			timestamp TIMESTAMPTZ,
			method TEXT,
			path TEXT,
			status_code INTEGER,
			duration_ms BIGINT,
			handler_count INTEGER,
			entity_count INTEGER,
			handler_name TEXT,
			success BOOLEAN,
			error_detail TEXT,
			entity_type TEXT,
			entity_id TEXT,
			operation TEXT,
			diff JSONB,
			version INTEGER
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_events_correlation ON audit_events(correlation_id, timestamp)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_events_entity ON audit_events(entity_type, entity_id, timestamp DESC)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_events_tenant ON audit_events(tenant_id, timestamp DESC)`)
	return nil
}
