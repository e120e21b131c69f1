package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/apperrors"
)

type PostgresRetentionRepo struct {
	db *sqlx.DB
}

func NewPostgresRetentionRepo(db *sqlx.DB) *PostgresRetentionRepo {
	repo := &PostgresRetentionRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresRetentionRepo) Upsert(ctx context.Context, policy *model.RetentionPolicy) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retention_policies (
			id, tenant_id, entity_type, retention_days, compliance_preset, active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			retention_days = EXCLUDED.retention_days,
			compliance_preset = EXCLUDED.compliance_preset,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, policy.ID, policy.TenantID, policy.EntityType, policy.RetentionDays,
		policy.CompliancePreset, policy.Active, policy.CreatedAt, policy.UpdatedAt)
	return err
}

func (r *PostgresRetentionRepo) Get(ctx context.Context, id string) (*model.RetentionPolicy, error) {
	var policy model.RetentionPolicy
	err := r.db.GetContext(ctx, &policy, `SELECT * FROM retention_policies WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("retention policy not found")
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *PostgresRetentionRepo) List(ctx context.Context, tenantID string) ([]model.RetentionPolicy, error) {
	var policies []model.RetentionPolicy
	var err error
	if tenantID != "" {
		err = r.db.SelectContext(ctx, &policies, `
			SELECT * FROM retention_policies WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	} else {
		err = r.db.SelectContext(ctx, &policies, `SELECT * FROM retention_policies ORDER BY created_at`)
	}
	return policies, err
}

func (r *PostgresRetentionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM retention_policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFound("retention policy not found")
	}
	return nil
}

func (r *PostgresRetentionRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS retention_policies (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			entity_type TEXT,
			retention_days INTEGER NOT NULL,
			compliance_preset TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_retention_tenant ON retention_policies(tenant_id)`)
	return nil
}
