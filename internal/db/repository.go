package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping() error {
	return r.db.Ping()
}

// Billing reads

func (r *Repository) GetUsageTotals(ctx context.Context, tenantID string) (*UsageTotals, error) {
	var u UsageTotals
	query := `SELECT * FROM usage_totals WHERE tenant_id = $1`
	err := r.db.GetContext(ctx, &u, query, tenantID)
	if err == sql.ErrNoRows {
		// No usage row yet means the tenant has consumed nothing this period.
		return &UsageTotals{TenantID: tenantID}, nil
	}
	return &u, err
}

func (r *Repository) GetBillingSettings(ctx context.Context, tenantID string) (*BillingSettings, error) {
	var b BillingSettings
	query := `SELECT * FROM billing_settings WHERE tenant_id = $1`
	err := r.db.GetContext(ctx, &b, query, tenantID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("billing settings not found for tenant %s", tenantID)
	}
	return &b, err
}

func (r *Repository) GetPlanLimits(ctx context.Context, tier string) (*PlanLimits, error) {
	var p PlanLimits
	query := `SELECT * FROM plan_limits WHERE tier = $1`
	err := r.db.GetContext(ctx, &p, query, tier)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan limits not found for tier %s", tier)
	}
	return &p, err
}

// Run reconciliation

func (r *Repository) ListRunningRuns(ctx context.Context, limit int) ([]*Run, error) {
	runs := []*Run{}
	query := `
        SELECT * FROM runs
        WHERE status = $1
        ORDER BY created_at ASC
        LIMIT $2`

	err := r.db.SelectContext(ctx, &runs, query, RunStatusRunning, limit)
	return runs, err
}

func (r *Repository) CloseStalledRuns(ctx context.Context, ids []string, errMsg string, completedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
        UPDATE runs SET
            status = $1,
            error = $2,
            completed_at = $3
        WHERE id = ANY($4) AND status = $5`

	res, err := r.db.ExecContext(ctx, query,
		RunStatusError, errMsg, completedAt, pq.Array(ids), RunStatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) GetRunStatusesByJob(ctx context.Context, jobID string) ([]RunStatus, error) {
	statuses := []RunStatus{}
	query := `SELECT status FROM runs WHERE job_id = $1`
	err := r.db.SelectContext(ctx, &statuses, query, jobID)
	return statuses, err
}

func (r *Repository) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error {
	query := `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), jobID)
	return err
}
