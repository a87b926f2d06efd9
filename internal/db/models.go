package db

import (
	"time"
)

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// Run is a single execution attempt of a Job. The execution workers own the
// normal lifecycle; the reconciler only ever force-closes runs that were left
// in running state past the stall window.
type Run struct {
	ID          string     `json:"id" db:"id"`
	JobID       string     `json:"job_id" db:"job_id"`
	TenantID    string     `json:"tenant_id" db:"tenant_id"`
	Status      RunStatus  `json:"status" db:"status"`
	Error       *string    `json:"error,omitempty" db:"error"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

type Job struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Name      string    `json:"name" db:"name"`
	Status    JobStatus `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UsageTotals holds the minutes a tenant has consumed in the current billing
// period, broken down by resource kind. Written by the execution pipeline on
// successful completion; read-only from this service.
type UsageTotals struct {
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	BrowserMinutes int64     `json:"browser_minutes" db:"browser_minutes"`
	LoadMinutes    int64     `json:"load_minutes" db:"load_minutes"`
	CheckMinutes   int64     `json:"check_minutes" db:"check_minutes"`
	PeriodStart    time.Time `json:"period_start" db:"period_start"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PlanLimits is the per-tier included quota and overage pricing. Prices are
// minor currency units (cents) per minute.
type PlanLimits struct {
	Tier                   string `json:"tier" db:"tier"`
	IncludedBrowserMinutes int64  `json:"included_browser_minutes" db:"included_browser_minutes"`
	IncludedLoadMinutes    int64  `json:"included_load_minutes" db:"included_load_minutes"`
	IncludedCheckMinutes   int64  `json:"included_check_minutes" db:"included_check_minutes"`
	BrowserOverageCents    int64  `json:"browser_overage_cents" db:"browser_overage_cents"`
	LoadOverageCents       int64  `json:"load_overage_cents" db:"load_overage_cents"`
	CheckOverageCents      int64  `json:"check_overage_cents" db:"check_overage_cents"`
}

// BillingSettings is the per-tenant spending policy.
type BillingSettings struct {
	TenantID         string    `json:"tenant_id" db:"tenant_id"`
	PlanTier         string    `json:"plan_tier" db:"plan_tier"`
	HardLimitEnabled bool      `json:"hard_limit_enabled" db:"hard_limit_enabled"`
	HardLimitCents   int64     `json:"hard_limit_cents" db:"hard_limit_cents"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
