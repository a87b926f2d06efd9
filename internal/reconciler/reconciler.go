package reconciler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/config"
	"github.com/leozw/queue-warden/internal/db"
	"github.com/leozw/queue-warden/internal/metrics"
)

// RunStore is the durable-store surface the reconciler needs. Satisfied by
// *db.Repository.
type RunStore interface {
	ListRunningRuns(ctx context.Context, limit int) ([]*db.Run, error)
	CloseStalledRuns(ctx context.Context, ids []string, errMsg string, completedAt time.Time) (int64, error)
	GetRunStatusesByJob(ctx context.Context, jobID string) ([]db.RunStatus, error)
	UpdateJobStatus(ctx context.Context, jobID string, status db.JobStatus) error
}

// JobStatusResolver rolls a job's run statuses up into the job's own status.
// The rule belongs to the execution pipeline; the reconciler only applies it.
type JobStatusResolver func(statuses []db.RunStatus) db.JobStatus

// DefaultJobStatusResolver mirrors the pipeline's rollup: still running wins,
// then any error, otherwise completed.
func DefaultJobStatusResolver(statuses []db.RunStatus) db.JobStatus {
	hasError := false
	for _, s := range statuses {
		switch s {
		case db.RunStatusRunning, db.RunStatusQueued:
			return db.JobStatusRunning
		case db.RunStatusError:
			hasError = true
		}
	}
	if hasError {
		return db.JobStatusError
	}
	return db.JobStatusCompleted
}

const stalledRunMessage = "execution abandoned: worker stopped reporting before completion"

// Reconciler finds runs stuck in running state past the maximum possible
// execution window and force-closes them, then recomputes each touched
// parent job's status. The stall threshold plus recovery buffer must exceed
// the queue's own lock-renewal window so we never fight a worker that still
// legitimately holds the job.
type Reconciler struct {
	store   RunStore
	resolve JobStatusResolver
	cfg     config.ReconcilerConfig
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewReconciler(store RunStore, resolve JobStatusResolver, cfg config.ReconcilerConfig, m *metrics.Collector, logger *zap.Logger) *Reconciler {
	if resolve == nil {
		resolve = DefaultJobStatusResolver
	}
	return &Reconciler{
		store:   store,
		resolve: resolve,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Run sweeps until ctx is cancelled. A failed cycle is logged and retried on
// the next tick; it never crashes the process.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Starting stalled-run reconciler",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Duration("stall_threshold", r.cfg.StallThreshold),
		zap.Duration("recovery_buffer", r.cfg.RecoveryBuffer),
	)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping stalled-run reconciler")
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx, time.Now()); err != nil {
				r.logger.Error("Reconciliation cycle failed", zap.Error(err))
			}
		}
	}
}

// Reconcile performs one sweep and returns the number of runs closed. The
// close and the job-status rollup are deliberately not one transaction: a
// crash in between leaves runs correctly closed and a job status that heals
// on the next cycle.
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	defer func() {
		r.metrics.ObserveCycle("reconciler", time.Since(start))
	}()

	runs, err := r.store.ListRunningRuns(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list running runs: %w", err)
	}

	cutoff := r.cfg.StallThreshold + r.cfg.RecoveryBuffer
	var stalled []string
	jobs := make(map[string]struct{})

	for _, run := range runs {
		if run.StartedAt == nil {
			// Never force-close a run whose age we cannot establish.
			r.logger.Warn("Running run has no start timestamp, skipping",
				zap.String("run_id", run.ID),
				zap.String("job_id", run.JobID),
			)
			continue
		}

		if now.Sub(*run.StartedAt) > cutoff {
			stalled = append(stalled, run.ID)
			jobs[run.JobID] = struct{}{}
		}
	}

	if len(stalled) == 0 {
		return 0, nil
	}

	closed, err := r.store.CloseStalledRuns(ctx, stalled, stalledRunMessage, now)
	if err != nil {
		return 0, fmt.Errorf("failed to close stalled runs: %w", err)
	}

	r.logger.Info("Closed stalled runs",
		zap.Int64("closed", closed),
		zap.Int("candidates", len(stalled)),
		zap.Int("jobs_touched", len(jobs)),
	)
	r.metrics.RecordStalledRunsClosed(int(closed))

	recomputed := 0
	for jobID := range jobs {
		statuses, err := r.store.GetRunStatusesByJob(ctx, jobID)
		if err != nil {
			r.logger.Warn("Failed to fetch run statuses for job rollup",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
			continue
		}

		status := r.resolve(statuses)
		if err := r.store.UpdateJobStatus(ctx, jobID, status); err != nil {
			r.logger.Warn("Failed to update job status",
				zap.String("job_id", jobID),
				zap.String("status", string(status)),
				zap.Error(err),
			)
			continue
		}
		recomputed++
	}
	r.metrics.RecordJobsRecomputed(recomputed)

	return int(closed), nil
}
