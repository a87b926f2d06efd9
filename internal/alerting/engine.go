package alerting

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/config"
	"github.com/leozw/queue-warden/internal/metrics"
	"github.com/leozw/queue-warden/internal/queue"
)

// StatsSource provides per-queue counter snapshots. Satisfied by
// *queue.Inspector.
type StatsSource interface {
	Snapshot(ctx context.Context, queueName string) (*queue.Snapshot, error)
}

// Notifier delivers newly raised or escalated alerts. Satisfied by
// *Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, alerts []*Alert) DispatchResult
}

// Engine polls every monitored queue on a fixed interval, evaluates the
// threshold rules, and maintains the active/historical alert sets. All alert
// state is owned by this one instance and lives in process memory; running
// multiple engine instances produces duplicate notifications, which is a
// known limitation rather than a supported scale-out mode.
type Engine struct {
	cfg        config.AlertingConfig
	thresholds Thresholds
	source     StatsSource
	notifier   Notifier
	logger     *zap.Logger
	metrics    *metrics.Collector

	mu           sync.RWMutex
	windows      map[string]*Window
	active       map[alertKey]*Alert
	history      []*Alert
	lastNotified map[alertKey]time.Time
}

func NewEngine(cfg config.AlertingConfig, source StatsSource, notifier Notifier, m *metrics.Collector, logger *zap.Logger) *Engine {
	return &Engine{
		cfg: cfg,
		thresholds: Thresholds{
			MaxDepth:         cfg.QueueMaxDepth,
			DepthWarningPct:  cfg.DepthWarningPct,
			DepthCriticalPct: cfg.DepthCriticalPct,
			WaitWarning:      cfg.WaitTimeWarning,
			WaitCritical:     cfg.WaitTimeCritical,
			FailureWarning:   cfg.FailureRateWarning,
			FailureCritical:  cfg.FailureRateCrit,
			ProcWarning:      cfg.ProcTimeWarning,
			ProcCritical:     cfg.ProcTimeCritical,
		},
		source:       source,
		notifier:     notifier,
		logger:       logger,
		metrics:      m,
		windows:      make(map[string]*Window),
		active:       make(map[alertKey]*Alert),
		lastNotified: make(map[alertKey]time.Time),
	}
}

// Run polls until ctx is cancelled. An in-flight cycle finishes before the
// loop exits; cycles are never cancelled midway.
func (e *Engine) Run(ctx context.Context) {
	if !e.cfg.Enabled {
		e.logger.Info("Queue alerting disabled")
		return
	}

	e.logger.Info("Starting queue alerting engine",
		zap.Strings("queues", e.cfg.Queues),
		zap.Duration("poll_interval", e.cfg.PollInterval),
	)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.cycle(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping queue alerting engine")
			return
		case <-ticker.C:
			e.cycle(ctx, time.Now())
		}
	}
}

// cycle samples every queue, evaluates the rules, and reconciles the result
// against the active alert set. A single queue's sampling failure skips that
// queue, never the cycle; a cycle's failure never reaches the caller.
func (e *Engine) cycle(ctx context.Context, now time.Time) {
	start := time.Now()
	raised := make(map[alertKey]*Alert)

	for _, queueName := range e.cfg.Queues {
		snap, err := e.source.Snapshot(ctx, queueName)
		if err != nil {
			e.logger.Warn("Failed to sample queue, skipping this cycle",
				zap.String("queue", queueName),
				zap.Error(err),
			)
			continue
		}

		sample := Sample{
			Timestamp: now,
			Waiting:   snap.Waiting,
			Active:    snap.Active,
			Completed: snap.Completed,
			Failed:    snap.Failed,
			Delayed:   snap.Delayed,
			Paused:    snap.Paused,
		}
		if snap.OldestWaiting != nil {
			// Wait age is always local now minus stored enqueue time.
			sample.OldestWait = now.Sub(*snap.OldestWaiting)
			if sample.OldestWait < 0 {
				sample.OldestWait = 0
			}
		}

		e.mu.Lock()
		w, ok := e.windows[queueName]
		if !ok {
			w = NewWindow(e.cfg.WindowSize)
			e.windows[queueName] = w
		}
		w.Add(sample)
		latest := w.Latest()
		latest.FailureRate = w.FailureRate(now, e.cfg.FailureRateWindow, e.cfg.MinSamples)
		latest.AvgProcessing = w.AvgProcessing()

		for _, a := range evaluateQueue(queueName, w, e.thresholds, now) {
			raised[alertKey{queue: a.Queue, typ: a.Type}] = a
		}
		e.mu.Unlock()

		e.metrics.RecordQueueSample(queueName, snap.Waiting, sample.OldestWait)
	}

	toNotify := e.reconcile(raised, now)

	if len(toNotify) > 0 && e.notifier != nil {
		result := e.notifier.Dispatch(ctx, toNotify)
		e.logger.Info("Dispatched alert notifications",
			zap.Int("alerts", len(toNotify)),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	}

	e.metrics.ObserveCycle("alerting", time.Since(start))
}

// reconcile diffs this cycle's raised conditions against the active set.
// Resolution is immediate: any active alert whose condition is no longer
// observed moves to history this cycle. New alerts respect the per-key
// cooldown; a severity escalation bypasses it.
func (e *Engine) reconcile(raised map[alertKey]*Alert, now time.Time) []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var toNotify []*Alert

	for k, a := range e.active {
		if _, stillRaised := raised[k]; !stillRaised {
			resolvedAt := now
			a.Resolved = true
			a.ResolvedAt = &resolvedAt
			e.appendHistory(a)
			delete(e.active, k)
			e.metrics.SetAlertActive(a.Queue, string(a.Type), false)
			e.logger.Info("Alert resolved",
				zap.String("queue", a.Queue),
				zap.String("type", string(a.Type)),
				zap.Duration("duration", now.Sub(a.RaisedAt)),
			)
		}
	}

	for k, a := range raised {
		existing, ok := e.active[k]
		if ok {
			escalated := existing.Severity == SeverityWarning && a.Severity == SeverityCritical
			existing.Severity = a.Severity
			existing.Message = a.Message
			existing.Value = a.Value
			existing.Threshold = a.Threshold
			if escalated {
				notifyCopy := *existing
				toNotify = append(toNotify, &notifyCopy)
				e.lastNotified[k] = now
				e.metrics.RecordAlertRaised(a.Queue, string(a.Type), string(a.Severity))
				e.logger.Warn("Alert escalated to critical",
					zap.String("queue", a.Queue),
					zap.String("type", string(a.Type)),
				)
			}
			continue
		}

		e.active[k] = a
		e.metrics.SetAlertActive(a.Queue, string(a.Type), true)
		e.metrics.RecordAlertRaised(a.Queue, string(a.Type), string(a.Severity))
		e.logger.Warn("Alert raised",
			zap.String("queue", a.Queue),
			zap.String("type", string(a.Type)),
			zap.String("severity", string(a.Severity)),
			zap.String("message", a.Message),
		)

		if last, notified := e.lastNotified[k]; notified && now.Sub(last) < e.cfg.AlertCooldown {
			e.logger.Debug("Notification suppressed by cooldown",
				zap.String("queue", a.Queue),
				zap.String("type", string(a.Type)),
			)
			continue
		}
		notifyCopy := *a
		toNotify = append(toNotify, &notifyCopy)
		e.lastNotified[k] = now
	}

	return toNotify
}

func (e *Engine) appendHistory(a *Alert) {
	e.history = append(e.history, a)
	max := e.cfg.HistorySize
	if max <= 0 {
		max = 100
	}
	if len(e.history) > max {
		e.history = e.history[len(e.history)-max:]
	}
}

// LatestSamples returns the newest sample per configured queue, nil for
// queues not yet sampled.
func (e *Engine) LatestSamples() map[string]*Sample {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]*Sample, len(e.cfg.Queues))
	for _, queueName := range e.cfg.Queues {
		out[queueName] = nil
		if w, ok := e.windows[queueName]; ok {
			if latest := w.Latest(); latest != nil {
				s := *latest
				out[queueName] = &s
			}
		}
	}
	return out
}

func (e *Engine) ActiveAlerts() []*Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		copied := *a
		out = append(out, &copied)
	}
	return out
}

// History returns up to limit resolved alerts, most recent first.
func (e *Engine) History(limit int) []*Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}

	out := make([]*Alert, 0, limit)
	for i := len(e.history) - 1; i >= len(e.history)-limit; i-- {
		copied := *e.history[i]
		out = append(out, &copied)
	}
	return out
}

// Thresholds exposes the effective rule configuration for debugging.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}
