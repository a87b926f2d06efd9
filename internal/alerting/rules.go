package alerting

import (
	"fmt"
	"time"
)

// Thresholds is the effective rule configuration the engine evaluates each
// cycle. Exposed verbatim on the debug config endpoint.
type Thresholds struct {
	MaxDepth         int64         `json:"max_depth"`
	DepthWarningPct  float64       `json:"depth_warning_pct"`
	DepthCriticalPct float64       `json:"depth_critical_pct"`
	WaitWarning      time.Duration `json:"wait_warning"`
	WaitCritical     time.Duration `json:"wait_critical"`
	FailureWarning   float64       `json:"failure_rate_warning_pct"`
	FailureCritical  float64       `json:"failure_rate_critical_pct"`
	ProcWarning      time.Duration `json:"processing_time_warning"`
	ProcCritical     time.Duration `json:"processing_time_critical"`
}

// stalledSampleCount is how many zero-progress samples mark a queue stalled.
const stalledSampleCount = 5

// evaluateQueue runs the five threshold rules against a queue's window and
// returns the conditions observed this cycle. A cold window (no samples)
// raises nothing.
func evaluateQueue(queueName string, w *Window, th Thresholds, now time.Time) []*Alert {
	latest := w.Latest()
	if latest == nil {
		return nil
	}

	var alerts []*Alert

	// Queue depth as a percentage of the configured maximum. Paused queues
	// are still measured here.
	if th.MaxDepth > 0 {
		pct := 100 * float64(latest.Waiting) / float64(th.MaxDepth)
		if sev, threshold, ok := grade(pct, th.DepthWarningPct, th.DepthCriticalPct); ok {
			alerts = append(alerts, &Alert{
				Queue:    queueName,
				Type:     AlertQueueDepth,
				Severity: sev,
				Message: fmt.Sprintf("queue %s depth at %.1f%% of maximum (%d/%d waiting)",
					queueName, pct, latest.Waiting, th.MaxDepth),
				Value:     pct,
				Threshold: threshold,
				RaisedAt:  now,
			})
		}
	}

	// Oldest waiting job age, from the engine's local clock. Clock skew on
	// the stored enqueue time is not corrected.
	if latest.OldestWait > 0 {
		if sev, threshold, ok := gradeDuration(latest.OldestWait, th.WaitWarning, th.WaitCritical); ok {
			alerts = append(alerts, &Alert{
				Queue:    queueName,
				Type:     AlertWaitTime,
				Severity: sev,
				Message: fmt.Sprintf("oldest job in queue %s has been waiting %s",
					queueName, latest.OldestWait.Round(time.Second)),
				Value:     float64(latest.OldestWait.Milliseconds()),
				Threshold: float64(threshold.Milliseconds()),
				RaisedAt:  now,
			})
		}
	}

	// Failure rate over the trailing window, already suppressed below the
	// minimum sample count.
	if sev, threshold, ok := grade(latest.FailureRate, th.FailureWarning, th.FailureCritical); ok {
		alerts = append(alerts, &Alert{
			Queue:    queueName,
			Type:     AlertFailureRate,
			Severity: sev,
			Message: fmt.Sprintf("queue %s failure rate at %.1f%%",
				queueName, latest.FailureRate),
			Value:     latest.FailureRate,
			Threshold: threshold,
			RaisedAt:  now,
		})
	}

	// Throughput-derived average processing time.
	if latest.AvgProcessing > 0 {
		if sev, threshold, ok := gradeDuration(latest.AvgProcessing, th.ProcWarning, th.ProcCritical); ok {
			alerts = append(alerts, &Alert{
				Queue:    queueName,
				Type:     AlertProcessingTime,
				Severity: sev,
				Message: fmt.Sprintf("queue %s average processing time at %s",
					queueName, latest.AvgProcessing.Round(time.Second)),
				Value:     float64(latest.AvgProcessing.Milliseconds()),
				Threshold: float64(threshold.Milliseconds()),
				RaisedAt:  now,
			})
		}
	}

	// Stalled: active jobs present but zero completions or failures across
	// the recent samples. Escalates to critical when the whole window shows
	// no progress.
	if w.StalledFor(stalledSampleCount) {
		sev := SeverityWarning
		if w.StalledFor(w.max) {
			sev = SeverityCritical
		}
		alerts = append(alerts, &Alert{
			Queue:    queueName,
			Type:     AlertQueueStalled,
			Severity: sev,
			Message: fmt.Sprintf("queue %s has %d active jobs but no completions in the last %d polls",
				queueName, latest.Active, stalledSampleCount),
			Value:     float64(latest.Active),
			Threshold: 0,
			RaisedAt:  now,
		})
	}

	return alerts
}

func grade(value, warning, critical float64) (Severity, float64, bool) {
	if critical > 0 && value >= critical {
		return SeverityCritical, critical, true
	}
	if warning > 0 && value >= warning {
		return SeverityWarning, warning, true
	}
	return "", 0, false
}

func gradeDuration(value, warning, critical time.Duration) (Severity, time.Duration, bool) {
	if critical > 0 && value >= critical {
		return SeverityCritical, critical, true
	}
	if warning > 0 && value >= warning {
		return SeverityWarning, warning, true
	}
	return "", 0, false
}
