package alerting

import "time"

// Sample is one polled observation of a queue, with the derived rates filled
// in after it joins the window.
type Sample struct {
	Timestamp  time.Time     `json:"timestamp"`
	Waiting    int64         `json:"waiting"`
	Active     int64         `json:"active"`
	Completed  int64         `json:"completed"`
	Failed     int64         `json:"failed"`
	Delayed    int64         `json:"delayed"`
	Paused     bool          `json:"paused"`
	OldestWait time.Duration `json:"oldest_wait"`

	FailureRate   float64       `json:"failure_rate"`
	AvgProcessing time.Duration `json:"avg_processing"`
}

// Window is a bounded sliding window of the most recent samples for one
// queue. Never persisted; alerting recovers within one polling interval
// after a restart.
type Window struct {
	max     int
	samples []Sample
}

func NewWindow(max int) *Window {
	if max <= 0 {
		max = 30
	}
	return &Window{max: max}
}

func (w *Window) Add(s Sample) {
	w.samples = append(w.samples, s)
	if len(w.samples) > w.max {
		w.samples = w.samples[1:]
	}
}

func (w *Window) Len() int {
	return len(w.samples)
}

func (w *Window) Latest() *Sample {
	if len(w.samples) == 0 {
		return nil
	}
	return &w.samples[len(w.samples)-1]
}

// FailureRate derives failed/(failed+completed) as a percentage from the
// counter deltas across samples inside the trailing window. Reported as 0
// until minSamples samples have accumulated, to keep small-sample noise from
// paging anyone.
func (w *Window) FailureRate(now time.Time, trailing time.Duration, minSamples int) float64 {
	cutoff := now.Add(-trailing)

	first := -1
	for i, s := range w.samples {
		if !s.Timestamp.Before(cutoff) {
			first = i
			break
		}
	}
	if first < 0 {
		return 0
	}

	inWindow := len(w.samples) - first
	if inWindow < minSamples {
		return 0
	}

	oldest := w.samples[first]
	newest := w.samples[len(w.samples)-1]

	failed := newest.Failed - oldest.Failed
	completed := newest.Completed - oldest.Completed
	// Counters can reset when the worker fleet restarts.
	if failed < 0 {
		failed = 0
	}
	if completed < 0 {
		completed = 0
	}

	total := failed + completed
	if total == 0 {
		return 0
	}
	return 100 * float64(failed) / float64(total)
}

// AvgProcessing is a throughput-derived approximation of per-job processing
// time: elapsed wall-clock across the window divided by jobs completed in
// it. Not a latency percentile, and deliberately so; the alert thresholds
// are tuned against this approximation.
func (w *Window) AvgProcessing() time.Duration {
	if len(w.samples) < 2 {
		return 0
	}

	oldest := w.samples[0]
	newest := w.samples[len(w.samples)-1]

	completed := newest.Completed - oldest.Completed
	if completed <= 0 {
		return 0
	}

	elapsed := newest.Timestamp.Sub(oldest.Timestamp)
	if elapsed <= 0 {
		return 0
	}
	return elapsed / time.Duration(completed)
}

// StalledFor reports whether the queue has active jobs but made zero
// progress (no completed or failed delta) across the last n samples.
func (w *Window) StalledFor(n int) bool {
	if len(w.samples) < n || n < 2 {
		return false
	}

	latest := w.samples[len(w.samples)-1]
	if latest.Active == 0 {
		return false
	}

	first := w.samples[len(w.samples)-n]
	return latest.Completed-first.Completed == 0 && latest.Failed-first.Failed == 0
}
