package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/config"
	"github.com/leozw/queue-warden/internal/metrics"
	"github.com/leozw/queue-warden/internal/queue"
)

type fakeSource struct {
	mu    sync.Mutex
	snaps map[string]*queue.Snapshot
	err   error
}

func (f *fakeSource) Snapshot(ctx context.Context, queueName string) (*queue.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.snaps[queueName]
	if !ok {
		return &queue.Snapshot{Queue: queueName, Timestamp: time.Now()}, nil
	}
	copied := *snap
	return &copied, nil
}

func (f *fakeSource) set(queueName string, snap *queue.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[queueName] = snap
}

type fakeNotifier struct {
	mu      sync.Mutex
	batches [][]*Alert
}

func (f *fakeNotifier) Dispatch(ctx context.Context, alerts []*Alert) DispatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, alerts)
	return DispatchResult{Succeeded: len(alerts)}
}

func (f *fakeNotifier) dispatched() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func testConfig() config.AlertingConfig {
	return config.AlertingConfig{
		Enabled:            true,
		PollInterval:       time.Minute,
		Queues:             []string{"browser-tests"},
		QueueMaxDepth:      100,
		DepthWarningPct:    70,
		DepthCriticalPct:   90,
		WaitTimeWarning:    5 * time.Minute,
		WaitTimeCritical:   15 * time.Minute,
		FailureRateWarning: 10,
		FailureRateCrit:    25,
		ProcTimeWarning:    2 * time.Minute,
		ProcTimeCritical:   5 * time.Minute,
		FailureRateWindow:  15 * time.Minute,
		MinSamples:         3,
		WindowSize:         10,
		HistorySize:        10,
		AlertCooldown:      10 * time.Minute,
	}
}

func newTestEngine(cfg config.AlertingConfig, source StatsSource, notifier Notifier) *Engine {
	m := metrics.NewCollector(prometheus.NewRegistry())
	return NewEngine(cfg, source, notifier, m, zap.NewNop())
}

func TestColdStartRaisesNothing(t *testing.T) {
	source := &fakeSource{snaps: map[string]*queue.Snapshot{}}
	notifier := &fakeNotifier{}
	e := newTestEngine(testConfig(), source, notifier)

	e.cycle(context.Background(), time.Now())

	assert.Empty(t, e.ActiveAlerts())
	assert.Zero(t, notifier.dispatched())
}

func TestSamplingFailureSkipsQueueNotCycle(t *testing.T) {
	source := &fakeSource{snaps: map[string]*queue.Snapshot{}, err: errors.New("redis down")}
	notifier := &fakeNotifier{}
	e := newTestEngine(testConfig(), source, notifier)

	e.cycle(context.Background(), time.Now())

	samples := e.LatestSamples()
	assert.Nil(t, samples["browser-tests"])
	assert.Empty(t, e.ActiveAlerts())
}

func TestAlertLifecycleIdempotence(t *testing.T) {
	source := &fakeSource{snaps: map[string]*queue.Snapshot{
		"browser-tests": {Queue: "browser-tests", Waiting: 80},
	}}
	notifier := &fakeNotifier{}
	e := newTestEngine(testConfig(), source, notifier)

	now := time.Now()
	e.cycle(context.Background(), now)

	active := e.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, AlertQueueDepth, active[0].Type)
	assert.Equal(t, SeverityWarning, active[0].Severity)
	assert.Equal(t, 1, notifier.dispatched())

	// The same breaching sample again: still exactly one active alert and
	// no second notification.
	e.cycle(context.Background(), now.Add(time.Minute))
	assert.Len(t, e.ActiveAlerts(), 1)
	assert.Equal(t, 1, notifier.dispatched())

	// Condition clears: resolution is immediate, not debounced.
	source.set("browser-tests", &queue.Snapshot{Queue: "browser-tests", Waiting: 10})
	resolveTime := now.Add(2 * time.Minute)
	e.cycle(context.Background(), resolveTime)

	assert.Empty(t, e.ActiveAlerts())
	history := e.History(10)
	require.Len(t, history, 1)
	assert.True(t, history[0].Resolved)
	require.NotNil(t, history[0].ResolvedAt)
	assert.Equal(t, resolveTime, *history[0].ResolvedAt)
}

func TestCooldownSuppressesRenotification(t *testing.T) {
	source := &fakeSource{snaps: map[string]*queue.Snapshot{
		"browser-tests": {Queue: "browser-tests", Waiting: 80},
	}}
	notifier := &fakeNotifier{}
	e := newTestEngine(testConfig(), source, notifier)

	now := time.Now()
	e.cycle(context.Background(), now)
	assert.Equal(t, 1, notifier.dispatched())

	// Breach resolves, then recurs inside the cooldown window.
	source.set("browser-tests", &queue.Snapshot{Queue: "browser-tests", Waiting: 10})
	e.cycle(context.Background(), now.Add(time.Minute))

	source.set("browser-tests", &queue.Snapshot{Queue: "browser-tests", Waiting: 80})
	e.cycle(context.Background(), now.Add(2*time.Minute))

	// Active again, but not re-notified.
	assert.Len(t, e.ActiveAlerts(), 1)
	assert.Equal(t, 1, notifier.dispatched())

	// Past the cooldown the same condition notifies again.
	source.set("browser-tests", &queue.Snapshot{Queue: "browser-tests", Waiting: 10})
	e.cycle(context.Background(), now.Add(3*time.Minute))
	source.set("browser-tests", &queue.Snapshot{Queue: "browser-tests", Waiting: 80})
	e.cycle(context.Background(), now.Add(11*time.Minute))
	assert.Equal(t, 2, notifier.dispatched())
}

func TestEscalationBypassesCooldown(t *testing.T) {
	source := &fakeSource{snaps: map[string]*queue.Snapshot{
		"browser-tests": {Queue: "browser-tests", Waiting: 80},
	}}
	notifier := &fakeNotifier{}
	e := newTestEngine(testConfig(), source, notifier)

	now := time.Now()
	e.cycle(context.Background(), now)
	assert.Equal(t, 1, notifier.dispatched())

	// Escalates to critical one minute later, far inside the cooldown.
	source.set("browser-tests", &queue.Snapshot{Queue: "browser-tests", Waiting: 95})
	e.cycle(context.Background(), now.Add(time.Minute))

	active := e.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, SeverityCritical, active[0].Severity)
	assert.Equal(t, 2, notifier.dispatched())

	// De-escalation back to warning updates in place without notifying.
	source.set("browser-tests", &queue.Snapshot{Queue: "browser-tests", Waiting: 80})
	e.cycle(context.Background(), now.Add(2*time.Minute))

	active = e.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, SeverityWarning, active[0].Severity)
	assert.Equal(t, 2, notifier.dispatched())
}

func TestWaitTimeAlertUsesLocalClock(t *testing.T) {
	now := time.Now()
	enqueued := now.Add(-20 * time.Minute)
	source := &fakeSource{snaps: map[string]*queue.Snapshot{
		"browser-tests": {Queue: "browser-tests", Waiting: 1, OldestWaiting: &enqueued},
	}}
	notifier := &fakeNotifier{}
	e := newTestEngine(testConfig(), source, notifier)

	e.cycle(context.Background(), now)

	var waitAlert *Alert
	for _, a := range e.ActiveAlerts() {
		if a.Type == AlertWaitTime {
			waitAlert = a
		}
	}
	require.NotNil(t, waitAlert)
	assert.Equal(t, SeverityCritical, waitAlert.Severity)
}

func TestStalledQueueAlert(t *testing.T) {
	source := &fakeSource{snaps: map[string]*queue.Snapshot{
		"browser-tests": {Queue: "browser-tests", Active: 4, Completed: 50, Failed: 2},
	}}
	notifier := &fakeNotifier{}
	e := newTestEngine(testConfig(), source, notifier)

	now := time.Now()
	for i := 0; i < 5; i++ {
		e.cycle(context.Background(), now.Add(time.Duration(i)*time.Minute))
	}

	var stalled *Alert
	for _, a := range e.ActiveAlerts() {
		if a.Type == AlertQueueStalled {
			stalled = a
		}
	}
	require.NotNil(t, stalled)
	assert.Equal(t, SeverityWarning, stalled.Severity)
}

func TestLatestSamplesExposesDerivedRates(t *testing.T) {
	source := &fakeSource{snaps: map[string]*queue.Snapshot{
		"browser-tests": {Queue: "browser-tests", Waiting: 5, Completed: 10},
	}}
	e := newTestEngine(testConfig(), source, &fakeNotifier{})

	e.cycle(context.Background(), time.Now())

	samples := e.LatestSamples()
	require.NotNil(t, samples["browser-tests"])
	assert.Equal(t, int64(5), samples["browser-tests"].Waiting)
}

func TestHistoryBounded(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 3
	source := &fakeSource{snaps: map[string]*queue.Snapshot{
		"browser-tests": {Queue: "browser-tests", Waiting: 80},
	}}
	e := newTestEngine(cfg, source, &fakeNotifier{})

	now := time.Now()
	for i := 0; i < 5; i++ {
		source.set("browser-tests", &queue.Snapshot{Queue: "browser-tests", Waiting: 80})
		e.cycle(context.Background(), now.Add(time.Duration(2*i)*time.Minute))
		source.set("browser-tests", &queue.Snapshot{Queue: "browser-tests", Waiting: 10})
		e.cycle(context.Background(), now.Add(time.Duration(2*i+1)*time.Minute))
	}

	assert.Len(t, e.History(100), 3)
}
