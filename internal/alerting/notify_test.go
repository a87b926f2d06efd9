package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/metrics"
)

type stubChannel struct {
	name  string
	err   error
	calls int32
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Notify(ctx context.Context, alert *Alert) error {
	atomic.AddInt32(&c.calls, 1)
	return c.err
}

func testAlert() *Alert {
	return &Alert{
		Queue:     "browser-tests",
		Type:      AlertQueueDepth,
		Severity:  SeverityWarning,
		Message:   "queue browser-tests depth at 80.0% of maximum (80/100 waiting)",
		Value:     80,
		Threshold: 70,
		RaisedAt:  time.Now(),
	}
}

func newTestDispatcher(channels ...Channel) *Dispatcher {
	m := metrics.NewCollector(prometheus.NewRegistry())
	return NewDispatcher(channels, m, zap.NewNop())
}

func TestDispatchCollectsPartialFailure(t *testing.T) {
	good := &stubChannel{name: "slack"}
	bad := &stubChannel{name: "webhook", err: errors.New("410 gone")}
	d := newTestDispatcher(good, bad)

	result := d.Dispatch(context.Background(), []*Alert{testAlert()})

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, int32(1), good.calls)
	assert.Equal(t, int32(1), bad.calls)
}

func TestDispatchFansOutPerAlertAndChannel(t *testing.T) {
	a := &stubChannel{name: "slack"}
	b := &stubChannel{name: "webhook"}
	d := newTestDispatcher(a, b)

	result := d.Dispatch(context.Background(), []*Alert{testAlert(), testAlert(), testAlert()})

	assert.Equal(t, 6, result.Succeeded)
	assert.Zero(t, result.Failed)
}

func TestDispatchNoChannels(t *testing.T) {
	d := newTestDispatcher()
	result := d.Dispatch(context.Background(), []*Alert{testAlert()})
	assert.Zero(t, result.Succeeded)
	assert.Zero(t, result.Failed)
}

func TestSlackChannelPayload(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	alert := testAlert()
	alert.Severity = SeverityCritical

	require.NoError(t, ch.Notify(context.Background(), alert))
	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "Queue alert: browser-tests", att.Title)
	assert.Equal(t, "#d32f2f", att.Color)
	assert.Equal(t, "queue-warden", att.Footer)
	assert.Len(t, att.Fields, 4)
}

func TestWebhookChannelPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL)
	require.NoError(t, ch.Notify(context.Background(), testAlert()))

	assert.Equal(t, "queue_alert", got.Type)
	require.NotNil(t, got.Alert)
	assert.Equal(t, "browser-tests", got.Alert.Queue)
	assert.Equal(t, AlertQueueDepth, got.Alert.Type)
}

func TestWebhookChannelTerminalFailureNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL)
	err := ch.Notify(context.Background(), testAlert())

	require.Error(t, err)
	assert.Equal(t, int32(1), hits)
}
