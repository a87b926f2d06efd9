package alerting

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/leozw/queue-warden/internal/metrics"
	"github.com/leozw/queue-warden/internal/retry"
)

// Channel is one outbound notification destination.
type Channel interface {
	Name() string
	Notify(ctx context.Context, alert *Alert) error
}

// DispatchResult reports partial failure explicitly: N succeeded, M failed.
type DispatchResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Dispatcher fans alerts out to every channel in parallel. Each delivery
// carries its own bounded retry inside the channel; failures are logged and
// counted, never propagated, so a dead webhook cannot block the next polling
// cycle.
type Dispatcher struct {
	channels []Channel
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func NewDispatcher(channels []Channel, m *metrics.Collector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		// Webhook endpoints throttle bursts; one token per 200ms with a
		// small burst keeps a noisy cycle from tripping their limits.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		logger:  logger,
		metrics: m,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, alerts []*Alert) DispatchResult {
	var (
		mu     sync.Mutex
		result DispatchResult
		g      errgroup.Group
	)

	for _, alert := range alerts {
		for _, ch := range d.channels {
			alert, ch := alert, ch
			g.Go(func() error {
				if err := d.limiter.Wait(ctx); err != nil {
					mu.Lock()
					result.Failed++
					mu.Unlock()
					return nil
				}

				err := ch.Notify(ctx, alert)
				d.metrics.RecordNotification(ch.Name(), err == nil)

				mu.Lock()
				if err != nil {
					result.Failed++
				} else {
					result.Succeeded++
				}
				mu.Unlock()

				if err != nil {
					d.logger.Error("Failed to deliver alert notification",
						zap.String("channel", ch.Name()),
						zap.String("queue", alert.Queue),
						zap.String("type", string(alert.Type)),
						zap.Error(err),
					)
				}
				return nil
			})
		}
	}

	g.Wait()
	return result
}

// SlackChannel posts a structured attachment message to a Slack-compatible
// incoming webhook.
type SlackChannel struct {
	url    string
	client *http.Client
	opts   retry.Options
}

func NewSlackChannel(url string) *SlackChannel {
	return &SlackChannel{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		opts:   retry.DefaultOptions(),
	}
}

func (c *SlackChannel) Name() string {
	return "slack"
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (c *SlackChannel) Notify(ctx context.Context, alert *Alert) error {
	color := "#f2c744"
	if alert.Severity == SeverityCritical {
		color = "#d32f2f"
	}

	msg := slackMessage{
		Attachments: []slackAttachment{{
			Color: color,
			Title: fmt.Sprintf("Queue alert: %s", alert.Queue),
			Text:  alert.Message,
			Fields: []slackField{
				{Title: "Severity", Value: string(alert.Severity), Short: true},
				{Title: "Type", Value: string(alert.Type), Short: true},
				{Title: "Observed", Value: fmt.Sprintf("%.1f", alert.Value), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%.1f", alert.Threshold), Short: true},
			},
			Footer: "queue-warden",
			Ts:     alert.RaisedAt.Unix(),
		}},
	}

	return retry.PostJSON(ctx, c.client, c.url, msg, c.opts)
}

// WebhookChannel posts the raw alert to a generic JSON webhook.
type WebhookChannel struct {
	url    string
	client *http.Client
	opts   retry.Options
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		opts:   retry.DefaultOptions(),
	}
}

func (c *WebhookChannel) Name() string {
	return "webhook"
}

type webhookPayload struct {
	Type  string `json:"type"`
	Alert *Alert `json:"alert"`
}

func (c *WebhookChannel) Notify(ctx context.Context, alert *Alert) error {
	return retry.PostJSON(ctx, c.client, c.url, webhookPayload{
		Type:  "queue_alert",
		Alert: alert,
	}, c.opts)
}
