package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the service's own operational metrics. Registered against
// an injected registerer so tests can use a private registry.
type Collector struct {
	reservationsTotal    *prometheus.CounterVec
	reservationsReleased prometheus.Counter
	reservedMinutes      *prometheus.CounterVec

	queueDepth       *prometheus.GaugeVec
	oldestWaitTime   *prometheus.GaugeVec
	alertsActive     *prometheus.GaugeVec
	alertsTotal      *prometheus.CounterVec
	notificationsOut *prometheus.CounterVec

	stalledRunsClosed prometheus.Counter
	jobsRecomputed    prometheus.Counter

	cycleDuration *prometheus.HistogramVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		reservationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_reservations_total",
			Help: "Quota admission decisions by resource kind and outcome",
		}, []string{"kind", "outcome"}),

		reservationsReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_reservations_released_total",
			Help: "Reservations explicitly released by callers",
		}),

		reservedMinutes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_reserved_minutes_total",
			Help: "Estimated minutes reserved by resource kind",
		}, []string{"kind"}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_queue_depth",
			Help: "Waiting jobs per monitored queue",
		}, []string{"queue"}),

		oldestWaitTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_queue_oldest_wait_seconds",
			Help: "Age of the oldest waiting job per queue",
		}, []string{"queue"}),

		alertsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_alerts_active",
			Help: "Currently active queue alerts by queue and type",
		}, []string{"queue", "type"}),

		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_alerts_total",
			Help: "Alerts raised by queue, type and severity",
		}, []string{"queue", "type", "severity"}),

		notificationsOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_notifications_total",
			Help: "Outbound alert notifications by channel and outcome",
		}, []string{"channel", "outcome"}),

		stalledRunsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_stalled_runs_closed_total",
			Help: "Runs force-closed by the stalled-run reconciler",
		}),

		jobsRecomputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_jobs_recomputed_total",
			Help: "Parent jobs whose status was recomputed after reconciliation",
		}),

		cycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_cycle_duration_seconds",
			Help:    "Duration of periodic component cycles",
			Buckets: prometheus.DefBuckets,
		}, []string{"component"}),
	}
}

func (c *Collector) RecordReservation(kind, outcome string, minutes int64) {
	c.reservationsTotal.WithLabelValues(kind, outcome).Inc()
	if minutes > 0 {
		c.reservedMinutes.WithLabelValues(kind).Add(float64(minutes))
	}
}

func (c *Collector) RecordRelease() {
	c.reservationsReleased.Inc()
}

func (c *Collector) RecordQueueSample(queue string, waiting int64, oldestWait time.Duration) {
	c.queueDepth.WithLabelValues(queue).Set(float64(waiting))
	c.oldestWaitTime.WithLabelValues(queue).Set(oldestWait.Seconds())
}

func (c *Collector) SetAlertActive(queue, alertType string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	c.alertsActive.WithLabelValues(queue, alertType).Set(v)
}

func (c *Collector) RecordAlertRaised(queue, alertType, severity string) {
	c.alertsTotal.WithLabelValues(queue, alertType, severity).Inc()
}

func (c *Collector) RecordNotification(channel string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.notificationsOut.WithLabelValues(channel, outcome).Inc()
}

func (c *Collector) RecordStalledRunsClosed(n int) {
	c.stalledRunsClosed.Add(float64(n))
}

func (c *Collector) RecordJobsRecomputed(n int) {
	c.jobsRecomputed.Add(float64(n))
}

func (c *Collector) ObserveCycle(component string, d time.Duration) {
	c.cycleDuration.WithLabelValues(component).Observe(d.Seconds())
}
