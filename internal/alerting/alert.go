package alerting

import "time"

type AlertType string

const (
	AlertQueueDepth     AlertType = "queue_depth"
	AlertWaitTime       AlertType = "wait_time"
	AlertFailureRate    AlertType = "failure_rate"
	AlertProcessingTime AlertType = "processing_time"
	AlertQueueStalled   AlertType = "queue_stalled"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one active or historical breach of a threshold rule, keyed by
// (queue, type). State is process-local; a restart loses it and the next
// polling cycle rebuilds it.
type Alert struct {
	Queue      string     `json:"queue"`
	Type       AlertType  `json:"type"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	RaisedAt   time.Time  `json:"raised_at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type alertKey struct {
	queue string
	typ   AlertType
}
