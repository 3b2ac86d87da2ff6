// Package metrics 定义 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receptionist_call_events_total",
			Help: "Total number of call events consumed by the orchestrator",
		},
		[]string{"kind"},
	)

	DuplicateCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "receptionist_duplicate_calls_total",
			Help: "Call events ignored because the caller is already being handled",
		},
	)

	ActiveCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "receptionist_active_calls",
			Help: "Number of entries in the active-call registry",
		},
	)

	Conditions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receptionist_conditions_total",
			Help: "Owner conditions reported by the classifier",
		},
		[]string{"condition"},
	)

	Alerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "receptionist_alerts_total",
			Help: "Repeated-caller alerts raised",
		},
	)

	Sessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receptionist_sessions_total",
			Help: "Dialogue sessions by outcome",
		},
		[]string{"result"},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "receptionist_session_duration_seconds",
			Help:    "Dialogue session duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	Utterances = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "receptionist_utterances_total",
			Help: "Utterances spoken on the shared output device",
		},
	)

	MonitorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receptionist_monitor_errors_total",
			Help: "Background monitor iterations that failed",
		},
		[]string{"monitor"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receptionist_http_requests_total",
			Help: "HTTP control surface requests",
		},
		[]string{"method", "route", "status"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "receptionist_event_subscribers",
			Help: "Connected WebSocket event feed clients",
		},
	)
)

// 会话结果标签
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)
