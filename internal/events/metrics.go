package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes workflow execution as Prometheus metrics, namespaced
// "taskflow". It implements Emitter for stage-level observations; the
// dispatcher updates the queue and outcome metrics directly.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	suspensions   prometheus.Counter

	// Dispatcher-side metrics.
	QueueDepth      prometheus.Gauge
	CommandRetries  prometheus.Counter
	CommandOutcomes *prometheus.CounterVec
}

// NewMetrics registers all taskflow metrics with registry
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskflow",
			Name:      "stage_duration_ms",
			Help:      "Stage execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"stage", "status"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskflow",
			Name:      "stage_failures_total",
			Help:      "Stage executions that returned an error.",
		}, []string{"stage"}),
		suspensions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskflow",
			Name:      "suspensions_total",
			Help:      "Workflows suspended for human approval.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskflow",
			Name:      "dispatch_queue_depth",
			Help:      "Commands accepted but not yet finished.",
		}),
		CommandRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskflow",
			Name:      "dispatch_retries_total",
			Help:      "Command executions retried after an error.",
		}),
		CommandOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskflow",
			Name:      "dispatch_outcomes_total",
			Help:      "Terminal command outcomes by disposition.",
		}, []string{"outcome"}),
	}
}

// Emit implements Emitter.
func (m *Metrics) Emit(e Event) {
	switch e.Type {
	case TypeStageCompleted:
		m.stageDuration.WithLabelValues(e.Stage, "success").Observe(float64(e.DurationMS))
	case TypeStageFailed:
		m.stageDuration.WithLabelValues(e.Stage, "error").Observe(float64(e.DurationMS))
		m.stageFailures.WithLabelValues(e.Stage).Inc()
	case TypeSuspended:
		m.suspensions.Inc()
	}
}
