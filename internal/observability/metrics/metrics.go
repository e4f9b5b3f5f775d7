// Package metrics exposes Prometheus metrics for the moderation workflow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colossusbot/modwatch/internal/moderation"
)

const namespace = "modwatch"

// Metrics holds the collectors on a private registry so tests and multiple
// instances never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	lifecycleEvents *prometheus.CounterVec
	penalties       *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

// New creates the collectors. Go runtime and process collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		lifecycleEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Alert and ticket lifecycle events by type and violation kind",
		}, []string{"type", "kind"}),
		penalties: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "penalties_applied_total",
			Help:      "Penalties applied through confirmed alerts",
		}, []string{"action"}),
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Periodic job runs by outcome",
		}, []string{"job", "outcome"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_job_duration_seconds",
			Help:      "Periodic job run duration",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"job"}),
	}
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Subscribe counts every lifecycle event published on bus.
func (m *Metrics) Subscribe(bus *moderation.EventBus) {
	bus.Subscribe(m.ObserveEvent)
}

// ObserveEvent records one lifecycle event.
func (m *Metrics) ObserveEvent(event *moderation.LifecycleEvent) {
	if event == nil {
		return
	}
	m.lifecycleEvents.WithLabelValues(event.Type, string(event.Kind)).Inc()
	if event.Type == moderation.EventAlertPenalized && event.Action != "" {
		m.penalties.WithLabelValues(string(event.Action)).Inc()
	}
}

// ObserveJobRun records a scheduler job run.
func (m *Metrics) ObserveJobRun(job, outcome string, elapsed time.Duration) {
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}
