// Package metrics exposes the engine counters as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stormalert/stormalertapi/internal/engine"
)

// Metrics bridges the engine's internal counters to Prometheus. The
// engine keeps plain atomics; collectors read a Stats snapshot on
// scrape, so the hot path never touches the Prometheus client.
type Metrics struct {
	registry *prometheus.Registry
}

// New registers all collectors against a fresh registry
func New(eng *engine.Engine) *Metrics {
	registry := prometheus.NewRegistry()

	counter := func(name, help string, value func(engine.Stats) int64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: name,
			Help: help,
		}, func() float64 {
			return float64(value(eng.Stats()))
		})
	}
	gauge := func(name, help string, value func(engine.Stats) int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, func() float64 {
			return float64(value(eng.Stats()))
		})
	}

	registry.MustRegister(
		counter("stormalert_ticks_total",
			"Total ticks accepted into the pipeline",
			func(s engine.Stats) int64 { return s.TotalTicks }),
		counter("stormalert_dropped_ticks_total",
			"Tick batches shed because the ingress queue was full",
			func(s engine.Stats) int64 { return s.DroppedTicks }),
		counter("stormalert_malformed_ticks_total",
			"Ticks rejected for a zero token or non-finite price",
			func(s engine.Stats) int64 { return s.MalformedTicks }),
		counter("stormalert_alerts_emitted_total",
			"Alerts emitted by the evaluator",
			func(s engine.Stats) int64 { return s.AlertsEmitted }),
		counter("stormalert_alerts_suppressed_total",
			"Alerts suppressed by the per-user cooldown",
			func(s engine.Stats) int64 { return s.AlertsSuppressed }),
		counter("stormalert_eval_errors_total",
			"Tick evaluations that faulted and were skipped",
			func(s engine.Stats) int64 { return s.EvalErrors }),
		counter("stormalert_alerts_shed_total",
			"Alerts shed from the persistence buffer at capacity",
			func(s engine.Stats) int64 { return s.AlertsShed }),
		counter("stormalert_flush_failures_total",
			"Failed alert batch writes",
			func(s engine.Stats) int64 { return s.FlushFailures }),
		counter("stormalert_notifications_dropped_total",
			"Notification tasks dropped by the egress queue",
			func(s engine.Stats) int64 { return s.NotificationsDropped }),
		gauge("stormalert_monitored_users",
			"Users with settings in the active snapshot",
			func(s engine.Stats) int64 { return s.MonitoredUsers }),
		gauge("stormalert_monitored_instruments",
			"Distinct instrument tokens in the active subscription table",
			func(s engine.Stats) int64 { return s.MonitoredInstruments }),
		gauge("stormalert_persistence_buffer_depth",
			"Alerts waiting in the persistence buffer",
			func(s engine.Stats) int64 { return s.PersistenceBufferDepth }),
	)

	return &Metrics{registry: registry}
}

// Handler returns the scrape handler for the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
