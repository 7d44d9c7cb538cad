// Package metrics exposes Prometheus instrumentation for the trading loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and gauges the loop components report into.
type Metrics struct {
	registry *prometheus.Registry

	SchedulerTicks  prometheus.Counter
	TicksFailed     prometheus.Counter
	OrdersSubmitted prometheus.Counter
	OrdersFilled    prometheus.Counter
	OrdersRejected  prometheus.Counter
	StopTriggers    prometheus.Counter
	Reconnects      prometheus.Counter
	StaleEvents     prometheus.Counter
	OpenPosition    prometheus.Gauge
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SchedulerTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bot", Name: "scheduler_ticks_total",
			Help: "Scheduler evaluation cycles run.",
		}),
		TicksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bot", Name: "scheduler_ticks_failed_total",
			Help: "Scheduler cycles aborted by a component failure.",
		}),
		OrdersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bot", Name: "orders_submitted_total",
			Help: "Orders submitted to the gateway.",
		}),
		OrdersFilled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bot", Name: "orders_filled_total",
			Help: "Orders that reached the filled state.",
		}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bot", Name: "orders_rejected_total",
			Help: "Orders rejected or cancelled with zero fill.",
		}),
		StopTriggers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bot", Name: "stop_triggers_total",
			Help: "Stop-loss threshold breaches that submitted a flatten.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bot", Name: "gateway_reconnects_total",
			Help: "Gateway session reconnect attempts.",
		}),
		StaleEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bot", Name: "stale_events_total",
			Help: "Duplicate or out-of-order gateway events ignored.",
		}),
		OpenPosition: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bot", Name: "open_position",
			Help: "1 while a position is open, 0 otherwise.",
		}),
	}
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
