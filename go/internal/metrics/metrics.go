package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for collecting triviaroom metrics
type Collector interface {
	ConnectionOpened()
	ConnectionClosed()
	RecordStoreOp(op string, success bool)
	RecordReaped(reason string, count int)
	RecordGame(xp int)
}

// NoOpCollector is a no-op implementation for when metrics aren't needed
type NoOpCollector struct{}

func (NoOpCollector) ConnectionOpened()                     {}
func (NoOpCollector) ConnectionClosed()                     {}
func (NoOpCollector) RecordStoreOp(op string, success bool) {}
func (NoOpCollector) RecordReaped(reason string, count int) {}
func (NoOpCollector) RecordGame(xp int)                     {}

// PrometheusCollector implements Collector on its own registry.
type PrometheusCollector struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	storeOps    *prometheus.CounterVec
	reaped      *prometheus.CounterVec
	games       prometheus.Counter
	xp          prometheus.Histogram
}

// NewPrometheusCollector registers every metric plus the Go and process
// collectors.
func NewPrometheusCollector() *PrometheusCollector {
	m := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "triviaroom",
			Name:      "gateway_connections",
			Help:      "Open websocket store sessions.",
		}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triviaroom",
			Name:      "store_operations_total",
			Help:      "Store operations served by the gateway.",
		}, []string{"op", "result"}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triviaroom",
			Name:      "reaper_actions_total",
			Help:      "Rooms and players cleaned up by the reaper.",
		}, []string{"reason"}),
		games: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triviaroom",
			Name:      "ranking_games_recorded_total",
			Help:      "Games appended to ranking logs.",
		}),
		xp: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "triviaroom",
			Name:      "ranking_game_xp",
			Help:      "XP awarded per recorded game.",
			Buckets:   prometheus.LinearBuckets(0, 25, 12),
		}),
	}
	m.registry.MustRegister(
		m.connections, m.storeOps, m.reaped, m.games, m.xp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *PrometheusCollector) ConnectionOpened() { m.connections.Inc() }
func (m *PrometheusCollector) ConnectionClosed() { m.connections.Dec() }

func (m *PrometheusCollector) RecordStoreOp(op string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.storeOps.WithLabelValues(op, result).Inc()
}

func (m *PrometheusCollector) RecordReaped(reason string, count int) {
	if count > 0 {
		m.reaped.WithLabelValues(reason).Add(float64(count))
	}
}

func (m *PrometheusCollector) RecordGame(xp int) {
	m.games.Inc()
	m.xp.Observe(float64(xp))
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}
