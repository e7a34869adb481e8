// Package metrics defines the Prometheus instrumentation surfaced by
// the admin HTTP server: matching-engine throughput and rejections,
// and ingress/egress health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// EngineMetrics instruments the matching core.
type EngineMetrics struct {
	CommandsTotal    *prometheus.CounterVec
	EventsTotal      *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
}

// IngressMetrics instruments the connection acceptor and frame parser.
type IngressMetrics struct {
	FramesTotal     *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	ActiveConnections prometheus.Gauge
}

// EgressMetrics instruments the outbound fan-out workers.
type EgressMetrics struct {
	DeliveredTotal    *prometheus.CounterVec
	BreakerTripsTotal *prometheus.CounterVec
}

// Module provides every metrics component. The /metrics HTTP route
// itself is mounted by internal/httpapi, which shares this registry.
var Module = fx.Options(
	fx.Provide(NewPrometheusRegistry),
	fx.Provide(NewEngineMetrics),
	fx.Provide(NewIngressMetrics),
	fx.Provide(NewEgressMetrics),
)

// NewPrometheusRegistry creates the process-wide registry.
func NewPrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// NewEngineMetrics registers and returns the matching-core metrics.
func NewEngineMetrics(registry *prometheus.Registry) *EngineMetrics {
	m := &EngineMetrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange", Subsystem: "engine", Name: "commands_total",
			Help: "Commands dispatched to the matching engine, by kind.",
		}, []string{"kind"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange", Subsystem: "engine", Name: "events_total",
			Help: "Events produced by the matching engine, by kind.",
		}, []string{"kind"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange", Subsystem: "engine", Name: "orders_rejected_total",
			Help: "Order rejections, by reject code.",
		}, []string{"code"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exchange", Subsystem: "engine", Name: "dispatch_seconds",
			Help:    "Wall time spent inside a single Dispatch call.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
	registry.MustRegister(m.CommandsTotal, m.EventsTotal, m.OrdersRejected, m.DispatchDuration)
	return m
}

// NewIngressMetrics registers and returns the ingress metrics.
func NewIngressMetrics(registry *prometheus.Registry) *IngressMetrics {
	m := &IngressMetrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange", Subsystem: "ingress", Name: "frames_total",
			Help: "Inbound frames, partitioned by outcome.",
		}, []string{"outcome"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange", Subsystem: "ingress", Name: "rate_limited_total",
			Help: "Frames dropped by rate limiting.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exchange", Subsystem: "ingress", Name: "active_connections",
			Help: "Currently open client connections.",
		}),
	}
	registry.MustRegister(m.FramesTotal, m.RateLimitedTotal, m.ActiveConnections)
	return m
}

// NewEgressMetrics registers and returns the egress metrics.
func NewEgressMetrics(registry *prometheus.Registry) *EgressMetrics {
	m := &EgressMetrics{
		DeliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange", Subsystem: "egress", Name: "delivered_total",
			Help: "Events delivered to a client socket, by outcome.",
		}, []string{"outcome"}),
		BreakerTripsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange", Subsystem: "egress", Name: "breaker_trips_total",
			Help: "Per-client circuit breaker trips.",
		}, []string{"client"}),
	}
	registry.MustRegister(m.DeliveredTotal, m.BreakerTripsTotal)
	return m
}
