package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "studyhall"

type registryMetrics struct {
	connections prometheus.Gauge
	topics      prometheus.Gauge
	onlineUsers prometheus.Gauge
	broadcasts  *prometheus.CounterVec
	delivered   prometheus.Counter
	pruned      prometheus.Counter
}

// newRegistryMetrics registers the registry collectors. A nil registerer yields unregistered collectors.
func newRegistryMetrics(registerer prometheus.Registerer) *registryMetrics {
	factory := promauto.With(registerer)
	return &registryMetrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Number of open realtime subscriptions.",
		}),
		topics: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "topics",
			Help:      "Number of topics with at least one subscription.",
		}),
		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "online_users",
			Help:      "Number of users currently marked online.",
		}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "broadcasts_total",
			Help:      "Broadcasts performed, by event type.",
		}, []string{"type"}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Events successfully written to a connection.",
		}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "pruned_connections_total",
			Help:      "Connections dropped after a failed send.",
		}),
	}
}
