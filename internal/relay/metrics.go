package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	Connections    prometheus.Gauge
	Subscriptions  prometheus.Gauge
	Published      *prometheus.CounterVec
	Delivered      prometheus.Counter
	Dropped        prometheus.Counter
	BridgeRequests *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "reels_battle",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "reels_battle",
			Subsystem: "relay",
			Name:      "subscriptions",
			Help:      "Active channel subscriptions.",
		}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reels_battle",
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Events accepted for fan-out, by event name.",
		}, []string{"event"}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "reels_battle",
			Subsystem: "relay",
			Name:      "delivered_total",
			Help:      "Event frames queued to subscribers.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "reels_battle",
			Subsystem: "relay",
			Name:      "dropped_connections_total",
			Help:      "Connections dropped because their send buffer was full.",
		}),
		BridgeRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reels_battle",
			Subsystem: "relay",
			Name:      "bridge_requests_total",
			Help:      "HTTP bridge requests, by status code.",
		}, []string{"code"}),
	}
}
