package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's prometheus collectors. Each server gets its own
// registry so several servers can run in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	ConnectedClients prometheus.Gauge
	ActiveRooms      prometheus.Gauge
	Broadcasts       *prometheus.CounterVec
	Dropped          prometheus.Counter
	MessagesCreated  *prometheus.CounterVec
	ReactionToggles  prometheus.Counter
	TypingLimited    prometheus.Counter
}

// NewMetrics creates and registers the collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_connected_clients",
			Help: "Number of open live-channel connections.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_rooms",
			Help: "Number of team rooms with at least one joined connection.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_broadcasts_total",
			Help: "Events dispatched to rooms, by event type.",
		}, []string{"event"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_dropped_events_total",
			Help: "Events dropped because a connection's send buffer was full.",
		}),
		MessagesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_messages_created_total",
			Help: "Messages created, by kind.",
		}, []string{"kind"}),
		ReactionToggles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_reaction_toggles_total",
			Help: "Reaction toggles applied.",
		}),
		TypingLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_typing_rate_limited_total",
			Help: "Typing events discarded by the per-connection rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ConnectedClients,
		m.ActiveRooms,
		m.Broadcasts,
		m.Dropped,
		m.MessagesCreated,
		m.ReactionToggles,
		m.TypingLimited,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
