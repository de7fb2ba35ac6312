package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the realtime engine collectors.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	UsersOnline       prometheus.Gauge
	EventsInbound     *prometheus.CounterVec
	EventsOutbound    *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	AuthFailures      prometheus.Counter
	MessagesStored    prometheus.Counter
	ReadsReconciled   prometheus.Counter
	WorkerRestarts    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Name: "connections_active",
			Help: "Live websocket connections.",
		}),
		UsersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Name: "users_online",
			Help: "Users with at least one live connection.",
		}),
		EventsInbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "events_inbound_total",
			Help: "Client events received, by type.",
		}, []string{"type"}),
		EventsOutbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "events_outbound_total",
			Help: "Server events delivered to a connection, by type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Name: "events_dropped_total",
			Help: "Server events a connection failed to accept in time.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Name: "auth_failures_total",
			Help: "Rejected credentials on the realtime channel.",
		}),
		MessagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Name: "messages_stored_total",
			Help: "Messages appended to the durable store.",
		}),
		ReadsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Name: "messages_marked_read_total",
			Help: "Messages flipped to read by the durable path.",
		}),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "worker_restarts_total",
			Help: "Background worker restarts after a crash, by worker.",
		}, []string{"worker"}),
	}
	reg.MustRegister(
		m.ConnectionsActive, m.UsersOnline,
		m.EventsInbound, m.EventsOutbound, m.EventsDropped,
		m.AuthFailures, m.MessagesStored, m.ReadsReconciled, m.WorkerRestarts,
	)
	return m
}

// NewRegistry returns a prometheus registry with the runtime and process
// collectors plus the chat metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, NewMetrics(reg)
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
