package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesignal_active_connections",
		Help: "Number of open socket connections",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesignal_connections_total",
		Help: "Total number of socket connections accepted",
	})

	// ActiveStreams counts entries in the stream state table (STARTING or LIVE).
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesignal_active_streams",
		Help: "Number of streams with an in-memory session",
	})

	LiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesignal_live_streams",
		Help: "Number of streams in the LIVE state",
	})

	ActiveViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesignal_active_viewers",
		Help: "Number of viewer handles across all stream sessions",
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesignal_events_total",
		Help: "Inbound socket events by name",
	}, []string{"event"})

	ProtocolViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesignal_protocol_violations_total",
		Help: "Events ignored because the sender was not allowed to send them",
	}, []string{"event"})

	AuthorizationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesignal_authorization_failures_total",
		Help: "Broadcaster joins rejected by the ownership check",
	})

	PersistenceJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesignal_persistence_jobs_total",
		Help: "Projection jobs applied to the durable store by type and result",
	}, []string{"type", "result"}) // result: "ok" | "retry" | "deferred" | "dropped"
)
