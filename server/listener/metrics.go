package listener

import "github.com/prometheus/client_golang/prometheus"

var (
	listenerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helix",
			Subsystem: "listener",
			Name:      "events_total",
			Help:      "Counter of listener lifecycle events.",
		}, []string{"action", "status"})

	mgmtRestartCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helix",
			Subsystem: "listener",
			Name:      "mgmt_restart_total",
			Help:      "Counter of management listener restarts.",
		}, []string{"status"})
)

func init() {
	prometheus.MustRegister(listenerEvents)
	prometheus.MustRegister(mgmtRestartCounter)
}
