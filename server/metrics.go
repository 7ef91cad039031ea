package server

import "github.com/prometheus/client_golang/prometheus"

var (
	configDeltaCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helix",
			Subsystem: "config",
			Name:      "delta_hooks_total",
			Help:      "Counter of config delta hook invocations.",
		}, []string{"setting", "op", "phase"})

	sysEventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helix",
			Subsystem: "server",
			Name:      "sysevents_total",
			Help:      "Counter of backend notifications by kind.",
		}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(configDeltaCounter)
	prometheus.MustRegister(sysEventCounter)
}
