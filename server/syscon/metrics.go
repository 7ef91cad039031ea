package syscon

import "github.com/prometheus/client_golang/prometheus"

var waitingGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "helix",
		Subsystem: "syscon",
		Name:      "waiters",
		Help:      "Number of tasks waiting for the system connection.",
	})

func init() {
	prometheus.MustRegister(waitingGauge)
}
