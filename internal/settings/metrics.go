package settings

import "github.com/prometheus/client_golang/prometheus"

var fetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "healthsync",
	Subsystem: "settings",
	Name:      "fetch_failures_total",
	Help:      "Number of settings fetches that failed and caused the gate to fail open.",
})

func init() {
	prometheus.MustRegister(fetchFailures)
}
