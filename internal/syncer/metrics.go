package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	entriesQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "syncer",
		Name:      "entries_queued_total",
		Help:      "Number of outbox entries queued by change detection, labeled by data type.",
	}, []string{"data_type"})

	typesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "syncer",
		Name:      "type_failures_total",
		Help:      "Number of per-type detector failures, labeled by data type.",
	}, []string{"data_type"})

	tokenResets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "syncer",
		Name:      "token_resets_total",
		Help:      "Number of expired tokens cleared, forcing the next run to backfill.",
	}, []string{"data_type"})

	pageCapHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "syncer",
		Name:      "page_cap_hits_total",
		Help:      "Number of runs that hit the per-run change page cap, labeled by data type.",
	}, []string{"data_type"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "healthsync",
		Subsystem: "syncer",
		Name:      "run_duration_seconds",
		Help:      "Time spent executing one full sync run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(entriesQueued, typesFailed, tokenResets, pageCapHits, runDuration)
}
