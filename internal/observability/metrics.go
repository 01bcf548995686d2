package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lastSyncRunGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "runs",
		Name:      "last_sync_run_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed sync run.",
	})
	lastPublishGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "runs",
		Name:      "last_outbox_publish_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful outbox delivery.",
	})
)

func init() {
	prometheus.MustRegister(lastSyncRunGauge, lastPublishGauge)
}

// RecordSyncRun updates the sync run watermark gauge.
func RecordSyncRun(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncRunGauge.Set(float64(ts.Unix()))
}

// RecordPublish updates the publish watermark gauge.
func RecordPublish(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastPublishGauge.Set(float64(ts.Unix()))
}
