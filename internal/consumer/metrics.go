package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "trigger",
		Name:      "messages_processed_total",
		Help:      "Number of trigger messages handled and committed, labeled by topic.",
	}, []string{"topic"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "trigger",
		Name:      "decode_errors_total",
		Help:      "Number of malformed trigger messages skipped, labeled by topic.",
	}, []string{"topic"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "trigger",
		Name:      "handler_errors_total",
		Help:      "Number of trigger handling failures left uncommitted for redelivery, labeled by topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, decodeErrorCounter, handlerErrorCounter)
}

func recordProcessed(msg TriggerMessage) {
	processedCounter.WithLabelValues(msg.Topic).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordHandlerError(msg TriggerMessage) {
	handlerErrorCounter.WithLabelValues(msg.Topic).Inc()
}
