package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Consume outcomes recorded per delivery.
const (
	OutcomeOK           = "ok"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

var (
	messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_messages_consumed_total",
		Help: "Deliveries handled per queue and outcome.",
	}, []string{"queue", "outcome"})

	handlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_handler_duration_seconds",
		Help:    "Handler latency per queue.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})

	outboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_outbox_published_total",
		Help: "Outbox messages published per event name.",
	}, []string{"event"})

	outboxSpilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_outbox_spilled_total",
		Help: "Outbox messages moved to the dead-letter store per event name.",
	}, []string{"event"})

	brokerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_broker_reconnects_total",
		Help: "Broker connections re-established after a drop.",
	})
)

func RecordConsumed(queue, outcome string) {
	messagesConsumed.WithLabelValues(queue, outcome).Inc()
}

func ObserveHandler(queue string, d time.Duration) {
	handlerDuration.WithLabelValues(queue).Observe(d.Seconds())
}

func RecordOutboxPublished(eventName string) {
	outboxPublished.WithLabelValues(eventName).Inc()
}

func RecordOutboxSpilled(eventName string) {
	outboxSpilled.WithLabelValues(eventName).Inc()
}

func RecordBrokerReconnect() {
	brokerReconnects.Inc()
}

// Handler exposes the registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
