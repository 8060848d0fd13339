package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for webhook ingestion and the order state machine
var (
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Total number of webhook deliveries received, by source",
		},
		[]string{"source"},
	)

	WebhooksInvalidSignatureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_invalid_signature_total",
			Help: "Total number of webhook deliveries rejected for a bad signature, by source",
		},
		[]string{"source"},
	)

	WebhooksDuplicateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_duplicate_total",
			Help: "Total number of webhook deliveries no-opped as replays of an already processed event, by source",
		},
		[]string{"source"},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Total number of applied order state transitions, by target state",
		},
		[]string{"to"},
	)

	CarrierAuthRefreshTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "carrier_auth_refresh_total",
			Help: "Total number of carrier token logins performed",
		},
	)

	WebhookProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Duration of webhook processing, by source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(WebhooksReceivedTotal)
	prometheus.MustRegister(WebhooksInvalidSignatureTotal)
	prometheus.MustRegister(WebhooksDuplicateTotal)
	prometheus.MustRegister(OrderTransitionsTotal)
	prometheus.MustRegister(CarrierAuthRefreshTotal)
	prometheus.MustRegister(WebhookProcessingDuration)
}
