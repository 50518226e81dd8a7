package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	MessagesAccepted   *prometheus.CounterVec
	MessagesRejected   *prometheus.CounterVec
	TierTransitions    *prometheus.CounterVec
	HandoffTransitions *prometheus.CounterVec
	AIGatewayRequests  *prometheus.CounterVec
	AIGatewayLatency   *prometheus.HistogramVec
	ProviderRequests   *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	WalletMovements    *prometheus.CounterVec
	PayoutDecisions    *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			MessagesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_accepted_total",
				Help:      "Total chat messages accepted by sender type.",
			}, []string{"sender"}),
			MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_rejected_total",
				Help:      "Total chat messages rejected by reason.",
			}, []string{"reason"}),
			TierTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tier_transitions_total",
				Help:      "Total conversation access-tier transitions.",
			}, []string{"from", "to"}),
			HandoffTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handoff_transitions_total",
				Help:      "Total handoff status transitions by target and outcome.",
			}, []string{"target", "outcome"}),
			AIGatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ai_gateway_requests_total",
				Help:      "Total AI chat gateway requests by outcome.",
			}, []string{"status"}),
			AIGatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ai_gateway_request_duration_seconds",
				Help:      "Latency distribution for AI chat gateway calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_provider_requests_total",
				Help:      "Total payment provider API requests by provider, endpoint and status.",
			}, []string{"provider", "endpoint", "status"}),
			ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payment_provider_request_duration_seconds",
				Help:      "Latency distribution for payment provider API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider", "endpoint", "status"}),
			WalletMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_movements_total",
				Help:      "Total wallet ledger entries by type and reason.",
			}, []string{"type", "reason"}),
			PayoutDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payout_decisions_total",
				Help:      "Total admin payout decisions by flow and outcome.",
			}, []string{"flow", "outcome"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.MessagesAccepted,
			metricsInstance.MessagesRejected,
			metricsInstance.TierTransitions,
			metricsInstance.HandoffTransitions,
			metricsInstance.AIGatewayRequests,
			metricsInstance.AIGatewayLatency,
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.WalletMovements,
			metricsInstance.PayoutDecisions,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
