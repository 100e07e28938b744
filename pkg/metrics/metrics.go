package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// VerificationTokensIssued counts address verification tokens handed out
var VerificationTokensIssued = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "custody_verification_tokens_issued_total",
		Help: "Total number of address verification tokens issued",
	},
)

// VerificationTokensRedeemed counts successful token redemptions
var VerificationTokensRedeemed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "custody_verification_tokens_redeemed_total",
		Help: "Total number of address verification tokens successfully redeemed",
	},
)

// WithdrawalsByStatus counts withdrawal status transitions by target status
var WithdrawalsByStatus = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "custody_withdrawals_total",
		Help: "Total number of withdrawal status transitions",
	},
	[]string{"status"},
)

// SettlementLatency records latency distribution for provider settlement calls
var SettlementLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "custody_settlement_latency_seconds",
		Help:    "Latency in seconds of custody provider payout calls",
		Buckets: prometheus.DefBuckets,
	},
)

// ProviderErrors counts settlement adapter failures by class
var ProviderErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "custody_provider_errors_total",
		Help: "Total number of custody provider failures by class",
	},
	[]string{"class"},
)

func init() {
	prometheus.MustRegister(VerificationTokensIssued, VerificationTokensRedeemed)
	prometheus.MustRegister(WithdrawalsByStatus, SettlementLatency, ProviderErrors)
}
