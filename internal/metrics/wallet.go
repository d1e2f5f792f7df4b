package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	walletAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_api_calls_total",
			Help: "External wallet API calls by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: success|timeout|connection|malformed|remote|breaker_open
	)

	walletAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_api_duration_ms",
			Help:    "External wallet API call duration in ms",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"action"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed 1=half_open 2=open)",
		},
		[]string{"name"},
	)
)

// ObserveWalletAPICall 记录一次外部钱包调用
func ObserveWalletAPICall(action, outcome string, start time.Time) {
	walletAPICalls.WithLabelValues(action, outcome).Inc()
	walletAPIDuration.WithLabelValues(action).Observe(float64(time.Since(start).Milliseconds()))
}

// SetBreakerState 上报熔断器状态
func SetBreakerState(name, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(name).Set(v)
}
