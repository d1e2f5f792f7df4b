package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_operations_total",
			Help: "Settlement workflow runs by kind and result state",
		},
		[]string{"kind", "result"}, // kind: deposit|withdrawal|bonus|reverse; result: 终态或错误类别
	)

	settlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_duration_ms",
			Help:    "Settlement workflow duration in ms",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		},
		[]string{"kind"},
	)

	idempotentHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_idempotent_hits_total",
			Help: "Duplicate submissions absorbed by idempotency, by source",
		},
		[]string{"source"}, // source: redis_cache|db_unique
	)
)

// ObserveSettlement 记录一次结算流程
func ObserveSettlement(kind, result string, start time.Time) {
	settlementTotal.WithLabelValues(kind, result).Inc()
	settlementDuration.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))
}

// IncIdempotentHit 记录一次幂等命中
func IncIdempotentHit(source string) {
	idempotentHits.WithLabelValues(source).Inc()
}
