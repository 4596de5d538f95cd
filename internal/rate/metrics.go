package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	remainingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eufyscope_rate_limit_remaining",
			Help: "Tokens left in the provider request bucket",
		},
		[]string{"provider", "window"},
	)
	retryAfterGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eufyscope_rate_limit_retry_after_seconds",
			Help: "Cooldown seconds requested by the provider",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eufyscope_rate_limit_last_status_code",
			Help: "Last HTTP status code observed by the rate-limit wrapper",
		},
		[]string{"provider"},
	)
	deniedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eufyscope_rate_limit_denied_total",
			Help: "Requests refused by the guard, by reason",
		},
		[]string{"provider", "reason"},
	)
	cacheHitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eufyscope_rate_limit_cache_hits_total",
			Help: "Refused requests answered from the response cache",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		remainingGauge,
		retryAfterGauge,
		lastStatusGauge,
		deniedCounter,
		cacheHitCounter,
	}
}
