package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Build metrics
	BuildsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apex_builds_total",
			Help: "Total number of builds by status",
		},
		[]string{"status"},
	)

	BuildsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_builds_started_total",
			Help: "Total number of builds accepted into the pipeline",
		},
	)

	BuildsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_builds_finished_total",
			Help: "Total number of builds reaching a terminal status",
		},
		[]string{"status"},
	)

	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apex_build_duration_seconds",
			Help:    "End-to-end build duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Stage metrics
	StageAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_stage_attempts_total",
			Help: "Total stage attempts by stage and result",
		},
		[]string{"stage", "result"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_stage_retries_total",
			Help: "Total stage retry attempts by stage",
		},
		[]string{"stage"},
	)

	// Provider metrics
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_provider_calls_total",
			Help: "Total provider calls by provider, model and outcome",
		},
		[]string{"provider", "model", "outcome"},
	)

	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_provider_call_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	ProviderFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_provider_fallbacks_total",
			Help: "Total fallback transitions by origin provider",
		},
		[]string{"provider"},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_tokens_total",
			Help: "Total tokens consumed by provider, model and direction",
		},
		[]string{"provider", "model", "direction"},
	)

	CostUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_cost_usd_total",
			Help: "Total estimated cost in USD by provider and model",
		},
		[]string{"provider", "model"},
	)

	// Cache metrics
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_cache_hits_total",
			Help: "Total response cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_cache_misses_total",
			Help: "Total response cache misses",
		},
	)

	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_cache_entries",
			Help: "Current number of cached responses",
		},
	)

	// Rate limit and breaker metrics
	RateLimitWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a provider slot in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"provider"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apex_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	// Progress bus metrics
	BusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_bus_subscribers",
			Help: "Current number of progress bus subscribers",
		},
	)

	BusEventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_bus_events_published_total",
			Help: "Total events published to the progress bus",
		},
	)

	BusSubscribersDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_bus_subscribers_dropped_total",
			Help: "Total subscribers dropped for falling behind",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(BuildsTotal)
	prometheus.MustRegister(BuildsStarted)
	prometheus.MustRegister(BuildsFinished)
	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(StageAttempts)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StageRetries)
	prometheus.MustRegister(ProviderCallsTotal)
	prometheus.MustRegister(ProviderCallDuration)
	prometheus.MustRegister(ProviderFallbacks)
	prometheus.MustRegister(TokensTotal)
	prometheus.MustRegister(CostUSDTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(RateLimitWait)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(BusSubscribers)
	prometheus.MustRegister(BusEventsPublished)
	prometheus.MustRegister(BusSubscribersDropped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
