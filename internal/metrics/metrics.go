package metrics

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels
const (
	// Evaluation outcomes
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultTimeout     = "timeout"
	ResultCircuitOpen = "circuit_open"
	ResultCancelled   = "cancelled"

	// Cache pool names
	PoolAdapter = "adapter"
	PoolStorage = "storage"

	// Market data cache lookups
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// NormalizeEvaluationError maps an evaluation error to a bounded result label
func NormalizeEvaluationError(err error) string {
	if err == nil {
		return ResultSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ResultCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ResultTimeout
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return ResultTimeout
	case strings.Contains(lower, "circuit") || strings.Contains(lower, "breaker"):
		return ResultCircuitOpen
	case strings.Contains(lower, "cancel"):
		return ResultCancelled
	default:
		return ResultFailure
	}
}

// Optimizer metrics
var (
	GenerationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stratopt_generations_total",
		Help: "Total number of completed generations",
	})

	BestFitness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stratopt_best_fitness",
		Help: "Best fitness found by the current run",
	})

	RunState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stratopt_run_state",
		Help: "Optimizer run state (0=stopped, 1=starting, 2=started, 3=suspending, 4=suspended, 5=stopping)",
	})

	RunProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stratopt_run_progress_ratio",
		Help: "Completed runs over planned runs (0.0 to 1.0)",
	})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratopt_runs_total",
		Help: "Optimization runs by final outcome",
	}, []string{"outcome"})
)

// Evaluation metrics
var (
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratopt_evaluations_total",
		Help: "Fitness evaluations by result",
	}, []string{"result"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratopt_evaluation_duration_seconds",
		Help:    "Wall time of a single fitness evaluation",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	EvaluationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stratopt_evaluations_in_flight",
		Help: "Fitness evaluations currently running",
	})

	CachePoolBorrowed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stratopt_cache_pool_borrowed",
		Help: "Cache handles currently borrowed per pool",
	}, []string{"pool"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stratopt_circuit_breaker_state",
		Help: "Runner circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"breaker"})
)

// Infrastructure metrics
var (
	MarketDataCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratopt_marketdata_cache_lookups_total",
		Help: "Market data cache lookups by result",
	}, []string{"result"})

	MarketDataLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stratopt_marketdata_load_duration_seconds",
		Help:    "Candle load latency per source",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratopt_events_published_total",
		Help: "Events published to the message bus by kind",
	}, []string{"kind"})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stratopt_database_query_duration_seconds",
		Help:    "Repository query latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratopt_api_requests_total",
		Help: "Control API requests",
	}, []string{"method", "path", "status"})
)

// RecordEvaluation records the outcome and duration of one fitness evaluation
func RecordEvaluation(err error, seconds float64) {
	EvaluationsTotal.WithLabelValues(NormalizeEvaluationError(err)).Inc()
	EvaluationDuration.Observe(seconds)
}

// RecordGeneration records a completed generation and the best fitness so far
func RecordGeneration(best float64) {
	GenerationsTotal.Inc()
	BestFitness.Set(best)
}

// SetPoolBorrowed updates the borrowed gauge of pool
func SetPoolBorrowed(pool string, borrowed int) {
	CachePoolBorrowed.WithLabelValues(pool).Set(float64(borrowed))
}

// SetCircuitBreakerState records a breaker state as 0 closed, 1 open, 2 half open
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCacheLookup records a market data cache lookup
func RecordCacheLookup(result string) {
	MarketDataCacheLookups.WithLabelValues(result).Inc()
}

// RecordEventPublished counts a published event
func RecordEventPublished(kind string) {
	EventsPublished.WithLabelValues(kind).Inc()
}

// RecordAPIRequest counts a control API request
func RecordAPIRequest(method, path, status string) {
	APIRequests.WithLabelValues(method, path, status).Inc()
}
