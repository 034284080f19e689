package emulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/stratopt/internal/metrics"
)

// Default runner breaker thresholds
const (
	DefaultBreakerMinRequests     = 10
	DefaultBreakerFailureRatio    = 0.8
	DefaultBreakerOpenTimeout     = 30 * time.Second
	DefaultBreakerHalfOpenMaxReqs = 2
	DefaultBreakerCountInterval   = time.Minute
)

// BreakerSettings configures the runner circuit breaker
type BreakerSettings struct {
	Enabled         bool          `mapstructure:"enabled"`
	MinRequests     uint32        `mapstructure:"min_requests"`
	FailureRatio    float64       `mapstructure:"failure_ratio"`
	OpenTimeout     time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxReqs uint32        `mapstructure:"half_open_max_requests"`
	CountInterval   time.Duration `mapstructure:"count_interval"`
}

// DefaultBreakerSettings returns the default thresholds, enabled
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Enabled:         true,
		MinRequests:     DefaultBreakerMinRequests,
		FailureRatio:    DefaultBreakerFailureRatio,
		OpenTimeout:     DefaultBreakerOpenTimeout,
		HalfOpenMaxReqs: DefaultBreakerHalfOpenMaxReqs,
		CountInterval:   DefaultBreakerCountInterval,
	}
}

// BreakerRunner fails runs fast once the wrapped runner keeps failing
type BreakerRunner struct {
	next Runner
	cb   *gobreaker.TwoStepCircuitBreaker
}

// NewBreakerRunner wraps next with a circuit breaker called name
func NewBreakerRunner(name string, next Runner, settings BreakerSettings) *BreakerRunner {
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.HalfOpenMaxReqs,
		Interval:    settings.CountInterval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Runner circuit breaker state changed")
			metrics.SetCircuitBreakerState(name, stateValue(to))
		},
	})
	metrics.SetCircuitBreakerState(name, stateValue(cb.State()))

	return &BreakerRunner{next: next, cb: cb}
}

// Run forwards req unless the circuit is open, in which case onComplete
// receives ErrCircuitOpen immediately
func (r *BreakerRunner) Run(ctx context.Context, req RunRequest, onComplete func(RunResult)) {
	done := Once(onComplete)

	report, err := r.cb.Allow()
	if err != nil {
		done(RunResult{Err: fmt.Errorf("%w: %w", ErrCircuitOpen, err)})
		return
	}

	r.next.Run(ctx, req, func(res RunResult) {
		// cancellation says nothing about runner health
		report(res.Err == nil || errors.Is(res.Err, context.Canceled))
		done(res)
	})
}

// State of the breaker
func (r *BreakerRunner) State() gobreaker.State {
	return r.cb.State()
}

func stateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
