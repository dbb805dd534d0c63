// Package resilience bounds calls to external collaborators with a timeout
// and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/sony/gobreaker/v2"
)

// Config configures a Guard.
type Config struct {
	Name string

	// CallTimeout bounds every call; zero disables the per-call deadline.
	CallTimeout time.Duration

	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval is the cyclic period at which closed-state counts are cleared.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold uint32
}

// DefaultConfig returns the settings used for CMS, LMS and processor calls.
func DefaultConfig(name string, callTimeout time.Duration) Config {
	return Config{
		Name:             name,
		CallTimeout:      callTimeout,
		MaxRequests:      1,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
	}
}

// Guard wraps calls returning T.
type Guard[T any] struct {
	cb          *gobreaker.CircuitBreaker[T]
	callTimeout time.Duration
}

// NewGuard creates a guard. Validation and not-found errors are answers, not
// outages, so they never count against the breaker.
func NewGuard[T any](cfg Config, logger *slog.Logger, metrics observability.Metrics) *Guard[T] {
	if logger == nil {
		logger = slog.Default()
	}
	metrics = observability.OrNoop(metrics)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsValidation(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.Counter("tollgate.breaker.transitions", 1,
				observability.T("breaker", name), observability.T("to", to.String()))
		},
	}

	return &Guard[T]{
		cb:          gobreaker.NewCircuitBreaker[T](settings),
		callTimeout: cfg.CallTimeout,
	}
}

// Do runs fn under the call timeout and breaker. Failures other than
// validation errors come back wrapped in domain.ErrUpstreamUnavailable.
func (g *Guard[T]) Do(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}

	result, err := g.cb.Execute(func() (T, error) {
		return fn(ctx)
	})
	if err == nil {
		return result, nil
	}

	var zero T
	switch {
	case domain.IsValidation(err), errors.Is(err, domain.ErrUpstreamUnavailable):
		return zero, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return zero, fmt.Errorf("%w: %s circuit open", domain.ErrUpstreamUnavailable, g.cb.Name())
	default:
		return zero, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
}

// State reports the breaker state, e.g. for health checks.
func (g *Guard[T]) State() string {
	return g.cb.State().String()
}
