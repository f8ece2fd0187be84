package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/dotcommander/lectern/internal/logging"
)

// Guard defaults.
const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// GuardConfig configures GuardedBackend.
type GuardConfig struct {
	// RateLimit is the number of searches allowed per second; zero disables
	// limiting.
	RateLimit float64
	Burst     int
	// BreakerFailures is the number of consecutive failures that open the
	// circuit.
	BreakerFailures uint32
	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration
}

// GuardedBackend wraps a SearchBackend with a rate limiter and a circuit
// breaker. While the circuit is open calls fail fast.
type GuardedBackend struct {
	inner   SearchBackend
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[SearchResults]
}

var _ SearchBackend = &GuardedBackend{}

// NewGuardedBackend wraps inner.
func NewGuardedBackend(inner SearchBackend, cfg GuardConfig, logger *slog.Logger) *GuardedBackend {
	logger = logging.OrDiscard(logger)
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}

	breaker := gobreaker.NewCircuitBreaker[SearchResults](gobreaker.Settings{
		Name:        "search:" + inner.Name(),
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the backend's health.
			return err == nil || isContextErr(err)
		},
	})

	return &GuardedBackend{inner: inner, limiter: limiter, breaker: breaker}
}

// Name implements SearchBackend.
func (g *GuardedBackend) Name() string { return g.inner.Name() }

// Search implements SearchBackend.
func (g *GuardedBackend) Search(ctx context.Context, q SearchQuery) (SearchResults, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return SearchResults{}, fmt.Errorf("rate limit: %w", err)
	}
	res, err := g.breaker.Execute(func() (SearchResults, error) {
		return g.inner.Search(ctx, q)
	})
	if err != nil {
		return SearchResults{}, err //nolint:wrapcheck
	}
	return res, nil
}

// State reports the breaker state, for diagnostics.
func (g *GuardedBackend) State() gobreaker.State {
	return g.breaker.State()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
