package generate

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// RetryConfig bounds the retry loop around a flaky generator. Delays grow
// exponentially with jitter so synchronized threads don't hammer the
// provider in lockstep.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	JitterFactor  float64       `yaml:"jitter_factor"`
}

// DefaultRetryConfig returns the defaults used when the policy file is
// silent.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// Resilient decorates a Generator with bounded retries and a circuit
// breaker. Transient errors are retried with backoff; once attempts are
// exhausted the caller receives a FailedError. The breaker keeps a flapping
// provider from dragging out every thread in a week.
type Resilient struct {
	inner   Generator
	config  RetryConfig
	breaker *gobreaker.CircuitBreaker
	sleep   func(context.Context, time.Duration) error
	rand    *rand.Rand
}

// ResilientOption customizes the decorator.
type ResilientOption func(*Resilient)

// WithSleep replaces the backoff sleeper (tests use this to avoid real
// delays).
func WithSleep(sleep func(context.Context, time.Duration) error) ResilientOption {
	return func(r *Resilient) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewResilient wraps inner with retry and circuit-breaker behavior.
func NewResilient(inner Generator, config RetryConfig, opts ...ResilientOption) *Resilient {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = DefaultRetryConfig().BackoffFactor
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultRetryConfig().InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	r := &Resilient{
		inner:  inner,
		config: config,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "generation",
			MaxRequests: 2,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && counts.ConsecutiveFailures >= 5
			},
		}),
		sleep: sleepContext,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Generate retries the inner generator on transient failures. Canonical
// state is never touched here; the scheduler only applies a reply once it is
// returned without error.
func (r *Resilient) Generate(ctx context.Context, req Request) (Reply, error) {
	var lastErr error
	attempt := 0
	for attempt < r.config.MaxAttempts {
		attempt++
		result, err := r.breaker.Execute(func() (any, error) {
			return r.inner.Generate(ctx, req)
		})
		if err == nil {
			return result.(Reply), nil
		}
		lastErr = err
		retryable := IsTransient(err) || err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
		if !retryable || attempt == r.config.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}
	return Reply{}, &FailedError{Role: req.Role, Attempts: attempt, Err: lastErr}
}

func (r *Resilient) delay(attempt int) time.Duration {
	backoff := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if max := float64(r.config.MaxDelay); backoff > max {
		backoff = max
	}
	if r.config.JitterFactor > 0 {
		backoff += backoff * r.config.JitterFactor * r.rand.Float64()
	}
	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
