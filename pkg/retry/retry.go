// Package retry provides retry logic with linear and exponential
// backoff for pipeline operations whose failures are categorized by
// pkg/ghosterr.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/samjhill/ghostroll/pkg/ghosterr"
)

// Backoff selects how the delay between attempts grows.
type Backoff int

const (
	// Linear increases the delay by a fixed amount each attempt,
	// matching the dedup store's "small linear backoff" contract.
	Linear Backoff = iota
	// Exponential multiplies the delay by Multiplier (2 by default)
	// each attempt.
	Exponential
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	Backoff      Backoff

	// OnRetry is called before each retry attempt, for logging.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// LinearConfig returns the dedup store's ten-attempts-small-step
// default.
func LinearConfig() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Backoff:      Linear,
	}
}

// ExponentialConfig returns a five-attempt exponential backoff with
// jitter, starting at 500ms and capped at 30s.
func ExponentialConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Backoff:      Exponential,
	}
}

// Retryer executes a function, retrying failures whose ghosterr.Error
// is marked Retryable.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling zero-valued fields with sane defaults.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Backoff == Exponential && config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do executes fn, retrying according to the configured backoff.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ghosterr.Wrap(ghosterr.CodeCanceled, ctx.Err(), "retry canceled")
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= r.config.MaxAttempts || !r.shouldRetry(err) {
			return err
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ghosterr.Wrap(ghosterr.CodeCanceled, ctx.Err(), "retry canceled during backoff")
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retryer) shouldRetry(err error) bool {
	var ge *ghosterr.Error
	if stderr.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	var delay float64
	switch r.config.Backoff {
	case Linear:
		delay = float64(r.config.InitialDelay) * float64(attempt)
	default:
		delay = float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	}

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}
