package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig tunes the retry decorator.
type RetryConfig struct {
	// MaxAttempts is the total number of calls, first try included.
	MaxAttempts int
	// InitialWait is the backoff base; doubles each attempt by default.
	InitialWait time.Duration
	// MaxWait caps the computed backoff.
	MaxWait time.Duration
	// Multiplier defaults to 2 when zero.
	Multiplier float64
	// CallTimeout bounds each individual provider call. The underlying
	// call is not guaranteed to stop at the deadline; late results are
	// simply discarded.
	CallTimeout time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialWait <= 0 {
		c.InitialWait = time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	return c
}

// RetryProvider decorates a Provider with per-call timeouts and exponential
// backoff with jitter on transient failures.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WithRetry wraps a Provider with retry logic.
func WithRetry(p Provider, cfg RetryConfig) *RetryProvider {
	return &RetryProvider{inner: p, config: cfg.withDefaults()}
}

// Generate calls the inner provider, retrying transient errors until the
// attempt budget is exhausted. The last underlying error is returned.
func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	return r.GenerateValidated(ctx, req, nil)
}

// GenerateValidated runs check against each successful response inside the
// retry loop, so a call that returns unusable content (no JSON, malformed
// payload) burns an attempt and is retried for fresh output just like a
// provider failure.
func (r *RetryProvider) GenerateValidated(ctx context.Context, req Request, check func(*Response) error) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		resp, err := r.call(ctx, req)
		if err == nil && check != nil {
			err = check(resp)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return nil, err
		}
		if attempt == r.config.MaxAttempts-1 {
			break
		}

		wait := r.backoff(attempt, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, lastErr
}

// ModelID returns the wrapped provider's model identifier.
func (r *RetryProvider) ModelID() string {
	return r.inner.ModelID()
}

func (r *RetryProvider) call(ctx context.Context, req Request) (*Response, error) {
	if r.config.CallTimeout <= 0 {
		return r.inner.Generate(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	return r.inner.Generate(callCtx, req)
}

func shouldRetry(err error) bool {
	// A timed-out call is transient, but an outer cancellation is not.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rl *ErrRateLimit
	if errors.As(err, &rl) {
		return true
	}
	var unavail *ErrProviderUnavailable
	if errors.As(err, &unavail) {
		return true
	}
	var invalid *ErrInvalidResponse
	if errors.As(err, &invalid) {
		return true
	}

	// Network errors, deadline overruns and the rest are treated as transient.
	return true
}

func (r *RetryProvider) backoff(attempt int, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))
	if wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}

	// ±20% jitter.
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
