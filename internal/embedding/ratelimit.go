package embedding

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures client-side rate limiting for hosted
// embedding APIs.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// BurstSize allows temporary burst above the rate limit
	BurstSize int
}

// DefaultRateLimitConfig returns conservative defaults for free-tier
// hosted APIs.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         5,
	}
}

// RateLimitProvider wraps a provider with a token-bucket rate limiter.
// It throttles requests before they leave the process; it never retries a
// failed request.
type RateLimitProvider struct {
	inner  Provider
	config *RateLimitConfig

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &RateLimitProvider{
		inner:      inner,
		config:     config,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string { return r.inner.Name() }

// Dimension returns the underlying provider dimension.
func (r *RateLimitProvider) Dimension() int { return r.inner.Dimension() }

// Embed waits for rate-limit clearance and delegates to the inner provider.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

// waitForCapacity blocks until the rate limit allows a request or the
// context is cancelled.
func (r *RateLimitProvider) waitForCapacity(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.config.RequestsPerMinute == 0 {
			r.mu.Unlock()
			return nil
		}
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}

		// Wait roughly one token's worth of time before checking again.
		wait := time.Minute / time.Duration(r.config.RequestsPerMinute)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// refill adds tokens based on elapsed time, capped at the burst size.
func (r *RateLimitProvider) refill() {
	if r.config.RequestsPerMinute <= 0 {
		return
	}

	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	add := int(elapsed.Minutes() * float64(r.config.RequestsPerMinute))
	if add <= 0 {
		return
	}

	max := r.config.BurstSize
	if max <= 0 {
		max = 1
	}
	r.tokens += add
	if r.tokens > max {
		r.tokens = max
	}
	r.lastRefill = now
}
