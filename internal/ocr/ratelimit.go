package ocr

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket limiting OCR requests per minute.
type RateLimiter struct {
	mu sync.Mutex

	perMinute int
	window    float64

	tokens     float64
	lastUpdate time.Time

	consumed  int64
	waited    time.Duration
	throttled time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	Utilization     float64       `json:"utilization"`
	TimeUntilToken  time.Duration `json:"time_until_token"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	LastThrottled   time.Time     `json:"last_throttled,omitempty"`
}

// NewRateLimiter creates a limiter allowing perMinute requests per minute.
// A non-positive value returns nil, and a nil limiter never blocks.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		perMinute:  perMinute,
		window:     60.0,
		tokens:     float64(perMinute),
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1.0 {
			r.tokens--
			r.consumed++
			r.mu.Unlock()
			return nil
		}
		wait := r.untilToken()
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.waited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token without blocking and reports whether one was available.
func (r *RateLimiter) TryConsume() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= 1.0 {
		r.tokens--
		r.consumed++
		return true
	}
	return false
}

// Throttled records a rate-limit response from the engine. A positive
// retryAfter drains the bucket.
func (r *RateLimiter) Throttled(retryAfter time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttled = time.Now()
	if retryAfter > 0 {
		r.tokens = 0
	}
}

// Status returns the current limiter state.
func (r *RateLimiter) Status() RateLimiterStatus {
	if r == nil {
		return RateLimiterStatus{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()

	utilization := 1.0 - r.tokens/float64(r.perMinute)
	if utilization < 0 {
		utilization = 0
	}
	var until time.Duration
	if r.tokens < 1.0 {
		until = r.untilToken()
	}
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.perMinute,
		Utilization:     utilization,
		TimeUntilToken:  until,
		TotalConsumed:   r.consumed,
		TotalWaited:     r.waited,
		LastThrottled:   r.throttled,
	}
}

// untilToken must be called with the lock held.
func (r *RateLimiter) untilToken() time.Duration {
	rate := float64(r.perMinute) / r.window
	return time.Duration((1.0 - r.tokens) / rate * float64(time.Second))
}

// refill must be called with the lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now
	r.tokens += elapsed * float64(r.perMinute) / r.window
	if r.tokens > float64(r.perMinute) {
		r.tokens = float64(r.perMinute)
	}
}
