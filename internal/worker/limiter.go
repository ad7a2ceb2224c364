package worker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter implements per-model rate limiting. A nil Limiter never waits.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter giving each model requestsPerSecond with the
// given burst. A non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	r := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		r = rate.Inf
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until model may be called again.
func (l *Limiter) Wait(ctx context.Context, model string) error {
	if l == nil {
		return ctx.Err()
	}
	return l.get(model).Wait(ctx)
}

// SetModelRate overrides the rate for one model. A non-positive rate
// disables limiting for it.
func (l *Limiter) SetModelRate(model string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if burst <= 0 {
		burst = l.defaultBurst
	}
	r := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		r = rate.Inf
	}
	l.limiters[model] = rate.NewLimiter(r, burst)
}

func (l *Limiter) get(model string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[model]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[model]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[model] = limiter
	return limiter
}
