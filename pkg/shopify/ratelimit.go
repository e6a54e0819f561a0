package shopify

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimiterRegistry hands out one token bucket per connection.
type LimiterRegistry struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func NewLimiterRegistry(perSecond float64, burst int) *LimiterRegistry {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &LimiterRegistry{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Get returns the limiter for key, creating it on first use.
func (r *LimiterRegistry) Get(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = lim
	}
	return lim
}

// Remove drops the limiter for a disconnected connection.
func (r *LimiterRegistry) Remove(key string) {
	r.mu.Lock()
	delete(r.limiters, key)
	r.mu.Unlock()
}

// Len reports how many connections currently hold a limiter.
func (r *LimiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
