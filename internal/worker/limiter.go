package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces message intake. Each key (a queue name) gets its own budget
// of perSecond messages with bursts of up to burst.
type Limiter struct {
	mu    sync.Mutex
	keys  map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

// NewLimiter creates a limiter. A non-positive rate means unlimited.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Limiter{keys: make(map[string]*rate.Limiter), limit: limit, burst: burst}
}

// Wait blocks until key may take one message
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.forKey(key).Wait(ctx)
}

// Allow reports whether key may take one message now
func (l *Limiter) Allow(key string) bool {
	return l.forKey(key).Allow()
}

// Charge books n more messages against key without blocking. Later calls to
// Wait absorb the delay. Charges beyond the burst are clamped.
func (l *Limiter) Charge(key string, n int) {
	if n <= 0 || l.limit == rate.Inf {
		return
	}
	lim := l.forKey(key)
	lim.ReserveN(time.Now(), min(n, l.burst))
}

func (l *Limiter) forKey(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.keys[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.keys[key] = lim
	}
	return lim
}
