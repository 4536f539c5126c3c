package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// MemoryLimiter: token bucket por clave, para single instance y tests.
// Equivalencia con la ventana fija: max requests por window, con burst = max.
type MemoryLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    xrate.Limit
	burst    int
	maxIdle  time.Duration
	lastScan time.Time
}

type bucket struct {
	lim      *xrate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(maxRequests int, window time.Duration) *MemoryLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		limit:   xrate.Every(window / time.Duration(maxRequests)),
		burst:   maxRequests,
		maxIdle: 10 * window,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	key = sanitizeKey(key)
	now := time.Now()

	l.mu.Lock()
	l.evictStale(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: xrate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := b.lim.Reserve()
	delay := res.Delay()
	if delay > 0 {
		// Sin cupo inmediato: no encolamos, rechazamos.
		res.Cancel()
		return Result{Allowed: false, RetryAfter: delay}, nil
	}
	return Result{
		Allowed:   true,
		Remaining: int64(b.lim.Tokens()),
	}, nil
}

// evictStale descarta buckets sin actividad; se llama con el lock tomado y
// como mucho una vez por maxIdle.
func (l *MemoryLimiter) evictStale(now time.Time) {
	if now.Sub(l.lastScan) < l.maxIdle {
		return
	}
	l.lastScan = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.maxIdle {
			delete(l.buckets, key)
		}
	}
}
