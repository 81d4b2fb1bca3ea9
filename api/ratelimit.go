package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// bookLimiter keeps one token bucket per account book. Idle buckets are
// dropped after expiresIn.
type bookLimiter struct {
	limit     rate.Limit
	burst     int
	expiresIn time.Duration
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newBookLimiter(perMinute, burst int) *bookLimiter {
	if burst < 1 {
		burst = 1
	}
	return &bookLimiter{
		limit:     rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
		expiresIn: time.Minute,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
}

func (l *bookLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.expiresIn {
			delete(l.buckets, k)
		}
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// middleware rejects requests over the per-book rate with 429.
func (l *bookLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(chi.URLParam(r, "id")) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Too many refresh requests for this account book", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
