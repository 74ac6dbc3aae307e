package middleware

import (
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
)

// IdentityLimiter hands out one token bucket per identity. Buckets for idle
// identities are evicted once more than size identities are tracked.
type IdentityLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewIdentityLimiter allows perMinute requests per identity with burst.
func NewIdentityLimiter(perMinute, burst, size int) (*IdentityLimiter, error) {
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	if burst <= 0 {
		burst = 1
	}
	return &IdentityLimiter{
		limiters: cache,
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
	}, nil
}

// Allow consumes one token for key.
func (l *IdentityLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// RateLimit rejects requests with 429 once the caller's bucket is empty.
// Callers are keyed by user ID behind the gate, by remote address otherwise.
func RateLimit(l *IdentityLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(limiterKey(r)) {
				w.Header().Set("Retry-After", "60")
				WriteError(w, ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limiterKey(r *http.Request) string {
	if ec, ok := auth.GetEffectiveContext(r.Context()); ok && ec.UserID != "" {
		return "user:" + ec.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
