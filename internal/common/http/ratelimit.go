package http

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AlibekovAA/class-schedule/internal/observability/metrics"
)

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		limiter, exists = rl.limiters[key]
		if !exists {
			limiter = rate.NewLimiter(rl.rate, rl.burst)
			rl.limiters[key] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// prune drops limiters whose bucket has refilled, i.e. idle clients.
func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, limiter := range rl.limiters {
		if limiter.Tokens() >= float64(rl.burst) {
			delete(rl.limiters, key)
		}
	}
}

type RateLimitRule struct {
	RequestsPerSecond float64
	Burst             int
}

// PathRateLimiter keeps a separate per-client limiter for each configured
// path. Unlisted paths share the general limiter.
type PathRateLimiter struct {
	byPath  map[string]*RateLimiter
	general *RateLimiter
}

func NewPathRateLimiter(rules map[string]RateLimitRule, general RateLimitRule) *PathRateLimiter {
	byPath := make(map[string]*RateLimiter, len(rules))
	for path, rule := range rules {
		byPath[path] = NewRateLimiter(rule.RequestsPerSecond, rule.Burst)
	}
	return &PathRateLimiter{
		byPath:  byPath,
		general: NewRateLimiter(general.RequestsPerSecond, general.Burst),
	}
}

// DefaultAuthRateLimiter throttles the credential endpoints harder than the
// rest of the API.
func DefaultAuthRateLimiter() *PathRateLimiter {
	return NewPathRateLimiter(map[string]RateLimitRule{
		"/auth/login":         {RequestsPerSecond: 1, Burst: 5},
		"/auth/register":      {RequestsPerSecond: 0.2, Burst: 3},
		"/auth/refresh-token": {RequestsPerSecond: 2, Burst: 10},
		"/auth/logout":        {RequestsPerSecond: 2, Burst: 10},
	}, RateLimitRule{RequestsPerSecond: 50, Burst: 100})
}

// StartCleanup prunes idle limiters until stop is closed.
func (p *PathRateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, rl := range p.byPath {
				rl.prune()
			}
			p.general.prune()
		}
	}
}

func (p *PathRateLimiter) Middleware(skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[s] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if _, ok := skipped[path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			limiter, limiterType := p.general, "general"
			if rl, ok := p.byPath[path]; ok {
				limiter, limiterType = rl, path
			}

			if !limiter.Allow(GetClientIP(r)) {
				metrics.RateLimitBlocked.WithLabelValues(path, limiterType).Inc()
				WriteErrorEnvelope(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", nil, TraceIDFromContext(r.Context()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
