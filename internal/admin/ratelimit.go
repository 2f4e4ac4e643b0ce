package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/metrics"
)

const (
	staleLimiterTTL = 10 * time.Minute
	cleanupInterval = 1 * time.Minute
)

// RateRule limits requests matching Method (empty for any) and path Prefix
// (empty for any). The first matching rule wins.
type RateRule struct {
	Method string
	Prefix string
	Limit  rate.Limit
	Burst  int
}

func (r RateRule) key() string {
	return r.Method + ":" + r.Prefix
}

func (r RateRule) matches(method, path string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return r.Prefix == "" || strings.HasPrefix(path, r.Prefix)
}

// DefaultRateRules fit a device posting every few seconds and an operator
// clicking dashboard buttons. The catch-all covers dashboard refreshes.
func DefaultRateRules() []RateRule {
	return []RateRule{
		{Method: http.MethodPost, Prefix: "/api/traffic", Limit: 5, Burst: 10},
		{Method: http.MethodPost, Prefix: "/api/command", Limit: rate.Limit(30.0 / 60), Burst: 5},
		{Method: http.MethodPost, Prefix: "/api/auto", Limit: rate.Limit(10.0 / 60), Burst: 3},
		{Limit: 5, Burst: 20},
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies per-rule, per-client-IP token buckets.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "rule|clientIP"
	rules    []RateRule
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimitMiddleware starts a background sweep of idle limiters; call
// Stop to release it. With no rules DefaultRateRules apply.
func NewRateLimitMiddleware(logger *slog.Logger, rules ...RateRule) *RateLimitMiddleware {
	if len(rules) == 0 {
		rules = DefaultRateRules()
	}
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		rules:    rules,
		logger:   logger.With("component", "rate_limit"),
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop is safe to call multiple times.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := rl.match(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := extractClientIP(r)
		if !rl.limiter(rule, clientIP).Allow() {
			metrics.AdminRateLimitedTotal.Inc()
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			rl.logger.Warn("rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) match(method, path string) (RateRule, bool) {
	for _, rule := range rl.rules {
		if rule.matches(method, path) {
			return rule, true
		}
	}
	return RateRule{}, false
}

func (rl *RateLimitMiddleware) limiter(rule RateRule, clientIP string) *rate.Limiter {
	key := rule.key() + "|" + clientIP
	now := rl.nowFunc()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	limiter := rate.NewLimiter(rule.Limit, rule.Burst)
	rl.limiters[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
