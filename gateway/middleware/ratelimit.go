package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit configures the limiter for one route key. Tokens maps
// "METHOD /path" routes to a per-request token cost; unlisted routes consume
// DefaultTokens (minimum 1).
type RateLimit struct {
	RatePerSecond float64
	Burst         int
	DefaultTokens int
	Tokens        map[string]int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies token-bucket limits per route key and caller identity.
// Callers are identified by API key when present, falling back to client IP.
type RateLimiter struct {
	log      *slog.Logger
	limits   map[string]RateLimit
	mu       sync.Mutex
	visitors map[string]*rateEntry
	nowFn    func() time.Time
}

const visitorTTL = 10 * time.Minute

// NewRateLimiter builds a limiter from per-route configurations.
func NewRateLimiter(limits map[string]RateLimit, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		log:      logger,
		limits:   limits,
		visitors: make(map[string]*rateEntry),
		nowFn:    time.Now,
	}
}

// Middleware enforces the limit registered under key. Routes without a
// registered limit pass through untouched.
func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[key]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			identity := key + "|" + clientID(req)
			limiter := r.obtainLimiter(identity, limit)
			tokens := limit.tokenCost(req)
			if !limiter.AllowN(r.nowFn(), tokens) {
				r.log.Warn("request rate limited", "route", key, "identity", clientID(req))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (l RateLimit) tokenCost(req *http.Request) int {
	route := req.Method + " " + req.URL.Path
	if cost, ok := l.Tokens[route]; ok && cost > 0 {
		return cost
	}
	if l.DefaultTokens > 0 {
		return l.DefaultTokens
	}
	return 1
}

func (r *RateLimiter) obtainLimiter(id string, cfg RateLimit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	for key, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > visitorTTL {
			delete(r.visitors, key)
		}
	}

	entry, ok := r.visitors[id]
	if !ok {
		perSecond := cfg.RatePerSecond
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func clientID(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-Api-Key")); key != "" {
		return key
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); ip != "" {
		if comma := strings.IndexByte(ip, ','); comma > 0 {
			ip = strings.TrimSpace(ip[:comma])
		}
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.String()
		}
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
