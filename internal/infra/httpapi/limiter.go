package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"judgebox/internal/metrics"
)

// RateLimiter admits requests through a global token bucket, a per-client
// bucket and a cap on in-flight requests.
type RateLimiter struct {
	global      *rate.Limiter
	clientRate  rate.Limit
	clientBurst int
	maxInFlight int

	mu       sync.Mutex
	clients  map[string]*clientLimiter
	inFlight int
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LimitConfig configures a RateLimiter. Zero rates disable the matching bucket
// and a zero MaxInFlight disables the concurrency cap.
type LimitConfig struct {
	GlobalRate  float64
	ClientRate  float64
	ClientBurst int
	MaxInFlight int
}

// NewRateLimiter builds a RateLimiter from cfg.
func NewRateLimiter(cfg LimitConfig) *RateLimiter {
	rl := &RateLimiter{
		clientRate:  rate.Limit(cfg.ClientRate),
		clientBurst: cfg.ClientBurst,
		maxInFlight: cfg.MaxInFlight,
		clients:     make(map[string]*clientLimiter),
		now:         time.Now,
	}
	if cfg.GlobalRate > 0 {
		burst := int(cfg.GlobalRate) * 2
		if burst < 1 {
			burst = 1
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRate), burst)
	}
	if rl.clientBurst <= 0 {
		rl.clientBurst = 1
	}
	return rl
}

// Allow reports whether a request from client may proceed. Every true
// result must be paired with a call to Done.
func (rl *RateLimiter) Allow(client string) bool {
	if rl.global != nil && !rl.global.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.clientRate > 0 && !rl.clientLimiter(client).Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	if rl.maxInFlight > 0 && rl.inFlight >= rl.maxInFlight {
		metrics.RateLimitHits.Inc()
		return false
	}
	rl.inFlight++
	return true
}

// Done releases an in-flight slot taken by Allow.
func (rl *RateLimiter) Done() {
	rl.mu.Lock()
	if rl.inFlight > 0 {
		rl.inFlight--
	}
	rl.mu.Unlock()
}

// caller holds rl.mu
func (rl *RateLimiter) clientLimiter(client string) *rate.Limiter {
	entry, ok := rl.clients[client]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.clientRate, rl.clientBurst)}
		rl.clients[client] = entry
	}
	entry.lastSeen = rl.now()
	return entry.limiter
}

// Prune forgets clients idle for longer than maxIdle.
func (rl *RateLimiter) Prune(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	for client, entry := range rl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

// Middleware rejects requests over the limits with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			writeDetail(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		defer rl.Done()

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
