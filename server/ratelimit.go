package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterTTL = 2 * time.Hour

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// rateLimiter allows perHour subscribe requests per client IP.
type rateLimiter struct {
	clients   map[string]*ipLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	mu        sync.Mutex
}

// newRateLimiter returns nil when perHour is not positive, which disables limiting.
func newRateLimiter(perHour int) *rateLimiter {
	if perHour <= 0 {
		return nil
	}
	return &rateLimiter{
		clients:   make(map[string]*ipLimiter),
		limit:     rate.Every(time.Hour / time.Duration(perHour)),
		burst:     perHour,
		lastSweep: time.Now(),
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > limiterTTL {
		for k, c := range rl.clients {
			if now.Sub(c.lastAccess) > limiterTTL {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &ipLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastAccess = now
	return c.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func clientIP(r *http.Request) string {
	// Cloud Run and most load balancers put the client first.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		if ip = strings.TrimSpace(ip); ip != "" {
			return ip
		}
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
