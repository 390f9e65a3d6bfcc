// Package ratelimit implements the per-client-IP token bucket of spec
// §4.5: the outermost optional middleware on a forward. It is
// grounded on original_source/src/server.rs's use of tower_governor,
// translated onto golang.org/x/time/rate since the Go ecosystem's
// idiomatic per-key limiter is a map of *rate.Limiter, not a crate
// equivalent to tower_governor.
package ratelimit

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per client IP, all sharing the same
// per_second/burst configuration (spec §3 Forward.ratelimit).
type Limiter struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New builds a Limiter for a given rate (requests/sec) and burst size.
func New(perSecond float64, burst int) *Limiter {
	return &Limiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a request from clientIP may proceed right now,
// consuming one token if so.
func (l *Limiter) Allow(clientIP string) bool {
	return l.bucketFor(clientIP).Allow()
}

func (l *Limiter) bucketFor(clientIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[clientIP]
	if !ok {
		b = rate.NewLimiter(l.perSecond, l.burst)
		l.buckets[clientIP] = b
	}
	return b
}

// ClientIP extracts the request's client IP, preferring RemoteAddr's
// host portion and falling back to the raw value if it isn't in
// host:port form (e.g. behind certain test transports).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware wraps next with the rate limiter as the outermost layer
// (spec §4.5): rejected requests never reach the timeout middleware or
// the handler. onReject is called before writing 429, to let the
// caller bump its own metrics.
func Middleware(l *Limiter, onReject func(r *http.Request), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			if onReject != nil {
				onReject(r)
			}
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
