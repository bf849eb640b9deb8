package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type window struct {
	count int
	until time.Time
}

// fixedWindow counts hits per key in fixed windows of length per.
type fixedWindow struct {
	limit int
	per   time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

func newFixedWindow(limit int, per time.Duration) *fixedWindow {
	return &fixedWindow{limit: limit, per: per, windows: make(map[string]*window)}
}

// allow records a hit for key at now. When the key is over its limit it
// returns false and the time left until its window resets.
func (f *fixedWindow) allow(key string, now time.Time) (bool, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[key]
	if !ok || !now.Before(w.until) {
		f.sweep(now)
		w = &window{until: now.Add(f.per)}
		f.windows[key] = w
	}
	if w.count >= f.limit {
		return false, w.until.Sub(now)
	}
	w.count++
	return true, 0
}

func (f *fixedWindow) sweep(now time.Time) {
	for key, w := range f.windows {
		if !now.Before(w.until) {
			delete(f.windows, key)
		}
	}
}

// RateLimit allows limit requests per client IP in each fixed window of
// length per. A non-positive limit disables it.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	fw := newFixedWindow(limit, per)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := fw.allow(clientIPForRateLimit(r), time.Now())
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			if ip := strings.TrimSpace(part); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
