package shield

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP rate limiting with a fixed window. Captures
// hold a browser page for seconds at a time, so the API cannot absorb an
// unthrottled client.
type RateLimiter struct {
	max        int
	window     time.Duration
	gcInterval time.Duration
	buckets    sync.Map
}

// NewRateLimiter allows max requests per ip per window. Call StartGC to
// prune expired buckets; without it the map only grows.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{max: max, window: window, gcInterval: 5 * time.Minute}
}

// StartGC prunes expired buckets in the background until done closes.
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	go func() {
		t := time.NewTicker(rl.gcInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				rl.gc(time.Now())
			}
		}
	}()
}

func (rl *RateLimiter) gc(now time.Time) {
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) allow(ip string) bool {
	now := time.Now()
	val, _ := rl.buckets.LoadOrStore(ip, &bucket{resetAt: now.Add(rl.window)})
	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 1
		b.resetAt = now.Add(rl.window)
		return true
	}
	b.count++
	return b.count <= rl.max
}

// Middleware rejects over-limit requests with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.allow(ip) {
			GetLogger(r.Context()).Warn("rate limited", "ip", ip)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
