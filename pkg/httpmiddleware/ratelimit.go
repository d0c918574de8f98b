package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window per key.
	Max int
	// Window is the window length.
	Window time.Duration
	// KeyFunc identifies the client. ClientIP when nil.
	KeyFunc func(*http.Request) string
}

// window counts requests of one key in the current and the previous window.
type window struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

type limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &limiter{cfg: cfg, now: time.Now, windows: make(map[string]*window)}
}

// take records a request of key if it is within the limit. The previous
// window is weighted by how much of it still overlaps the sliding window.
func (l *limiter) take(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil {
		w = &window{currStart: now.Truncate(l.cfg.Window)}
		l.windows[key] = w
	}
	if elapsed := now.Sub(w.currStart); elapsed >= l.cfg.Window {
		w.prevCount = w.currCount
		if elapsed >= 2*l.cfg.Window {
			w.prevCount = 0
		}
		w.currCount = 0
		w.currStart = now.Truncate(l.cfg.Window)
	}

	overlap := 1 - now.Sub(w.currStart).Seconds()/l.cfg.Window.Seconds()
	used := w.prevCount*math.Max(overlap, 0) + w.currCount
	resetAt = w.currStart.Add(l.cfg.Window)
	if used >= float64(l.cfg.Max) {
		return 0, resetAt, false
	}

	w.currCount++
	return max(int(float64(l.cfg.Max)-used-1), 0), resetAt, true
}

// sweep drops keys idle for two windows.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.currStart) >= 2*l.cfg.Window {
			delete(l.windows, key)
		}
	}
}

func (l *limiter) sweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

// RateLimit enforces a per-key sliding window limit and answers 429 with a
// JSON error once it is exceeded. X-RateLimit-* headers are set on every
// response. Idle keys are swept in the background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.sweepEvery(ctx, 2*cfg.Window)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	limit := strconv.Itoa(l.cfg.Max)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := l.now()
		remaining, resetAt, ok := l.take(l.cfg.KeyFunc(r), now)

		h := w.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !ok {
			retry := math.Ceil(math.Max(resetAt.Sub(now).Seconds(), 0))
			h.Set("Retry-After", strconv.Itoa(int(retry)))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the host of
// RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
