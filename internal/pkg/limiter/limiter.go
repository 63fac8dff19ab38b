/*
Package limiter provides per-key token bucket rate limiting.

Keys are client IPs for the websocket handshake and user ids for message
sends. A background goroutine drops limiters whose bucket has refilled so
idle keys do not accumulate.
*/
package limiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/logx"
	"medimart/internal/pkg/resp"
)

const cleanupInterval = 3 * time.Minute

// KeyedLimiter keeps one *rate.Limiter per key.
type KeyedLimiter struct {
	mu     sync.RWMutex
	limits map[string]*rate.Limiter

	// r is the refill rate in events per second, b the bucket size.
	r rate.Limit
	b int

	name string
	done chan struct{}
	once sync.Once
}

// New creates a KeyedLimiter and starts its cleanup goroutine. Call Close to stop it.
func New(name string, r rate.Limit, b int) *KeyedLimiter {
	l := &KeyedLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
		name:   name,
		done:   make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Get returns the limiter for key, creating it on first use.
func (l *KeyedLimiter) Get(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limits[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok = l.limits[key]; !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limits[key] = lim
	}
	return lim
}

// Allow consumes one token for key.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.Get(key).Allow()
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (l *KeyedLimiter) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			removed, remaining := l.sweep(now)
			logx.Debug("Rate limiter sweep finished",
				"limiter", l.name,
				"removed", removed,
				"remaining", remaining,
			)
		}
	}
}

// sweep drops limiters whose bucket is full again.
func (l *KeyedLimiter) sweep(now time.Time) (removed, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, lim := range l.limits {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(l.limits, key)
			removed++
		}
	}
	return removed, len(l.limits)
}

// ClientIP returns the host part of r.RemoteAddr (already rewritten by chi's RealIP middleware).
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if ip == "" {
		ip = "unknown_ip"
	}
	return ip
}

// PerIP is an HTTP middleware answering 429 once the client IP exhausts its bucket.
func (l *KeyedLimiter) PerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !l.Allow(ip) {
			logx.Warn("Request rejected by rate limiter", "limiter", l.name, "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}
		next.ServeHTTP(w, r)
	})
}
