// Package ratelimit bounds how often a single client may call the
// inference endpoints.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	// TrustedProxies are CIDRs whose X-Forwarded-For header is believed.
	TrustedProxies []string
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		TrustedProxies:    []string{"127.0.0.0/8", "::1/128"},
	}
}

// Limiter is a fixed one-minute window counter per client key.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*window
	limit   int
	proxies []*net.IPNet
	now     func() time.Time

	rejected atomic.Int64
}

type window struct {
	start    time.Time
	requests int
}

// NewLimiter falls back to DefaultConfig for a non-positive limit and
// ignores proxy entries that are not valid CIDRs.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	l := &Limiter{
		clients: make(map[string]*window),
		limit:   cfg.RequestsPerMinute,
		now:     time.Now,
	}
	for _, cidr := range cfg.TrustedProxies {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			l.proxies = append(l.proxies, network)
		}
	}
	return l
}

// Allow counts one request for key. When the window is exhausted it returns
// false and the time until the window resets.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[key]
	if !ok || now.Sub(w.start) >= time.Minute {
		l.clients[key] = &window{start: now, requests: 1}
		return true, 0
	}
	if w.requests >= l.limit {
		l.rejected.Add(1)
		return false, w.start.Add(time.Minute).Sub(now)
	}
	w.requests++
	return true, 0
}

// Sweep forgets clients whose window ended and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.clients {
		if now.Sub(w.start) >= time.Minute {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// ActiveClients returns the number of currently tracked clients
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Rejected returns the number of requests refused so far.
func (l *Limiter) Rejected() int64 {
	return l.rejected.Load()
}

// ClientIP returns the connecting address, or the first X-Forwarded-For
// entry when the connection comes from a trusted proxy.
func (l *Limiter) ClientIP(r *http.Request) string {
	direct, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		direct = r.RemoteAddr
	}
	ip := net.ParseIP(direct)
	if ip == nil || !l.trusted(ip) {
		return direct
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	return direct
}

func (l *Limiter) trusted(ip net.IP) bool {
	for _, network := range l.proxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware rejects over-limit requests with onLimit, or a plain 429 when
// onLimit is nil. Retry-After is always set.
func (l *Limiter) Middleware(onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Allow(l.ClientIP(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
