// Package clientlimit is middleware for per-ip request throttling on the
// public API.
//
// # Simple in-memory implementation, not shared between instances or distributed
//
// This guards the HTTP surface, not SMS traffic. A single caller hammering
// /check or /record gets 429s before it reaches the rate limit engine, and
// the first denial per client is logged once instead of on every request.
//
// It does not protect against distributed floods across many ips, and request
// bodies have already been accepted by the time it runs.
package clientlimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/sms-ratelimiter/internal/httpmw"
)

// visitor tracks a single client's token bucket and last activity.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged is set on the first denial and cleared when the entry is evicted
	logged bool
}

// Limiter holds per-ip token buckets. Idle entries are removed by Evict, which
// the owning process runs on an interval.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond  rate.Limit
	burst      int
	ttl        time.Duration
	maxClients int
	now        func() time.Time

	onFirstDenied func(ip string)
	onDenied      func(ip string)
	onCapacity    func(ip string)
}

type Option func(*Limiter)

// WithRate sets the refill rate and bucket size.
// WithRate(10, 50) allows 50 requests at once, then 10 per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL controls how long an idle client stays tracked before Evict drops it.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithMaxClients caps the number of tracked clients. New clients past the cap
// are rejected until Evict frees room. 0 means unbounded.
func WithMaxClients(n int) Option {
	return func(l *Limiter) { l.maxClients = n }
}

// WithClock replaces time.Now for lastSeen and eviction. Token refill always
// uses the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithOnFirstDenied is called once per tracked client on its first denial, used for logging.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnDenied is called on every denial, used for counters.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnCapacity is called when a new client is rejected because the tracking table is full.
func WithOnCapacity(fn func(ip string)) Option {
	return func(l *Limiter) { l.onCapacity = fn }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		visitors:  make(map[string]*visitor),
		perSecond: 50,
		burst:     100,
		ttl:       5 * time.Minute,
		now:       time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// TTL is the idle time after which Evict drops a client.
func (l *Limiter) TTL() time.Duration { return l.ttl }

// Allow reports whether a request from ip may proceed, creating its bucket on first sight.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	v, exists := l.visitors[ip]
	if !exists {
		if l.maxClients > 0 && len(l.visitors) >= l.maxClients {
			l.mu.Unlock()
			if l.onCapacity != nil {
				l.onCapacity(ip)
			}
			if l.onDenied != nil {
				l.onDenied(ip)
			}
			return false
		}
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = l.now()
	allowed := v.limiter.Allow()

	first := false
	if !allowed && !v.logged {
		v.logged = true
		first = true
	}
	// hooks may be slow, never call them under the lock
	l.mu.Unlock()

	if first && l.onFirstDenied != nil {
		l.onFirstDenied(ip)
	}
	if !allowed && l.onDenied != nil {
		l.onDenied(ip)
	}
	return allowed
}

// Evict drops clients idle for longer than the ttl and returns how many were removed.
func (l *Limiter) Evict() int {
	now := l.now()
	removed := 0
	l.mu.Lock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
			removed++
		}
	}
	l.mu.Unlock()
	return removed
}

// Len is the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Middleware rejects requests over the per-ip limit with 429. It must run
// after httpmw.ClientIP so the resolved address is on the context.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())

		if !l.Allow(ip) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			// no detail about remaining budget or refill timing
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
