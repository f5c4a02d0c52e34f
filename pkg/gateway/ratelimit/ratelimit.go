// Package ratelimit holds the gateway's admission state: a request budget
// per caller, an open-stream count per user and the set of sessions with a
// turn running. It is in-process only; each replica limits on its own.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	// RPS and Burst shape each caller's request bucket. Either at zero
	// disables the bucket.
	RPS   float64
	Burst int

	// MaxConcurrentRequests caps a caller's in-flight plain requests.
	MaxConcurrentRequests int
	// MaxConcurrentStreams caps a user's open SSE and WebSocket turns.
	MaxConcurrentStreams int

	// MaxCallers bounds the caller table. When it is full, callers idle
	// longer than IdleTTL are dropped first.
	MaxCallers int
	IdleTTL    time.Duration
}

// Limiter is safe for concurrent use. A nil Limiter admits everything.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	callers map[string]*caller
	turns   map[string]struct{}
}

// caller is the admission state of one user or client address.
type caller struct {
	tokens   float64
	refilled time.Time

	requests int
	streams  int

	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxCallers <= 0 {
		cfg.MaxCallers = 10_000
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		callers: make(map[string]*caller),
		turns:   make(map[string]struct{}),
	}
}

// UserKey names the bucket of an authenticated user.
func UserKey(userID string) string { return "user:" + userID }

// IPKey names the bucket of an unauthenticated client address.
func IPKey(ip string) string { return "ip:" + ip }

// Permit is held for the life of an admitted request, stream or turn.
// Release may be called more than once.
type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// Decision is the outcome of an admission check. RetryAfter is in seconds
// and only set when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

func refuse(retryAfter int) Decision {
	return Decision{RetryAfter: max(retryAfter, 1)}
}

// AcquireRequest admits one plain request for key. A request turned away by
// the concurrency cap does not spend a token.
func (l *Limiter) AcquireRequest(key string, now time.Time) Decision {
	if l == nil {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.callerLocked(key, now)
	if limit := l.cfg.MaxConcurrentRequests; limit > 0 && c.requests >= limit {
		return refuse(1)
	}
	if wait, ok := c.spend(l.cfg.RPS, l.cfg.Burst, now); !ok {
		return refuse(wait)
	}
	c.requests++
	return l.admit(func() { c.requests-- })
}

// AcquireStream admits one streaming turn for key. Streams outlive plain
// requests, so they are counted apart from them.
func (l *Limiter) AcquireStream(key string, now time.Time) Decision {
	if l == nil {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.callerLocked(key, now)
	if limit := l.cfg.MaxConcurrentStreams; limit > 0 && c.streams >= limit {
		return refuse(1)
	}
	c.streams++
	return l.admit(func() { c.streams-- })
}

// BeginTurn claims sessionID until the permit is released. A session runs
// one turn at a time whichever transport carries it.
func (l *Limiter) BeginTurn(sessionID string) Decision {
	if l == nil {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, running := l.turns[sessionID]; running {
		return refuse(1)
	}
	l.turns[sessionID] = struct{}{}
	return l.admit(func() { delete(l.turns, sessionID) })
}

func (l *Limiter) admit(undo func()) Decision {
	return Decision{Allowed: true, Permit: &Permit{release: func() {
		l.mu.Lock()
		undo()
		l.mu.Unlock()
	}}}
}

func (l *Limiter) callerLocked(key string, now time.Time) *caller {
	if key == "" {
		key = "anonymous"
	}
	c, ok := l.callers[key]
	if !ok {
		if len(l.callers) >= l.cfg.MaxCallers {
			l.evictLocked(now)
		}
		c = &caller{}
		l.callers[key] = c
	}
	c.lastSeen = now
	return c
}

// evictLocked drops callers idle past IdleTTL. If none qualify it drops the
// least recently seen one. Callers holding permits are never dropped.
func (l *Limiter) evictLocked(now time.Time) {
	var stalest string
	var stalestSeen time.Time
	for key, c := range l.callers {
		if c.requests > 0 || c.streams > 0 {
			continue
		}
		if now.Sub(c.lastSeen) > l.cfg.IdleTTL {
			delete(l.callers, key)
			continue
		}
		if stalest == "" || c.lastSeen.Before(stalestSeen) {
			stalest, stalestSeen = key, c.lastSeen
		}
	}
	if len(l.callers) >= l.cfg.MaxCallers && stalest != "" {
		delete(l.callers, stalest)
	}
}

// spend takes one token from the caller's bucket, refilling it for the time
// since the last call. On refusal it returns the seconds until a token is due.
func (c *caller) spend(rps float64, burst int, now time.Time) (int, bool) {
	if rps <= 0 || burst <= 0 {
		return 0, true
	}
	capacity := float64(burst)
	switch {
	case c.refilled.IsZero():
		c.tokens = capacity
		c.refilled = now
	case now.After(c.refilled):
		c.tokens = math.Min(capacity, c.tokens+now.Sub(c.refilled).Seconds()*rps)
		c.refilled = now
	}
	if c.tokens >= 1 {
		c.tokens--
		return 0, true
	}
	return int(math.Ceil((1 - c.tokens) / rps)), false
}
