package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Route limits per minute, keyed by route name.
var DefaultRouteLimits = map[string]int{
	"health":      100,
	"validate":    60,
	"upload":      20,
	"collections": 30,
	"run":         40,
	"save":        30,
	"get":         60,
	"list":        60,
	"update":      30,
	"delete":      30,
	"documents":   60,
	"history":     60,
	"executions":  60,
}

type bucketKey struct {
	identity string
	route    string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter caps requests per identity and route with token buckets that hold
// a minute's allowance and refill continuously.
type Limiter struct {
	enabled bool
	limits  map[string]int
	window  time.Duration
	clock   Clock

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

// NewLimiter creates a Limiter whose limits are requests per minute. Routes
// absent from limits are not capped.
func NewLimiter(enabled bool, limits map[string]int, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Limiter{
		enabled: enabled,
		limits:  limits,
		window:  time.Minute,
		clock:   clock,
		buckets: make(map[bucketKey]*bucket),
	}
}

// Allow takes a token for the request, or reports how long until one is
// available.
func (l *Limiter) Allow(identity, route string) Decision {
	limit, capped := l.limits[route]
	if !l.enabled || !capped || limit <= 0 {
		return Decision{Allowed: true}
	}
	now := l.clock.Now()
	key := bucketKey{identity: identity, route: route}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		every := l.window / time.Duration(limit)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: l.window}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		// rate works in float tokens; drop the sub-millisecond residue
		return Decision{RetryAfter: delay.Round(time.Millisecond)}
	}
	return Decision{Allowed: true}
}

// Sweep drops buckets idle long enough to have refilled completely and
// returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}
