// Package admission decides whether a request may enter the pipeline. Two
// independent layers run per request: a per-class minimum-interval throttle
// and a coarse fixed-window limit per route.
package admission

import (
	"sync"
	"time"
)

// Class is an endpoint class with its own throttle state and interval.
type Class string

const (
	ClassGeneral Class = "general"
	ClassHeavy   Class = "heavy"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// ThrottleConfig tunes a Throttle.
type ThrottleConfig struct {
	Enabled   bool
	Intervals map[Class]time.Duration
	// Window is how long recorded instants are kept. Default 60s.
	Window time.Duration
	// IdleTTL is how long an identity may stay silent before Sweep drops it. Default 1h.
	IdleTTL time.Duration
	// MaxStamps bounds the instants kept per identity and class. Default 128.
	MaxStamps int
}

type throttleEntry struct {
	stamps   map[Class][]time.Time
	lastSeen time.Time
}

// Throttle enforces a minimum interval between requests from the same
// identity within an endpoint class.
type Throttle struct {
	cfg   ThrottleConfig
	clock Clock

	mu      sync.Mutex
	entries map[string]*throttleEntry
}

// NewThrottle creates a Throttle. A nil clock uses the wall clock.
func NewThrottle(cfg ThrottleConfig, clock Clock) *Throttle {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	if cfg.MaxStamps <= 0 {
		cfg.MaxStamps = 128
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Throttle{cfg: cfg, clock: clock, entries: make(map[string]*throttleEntry)}
}

// Admit records a request from identity in class and reports whether it is allowed.
func (t *Throttle) Admit(identity string, class Class) Decision {
	if !t.cfg.Enabled {
		return Decision{Allowed: true}
	}
	interval := t.cfg.Intervals[class]
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[identity]
	if !ok {
		e = &throttleEntry{stamps: make(map[Class][]time.Time)}
		t.entries[identity] = e
	}
	e.lastSeen = now

	stamps := prune(e.stamps[class], now, t.cfg.Window)
	if n := len(stamps); n > 0 {
		if since := now.Sub(stamps[n-1]); since < interval {
			e.stamps[class] = stamps
			return Decision{RetryAfter: interval - since}
		}
	}
	stamps = append(stamps, now)
	if over := len(stamps) - t.cfg.MaxStamps; over > 0 {
		stamps = stamps[over:]
	}
	e.stamps[class] = stamps
	return Decision{Allowed: true}
}

// Sweep drops identities idle for longer than the idle TTL and returns how
// many were removed.
func (t *Throttle) Sweep() int {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.entries {
		if now.Sub(e.lastSeen) > t.cfg.IdleTTL {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// prune keeps the instants younger than window. Entries are in arrival order.
func prune(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) >= window {
		i++
	}
	return stamps[i:]
}
