package admission

import (
	"errors"
	"math"
	"time"

	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
)

// Rejection reasons carried in the error details.
const (
	ReasonThrottled   = "throttled"
	ReasonRateLimited = "rate_limited"
)

// Controller runs both admission layers for a request.
type Controller struct {
	throttle *Throttle
	limiter  *Limiter
}

// NewController combines a throttle and a route limiter. Either may be nil.
func NewController(throttle *Throttle, limiter *Limiter) *Controller {
	return &Controller{throttle: throttle, limiter: limiter}
}

// Admit checks route's limit and, when class is set, the class throttle. The
// route limit is checked first so a capped client does not consume throttle
// slots.
func (c *Controller) Admit(identity, route string, class Class) error {
	if err := c.AdmitRoute(identity, route); err != nil {
		return err
	}
	return c.AdmitClass(identity, route, class)
}

// AdmitRoute checks only the coarse per-route limit.
func (c *Controller) AdmitRoute(identity, route string) error {
	if c.limiter == nil {
		return nil
	}
	if d := c.limiter.Allow(identity, route); !d.Allowed {
		return rejected(ReasonRateLimited, route, "", d.RetryAfter)
	}
	return nil
}

// AdmitClass checks only the class throttle. An empty class always passes.
func (c *Controller) AdmitClass(identity, route string, class Class) error {
	if c.throttle == nil || class == "" {
		return nil
	}
	if d := c.throttle.Admit(identity, class); !d.Allowed {
		return rejected(ReasonThrottled, route, class, d.RetryAfter)
	}
	return nil
}

// Sweep garbage-collects idle state in both layers.
func (c *Controller) Sweep() (throttled, windows int) {
	if c.throttle != nil {
		throttled = c.throttle.Sweep()
	}
	if c.limiter != nil {
		windows = c.limiter.Sweep()
	}
	return throttled, windows
}

func rejected(reason, route string, class Class, retryAfter time.Duration) error {
	secs := int(math.Ceil(retryAfter.Round(time.Millisecond).Seconds()))
	if secs < 1 {
		secs = 1
	}
	msg := "too many requests, please wait before retrying"
	if reason == ReasonRateLimited {
		msg = "rate limit exceeded for " + route
	}
	return apperr.New(apperr.CodeAdmissionRejected, msg).WithDetails(map[string]any{
		"reason":      reason,
		"route":       route,
		"class":       string(class),
		"retry_after": secs,
	})
}

// RetryAfter extracts the retry hint in seconds from an admission error.
func RetryAfter(err error) (int, bool) {
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeAdmissionRejected {
		return 0, false
	}
	secs, ok := ae.Details["retry_after"].(int)
	return secs, ok
}
