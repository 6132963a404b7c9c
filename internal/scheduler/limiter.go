package scheduler

import (
	"time"

	"golang.org/x/time/rate"
)

type triggerLimiter interface {
	Allow() bool
}

type limiterAdapter struct {
	limiter *rate.Limiter
}

// newTriggerLimiter allows burst early reloads and then one per interval.
// Editors tend to emit several file events per save.
func newTriggerLimiter(interval time.Duration, burst int) triggerLimiter {
	if interval <= 0 {
		interval = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterAdapter{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

func (l *limiterAdapter) Allow() bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}
