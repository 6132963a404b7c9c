package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiter guards the admin API. Forced reloads are limited again by the
// scheduler itself.
type rateLimiter interface {
	// Take consumes one token, or reports how long until one is available.
	Take() (bool, time.Duration)
}

type tokenBucket struct {
	limiter *rate.Limiter
}

func newTokenBucket(ratePerSecond float64, burst int) *tokenBucket {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (b *tokenBucket) Take() (bool, time.Duration) {
	if b == nil || b.limiter == nil {
		return true, 0
	}
	r := b.limiter.Reserve()
	if !r.OK() {
		return false, time.Second
	}
	wait := r.Delay()
	if wait == 0 {
		return true, 0
	}
	// Give the token back; a rejected request must not delay the next one.
	r.Cancel()
	return false, wait
}

// retryAfter rounds a wait up to whole seconds, at least one.
func retryAfter(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func rateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := limiter.Take()
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		annotate(r.Context(), zap.Bool("rate_limited", true), zap.Duration("retry_after", wait))
		w.Header().Set("Retry-After", retryAfter(wait))
		writeError(w, http.StatusTooManyRequests, "Too many requests", "admin rate limit exceeded, please retry shortly")
	})
}
