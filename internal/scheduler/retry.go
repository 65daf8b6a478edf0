package scheduler

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

// RetryPolicy computes the delay before the next attempt of a failed task.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration

	// jitter returns a value in [0, n). Nil uses math/rand.
	jitter func(n int64) int64
}

func NewRetryPolicy(base, maxDelay time.Duration) RetryPolicy {
	return RetryPolicy{Base: base, Max: maxDelay}
}

// Delay is the wait after the retries-th consecutive failure (0 based).
// Exponential delays carry +/-25% jitter; every result is capped at Max.
func (p RetryPolicy) Delay(backoff domain.Backoff, retries int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	limit := p.Max
	if limit <= 0 {
		limit = time.Hour
	}

	var delay time.Duration
	switch backoff {
	case domain.BackoffExponential:
		f := float64(base) * math.Pow(2, float64(retries))
		if f > float64(limit) {
			f = float64(limit)
		}
		delay = time.Duration(f)
		if spread := int64(delay / 2); spread > 0 {
			delay += time.Duration(p.rand(spread)) - delay/4
		}
	case domain.BackoffLinear:
		delay = base * time.Duration(retries+1)
	default:
		delay = base
	}
	return min(delay, limit)
}

func (p RetryPolicy) rand(n int64) int64 {
	if p.jitter != nil {
		return p.jitter(n)
	}
	return rand.Int64N(n)
}
