package crawler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// ExponentialBackoff computes jittered retry delays from an attempt count.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter disables randomisation when false, which keeps tests deterministic.
	Jitter bool
}

// NewExponentialBackoff builds a jittered policy, falling back to 30s base and 15m cap.
func NewExponentialBackoff(base, maxDelay time.Duration) ExponentialBackoff {
	if base <= 0 {
		base = 30 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 15 * time.Minute
	}
	if maxDelay < base {
		maxDelay = base
	}
	return ExponentialBackoff{Base: base, Max: maxDelay, Jitter: true}
}

// Delay returns the wait before the job may run again after its attempts-th failure.
// The result lies in [d/2, d] with jitter or is exactly d without, where
// d = min(Base*2^(attempts-1), Max).
func (p ExponentialBackoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(p.Base) * math.Pow(2, float64(attempts-1))
	if delay > float64(p.Max) || math.IsInf(delay, 0) {
		delay = float64(p.Max)
	}
	if !p.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(time.Duration(delay)-half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
