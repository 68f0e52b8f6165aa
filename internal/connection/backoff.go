package connection

import (
	"math/rand/v2"
	"time"
)

// Backoff computes capped exponential reconnect delays.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay, 0..1
}

// Delay returns the wait before the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 && d > 0 {
		spread := float64(d) * b.Jitter
		d = time.Duration(float64(d) - spread + 2*spread*rand.Float64())
	}
	if d < 0 {
		d = 0
	}
	return d
}
