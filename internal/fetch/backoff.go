package fetch

import (
	"math/rand"
	"sync"
	"time"
)

// defaultJitter spreads retries over [d, d*1.5].
const defaultJitter = 0.5

var (
	jitterRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	jitterMu   sync.Mutex
)

// withJitter returns d plus a random extra of up to jitterFactor*d.
func withJitter(d time.Duration, jitterFactor float64) time.Duration {
	jitterMu.Lock()
	j := jitterRand.Float64() * jitterFactor * float64(d)
	jitterMu.Unlock()
	return d + time.Duration(j)
}

// backoff returns the delay before retry number attempt (zero-based): base doubled per
// attempt, capped at max, with jitter.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	return withJitter(d, defaultJitter)
}
