// client/chat/backoff.go

package chatclient

import (
	"math/rand"
	"time"
)

// backoffDelay computes the wait before the next attempt: exponential
// in the retry count, capped, with ±25% jitter so reconnecting clients
// do not stampede the server in lockstep.
func backoffDelay(base, capDelay time.Duration, retryCount int, rng *rand.Rand) time.Duration {
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= capDelay {
			d = capDelay
			break
		}
	}
	jitter := 0.75 + 0.5*rng.Float64()
	return time.Duration(float64(d) * jitter)
}
