// client/chat/backoff_test.go

package chatclient

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffDelayCapsAndJitters(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Second
	capDelay := 10 * time.Second

	// After the fourth failure the uncapped delay would be 16s; the cap
	// brings it to 10s, jittered by ±25%.
	for i := 0; i < 100; i++ {
		d := backoffDelay(base, capDelay, 4, rng)
		if d < 7500*time.Millisecond || d > 12500*time.Millisecond {
			t.Fatalf("delay %v outside 10s ±25%%", d)
		}
	}
}

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Second
	capDelay := time.Hour

	bounds := []struct {
		retryCount int
		nominal    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}

	for _, b := range bounds {
		for i := 0; i < 50; i++ {
			d := backoffDelay(base, capDelay, b.retryCount, rng)
			lo := time.Duration(float64(b.nominal) * 0.75)
			hi := time.Duration(float64(b.nominal) * 1.25)
			if d < lo || d > hi {
				t.Fatalf("retry %d: delay %v outside %v ±25%%", b.retryCount, d, b.nominal)
			}
		}
	}
}

func TestBackoffDelayVaries(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	seen := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		seen[backoffDelay(time.Second, 10*time.Second, 2, rng)] = true
	}
	if len(seen) < 2 {
		t.Error("jitter produced identical delays across draws")
	}
}
