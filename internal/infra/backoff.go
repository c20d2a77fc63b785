package infra

import (
	"math"
	"math/rand"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns the delay before reconnect attempt n (0-based):
// exponential from 1s, capped at 60s, with up to 20% jitter.
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(backoffBase) * math.Pow(2, float64(attempt))
	if delay > float64(backoffMax) {
		delay = float64(backoffMax)
	}
	jitter := delay * 0.2 * rand.Float64()
	return time.Duration(delay + jitter)
}
