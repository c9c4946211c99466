package realtime

import (
	"math"
	"time"
)

// Backoff returns the delay before reconnection attempt number attempt
// (zero based): base * factor^attempt, capped at max.
// A factor below 1 is treated as 1 so delays never shrink.
func Backoff(attempt int, base, max time.Duration, factor float64) time.Duration {
	if factor < 1 {
		factor = 1
	}
	if attempt < 0 {
		attempt = 0
	}

	d := float64(base) * math.Pow(factor, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(max) {
		return max
	}
	return time.Duration(d)
}
