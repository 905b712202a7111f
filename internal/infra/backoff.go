package infra

import (
	"math"
	"time"
)

// CalculateBackoff returns the exponential delay for a retry attempt, capped at maxDelay.
func CalculateBackoff(retryCount int, base, maxDelay time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		return maxDelay
	}
	delay := base * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}
