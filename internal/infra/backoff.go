package infra

import "time"

const (
	// BackoffBaseDelay is the delay unit between reconnect attempts.
	BackoffBaseDelay = 1 * time.Second

	// BackoffMaxDelay caps the reconnect delay regardless of attempt count.
	BackoffMaxDelay = 30 * time.Second
)

// CalculateBackoff returns the delay before the given retry attempt.
// The schedule is linear (base * attempt number), capped at BackoffMaxDelay.
// Attempt numbering starts at 0 for the first retry.
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := BackoffBaseDelay * time.Duration(attempt+1)
	if delay > BackoffMaxDelay {
		return BackoffMaxDelay
	}
	return delay
}
