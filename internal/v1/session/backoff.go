package session

import "time"

// Backoff is the automatic reconnect policy: retry immediately, then wait one Step
// per previous attempt, never more than Max. It never gives up.
type Backoff struct {
	Step time.Duration
	Max  time.Duration
}

// NewBackoff returns the default policy capped at max.
func NewBackoff(max time.Duration) Backoff {
	return Backoff{Step: time.Second, Max: max}
}

// Delay returns the wait before reconnect attempt n (zero-based).
func (b Backoff) Delay(n int) time.Duration {
	if n <= 0 || b.Step <= 0 {
		return 0
	}
	if b.Max > 0 && n >= int(b.Max/b.Step) {
		return b.Max
	}
	return time.Duration(n) * b.Step
}

// NextRetryDelay implements transport.RetryPolicy.
func (b Backoff) NextRetryDelay(attempt int) (time.Duration, bool) {
	return b.Delay(attempt), true
}
