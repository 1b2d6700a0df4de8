package engine

import "time"

// RetryConfig bounds the pending/transient retry loop for one step kind.
// The delay slides between min and max as attempts accumulate; exhausting
// MaxRetryCount converts the outcome into a failed transition.
type RetryConfig struct {
	MaxRetryCount    int
	RetryIntervalMin time.Duration
	RetryIntervalMax time.Duration
}

// SlidingInterval returns a retry interval between min and max based on the current retry attempt.
func (rc *RetryConfig) SlidingInterval(retryNum int) time.Duration {
	if retryNum <= 0 {
		return rc.RetryIntervalMin
	}
	if retryNum >= rc.MaxRetryCount {
		return rc.RetryIntervalMax
	}
	scale := float64(retryNum) / float64(rc.MaxRetryCount)
	return rc.RetryIntervalMin + time.Duration(scale*float64(rc.RetryIntervalMax-rc.RetryIntervalMin))
}

// DefaultRetry applies to steps whose config does not override it.
var DefaultRetry = RetryConfig{
	MaxRetryCount:    10,
	RetryIntervalMin: 5 * time.Second,
	RetryIntervalMax: 2 * time.Minute,
}
