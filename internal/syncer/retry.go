package syncer

import (
	"math/rand"
	"time"
)

// RetryConfig configures how failed pushes are retried.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per mutation
	// (including the first). A mutation that has failed MaxAttempts times
	// is stuck: it stays in the queue as FAILED and is surfaced in status
	// output, never silently dropped.
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	// Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	// Default: 5m
	MaxBackoff time.Duration

	// BackoffMultiplier is multiplied into the backoff after each retry.
	// Default: 2.0
	BackoffMultiplier float64

	// Jitter adds randomness to backoff to prevent synchronized retries
	// across devices. Value between 0 and 1, where 0.1 means ±10%.
	// Default: 0.1
	Jitter float64
}

// DefaultRetryConfig returns a retry configuration with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0.1
	}
	return c
}

// backoffFor returns the delay before the next attempt, given how many
// attempts have already failed.
func (c RetryConfig) backoffFor(failedAttempts int) time.Duration {
	backoff := c.InitialBackoff
	for i := 1; i < failedAttempts; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff >= c.MaxBackoff {
			backoff = c.MaxBackoff
			break
		}
	}
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return c.addJitter(backoff)
}

func (c RetryConfig) addJitter(d time.Duration) time.Duration {
	if c.Jitter == 0 {
		return d
	}
	delta := float64(d) * c.Jitter
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}
