package coordinator

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DownstreamPolicy selects how tasks downstream of a terminally failed
// dependency settle. The choice is explicit configuration, never a silent
// default inferred at runtime.
type DownstreamPolicy string

const (
	// PolicySkip marks dependents of a failed task as skipped. The workflow
	// still fails, but unaffected branches keep running.
	PolicySkip DownstreamPolicy = "skip"
	// PolicyFail propagates the failure: dependents are marked failed.
	PolicyFail DownstreamPolicy = "fail"
)

// Valid returns true if the policy is a known value.
func (p DownstreamPolicy) Valid() bool {
	return p == PolicySkip || p == PolicyFail
}

// BackoffConfig configures the exponential backoff applied between retry
// attempts of a transiently failed task.
type BackoffConfig struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the delay between retries.
	MaxInterval time.Duration
	// Multiplier is the growth factor between successive delays.
	Multiplier float64
	// RandomizationFactor is the jitter applied to each delay.
	RandomizationFactor float64
}

// DefaultBackoffConfig returns the default retry backoff settings.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// newBackoff builds a per-task backoff policy from the config.
// MaxElapsedTime is unbounded: the retry budget is the task's MaxRetries.
func (c BackoffConfig) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	bo.MaxInterval = c.MaxInterval
	bo.Multiplier = c.Multiplier
	bo.RandomizationFactor = c.RandomizationFactor
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
