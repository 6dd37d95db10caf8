// Package resilience provides the exponential-backoff-with-jitter primitive
// shared by L5's reconnection policy and L6's per-stage retry policy (§4.5,
// §4.6), built on cenkalti/backoff/v5.
package resilience

import "time"

// Policy is a concrete backoff schedule. Both callers in this module build
// one from the constants named in the spec rather than tuning at runtime.
type Policy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
	Jitter          float64 // randomization factor, e.g. 0.2 for +/-20%
}

// ReconnectPolicy is L5's streaming-transport reconnection schedule (§4.5):
// initial 1000ms, multiplier 2, max 30000ms, max 5 attempts.
var ReconnectPolicy = Policy{
	InitialInterval: 1000 * time.Millisecond,
	Multiplier:      2,
	MaxInterval:     30_000 * time.Millisecond,
	MaxAttempts:     5,
}

// StageRetryPolicy is L6's per-stage REST retry schedule (§4.6): max 3
// retries (4 attempts in all), initial 1000ms, multiplier 2, max 10000ms,
// +/-20% jitter.
var StageRetryPolicy = Policy{
	InitialInterval: 1000 * time.Millisecond,
	Multiplier:      2,
	MaxInterval:     10_000 * time.Millisecond,
	MaxAttempts:     4,
	Jitter:          0.2,
}
