package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Event is emitted on every retry attempt so the caller can surface
// `retry(stage, attempt, delay)` / `reconnecting(attempt, delay)` events
// (§4.5, §4.6) without resilience knowing about either backend's event bus.
type Event struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// NotifyFunc receives one Event per retry.
type NotifyFunc func(Event)

func (p Policy) backoffStrategy() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		RandomizationFactor: p.Jitter,
	}
}

// Do runs operation under policy, retrying while classify(err) is true,
// up to policy.MaxAttempts total attempts. notify (optional) fires before
// each retry's sleep with the failed attempt's number and the delay before
// the next one. A nil classify defaults to Classify.
func Do[T any](ctx context.Context, policy Policy, classify func(error) bool, notify NotifyFunc, operation func() (T, error)) (T, error) {
	if classify == nil {
		classify = Classify
	}

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		result, err := operation()
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxAttempts || !classify(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(policy.backoffStrategy()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, delay time.Duration) {
			notify(Event{Attempt: attempt, Delay: delay, Err: err})
		}))
	}
	return backoff.Retry(ctx, wrapped, opts...)
}

// ResilienceKit bundles a default classifier with the two named policies
// so backends don't each re-derive them.
type ResilienceKit struct {
	Reconnect  Policy
	StageRetry Policy
	Classify   func(error) bool
}

// Default returns a kit using the spec's §4.5/§4.6 policy constants.
func Default() ResilienceKit {
	return ResilienceKit{
		Reconnect:  ReconnectPolicy,
		StageRetry: StageRetryPolicy,
		Classify:   Classify,
	}
}

// WithRetry runs operation under the stage-retry policy.
func (k ResilienceKit) WithRetry(ctx context.Context, notify NotifyFunc, operation func() (any, error)) (any, error) {
	return Do(ctx, k.StageRetry, k.Classify, notify, operation)
}
