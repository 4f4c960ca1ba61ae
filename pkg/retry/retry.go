// Package retry holds the shared backoff policy used by the server-side
// upload queue's remote calls and by the device agent's upload HTTP calls.
// Each caller keeps its own attempt counter; the policy only decides
// retryability and delay.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Signal describes one failed attempt: a transport-level error (Err set,
// Status zero) or an HTTP response status.
type Signal struct {
	Status int
	Err    error
}

// Policy computes retryability and backoff delays.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Classify maps an operation error to a Signal. Optional; when nil,
	// every error is treated as a network error (retryable).
	Classify func(error) Signal
}

// retryableStatuses are the HTTP statuses worth retrying; everything else
// is a terminal failure.
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Default returns the policy shared across the upload pipeline:
// 3 retries (4 total attempts), 1s initial delay doubling up to 30s.
func Default() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 1000 * time.Millisecond,
		MaxDelay:     30000 * time.Millisecond,
		Multiplier:   2,
	}
}

// Retryable reports whether a failure signal is worth another attempt.
// Network errors (status 0 with an error) are retryable; HTTP statuses are
// retryable only when in the transient set.
func (p Policy) Retryable(sig Signal) bool {
	if sig.Status == 0 {
		return sig.Err != nil
	}
	return retryableStatuses[sig.Status]
}

// ShouldRetry combines the attempt budget with signal classification.
// attempt is zero-based: the initial try is attempt 0.
func (p Policy) ShouldRetry(attempt int, sig Signal) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	return p.Retryable(sig)
}

// Delay returns the backoff before retrying after the given zero-based
// attempt: min(MaxDelay, InitialDelay*Multiplier^attempt), jittered by a
// uniform factor in [0.75, 1.25] and floored to whole milliseconds.
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if capped := float64(p.MaxDelay); base > capped {
		base = capped
	}
	jittered := base * (0.75 + rand.Float64()*0.5)
	ms := int64(jittered) / int64(time.Millisecond)
	return time.Duration(ms) * time.Millisecond
}

// Do runs op, retrying per the policy. Errors are classified through
// p.Classify; a non-retryable error or an exhausted budget returns the last
// error. Context cancellation cuts the backoff wait short.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		sig := Signal{Err: lastErr}
		if p.Classify != nil {
			sig = p.Classify(lastErr)
		}
		if !p.ShouldRetry(attempt, sig) {
			return lastErr
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
