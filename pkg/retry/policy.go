// Package retry runs units of work with per-attempt timeouts and
// exponential backoff, retrying only failures the policy allows.
package retry

import (
	"errors"
	"math"
	"time"

	"github.com/leapstack-labs/leapviz/pkg/apierr"
)

// Default policy values.
const (
	DefaultMaxAttempts       = 3
	DefaultUploadMaxAttempts = 2
	DefaultBaseDelay         = time.Second
	DefaultMultiplier        = 2.0

	// JitterFraction bounds jitter to ±20% of the computed delay.
	JitterFraction = 0.2
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy configures how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first. Must be >= 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Multiplier scales the delay for each further attempt.
	Multiplier float64

	// Jitter randomizes each delay within ±JitterFraction.
	Jitter bool

	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration

	// Retryable decides whether a failure kind may be retried.
	// Nil uses the kind's classified retryability.
	Retryable func(apierr.Kind) bool
}

// DefaultPolicy returns the standard policy: 3 attempts, 1s base delay,
// doubling, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      true,
	}
}

// UploadPolicy returns the policy for large-payload operations, where
// repeating the request is expensive.
func UploadPolicy() Policy {
	p := DefaultPolicy()
	p.MaxAttempts = DefaultUploadMaxAttempts
	return p
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidPolicy
	}
	if p.BaseDelay < 0 || p.Timeout < 0 {
		return ErrInvalidPolicy
	}
	if p.Multiplier < 1.0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Delay returns the un-jittered wait after attempt n (0-indexed):
// BaseDelay * Multiplier^n.
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	return clampDuration(d)
}

// clampDuration converts d to a Duration, saturating at the largest one.
// float64(math.MaxInt64) rounds up to 2^63, so the bound is inclusive.
func clampDuration(d float64) time.Duration {
	if d >= math.MaxInt64 || math.IsNaN(d) {
		return time.Duration(math.MaxInt64)
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a failure may be retried under this policy.
func (p Policy) ShouldRetry(e *apierr.Error) bool {
	if e == nil {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(e.Kind)
	}
	return e.Retryable
}

// WithTimeout returns a copy of the policy with a per-attempt timeout.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.Timeout = d
	return p
}

// WithMaxAttempts returns a copy of the policy with a different attempt count.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}
