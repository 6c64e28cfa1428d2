// Package retry holds the policy consulted by the activity dispatcher when an
// activity attempt fails: retry with backoff, or give up and surface the
// failure to the orchestration as a catchable error.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/corvid-labs/durable/internal/orcherrors"
)

type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Policy is recorded with every scheduled activity, so a retry decision made
// after a crash uses the same configuration as before it.
type Policy struct {
	// MaxAttempts is the total number of tries for one logical step, including
	// the first. Values below 1 are treated as 1.
	MaxAttempts int `json:"max_attempts,omitempty"`

	Backoff Backoff `json:"backoff,omitempty"`

	// NonRetryable lists error type names that are never retried, in addition
	// to errors explicitly marked permanent.
	NonRetryable []string `json:"non_retryable,omitempty"`
}

type Backoff struct {
	Kind BackoffKind `json:"kind,omitempty"`

	// Base is the delay before the first retry.
	Base time.Duration `json:"base,omitempty"`

	// Cap bounds an individual retry delay for exponential backoff.
	Cap time.Duration `json:"cap,omitempty"`
}

var DefaultPolicy = Policy{
	MaxAttempts: 3,
	Backoff: Backoff{
		Kind: BackoffExponential,
		Base: time.Second,
		Cap:  time.Minute,
	},
}

// None disables retries, the first failure is surfaced immediately.
var None = Policy{MaxAttempts: 1}

// NewBackOff returns the backoff sequence for this policy. The sequence is
// consumed once per retry; it never stops on its own, MaxAttempts bounds it.
func (p Policy) NewBackOff() backoff.BackOff {
	switch p.Backoff.Kind {
	case BackoffExponential:
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = p.Backoff.Base
		bo.MaxInterval = p.Backoff.Cap
		bo.MaxElapsedTime = 0
		bo.Reset()
		return bo

	default:
		return backoff.NewConstantBackOff(p.Backoff.Base)
	}
}

// Retryable reports whether a failed attempt with the given error may be tried
// again under this policy. The attempt count starts at 1.
func (p Policy) Retryable(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}

	if !orcherrors.CanRetry(err) {
		return false
	}

	if e, ok := err.(*orcherrors.Error); ok {
		for _, kind := range p.NonRetryable {
			if e.Type == kind {
				return false
			}
		}
	}

	return true
}
