// Package operationengine is the heart of the REST client runtime: a
// cancellable, retrying request executor that composes pluggable request
// builders, authorization providers and response handlers, and that
// consults the address cache on transport failure.
package operationengine

import "time"

// Delay is the inter-attempt pause of a RetryStrategy: either "never"
// (immediate retry, no sleep) or a fixed duration.
type Delay struct {
	never bool
	d     time.Duration
}

// NeverDelay retries immediately with no sleep between attempts.
func NeverDelay() Delay { return Delay{never: true} }

// AfterDelay retries after d has elapsed.
func AfterDelay(d time.Duration) Delay { return Delay{d: d} }

func (d Delay) IsNever() bool        { return d.never }
func (d Delay) Duration() time.Duration { return d.d }

// RetryStrategy bounds attempts and inter-attempt delay for one operation.
// MaxAttempts = 0 disables retrying: exactly one transport attempt is made.
type RetryStrategy struct {
	MaxAttempts int
	Delay       Delay
}
