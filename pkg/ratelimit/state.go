// Package ratelimit bounds the load placed on a remote feature service.
// It combines a token bucket (requests per second) with a cap on the
// number of requests in flight at the same time.
package ratelimit

import (
	"time"
)

// Defaults applied when a Config field is left at zero.
const (
	// DefaultRequestsPerSecond is the sustained request rate.
	DefaultRequestsPerSecond = 10.0

	// DefaultBurst is the token bucket size.
	DefaultBurst = 5

	// DefaultMaxInFlight matches the strictly sequential reference behavior.
	DefaultMaxInFlight = 1

	// SlowAcquireThreshold marks an acquire as slow for logging purposes.
	SlowAcquireThreshold = 2 * time.Second
)

// State is a point-in-time snapshot of the limiter.
type State struct {
	// InFlight is the number of requests currently holding a slot.
	InFlight int64 `json:"in_flight"`

	// MaxInFlight is the configured slot count.
	MaxInFlight int64 `json:"max_in_flight"`

	// RequestsPerSecond is the configured token bucket rate.
	RequestsPerSecond float64 `json:"requests_per_second"`

	// Acquired is the total number of slots handed out since creation.
	Acquired int64 `json:"acquired"`
}

// Saturated returns true if every in-flight slot is taken.
func (s State) Saturated() bool {
	return s.InFlight >= s.MaxInFlight
}

// Available returns the number of free slots, never negative.
func (s State) Available() int64 {
	free := s.MaxInFlight - s.InFlight
	if free < 0 {
		return 0
	}
	return free
}
