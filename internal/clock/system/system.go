// Package system provides the wall-clock implementation of report.Clock.
package system

import "time"

// Precision matches Postgres timestamptz so values survive a store round trip.
const Precision = time.Microsecond

// Clock implements report.Clock using the wall clock in UTC.
type Clock struct {
	now func() time.Time
}

// New creates a new Clock.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current UTC time truncated to Precision.
func (c *Clock) Now() time.Time {
	return c.now().UTC().Truncate(Precision)
}
