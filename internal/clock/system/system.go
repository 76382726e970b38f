// Package system provides the wall clock used to stamp catalog updates.
package system

import "time"

// Clock implements catalog.Clock. Times are UTC and truncated to whole seconds, the finest
// precision every catalog backend and the mirror snapshot agree on.
type Clock struct {
	now func() time.Time
}

// New creates a Clock reading time.Now.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return c.now().UTC().Truncate(time.Second)
}
