// Package system provides a real clock implementation.
package system

import "time"

// Clock stamps discovery runs with the current UTC time at whole-second
// precision, which keeps stored timestamps short and stable.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time truncated to the second.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
