package engine

import "time"

// Clock abstracts time.Now() so a pipeline run can be pinned to an as-of time.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current local time.
func (RealClock) Now() time.Time {
	return time.Now()
}
