// Package clock is the monotonic time source used by timing-sensitive code.
//
// time.Time values returned by Now carry Go's monotonic reading, so
// subtracting two of them is immune to wall-clock steps.
package clock

import "time"

type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the real clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) Sleep(d time.Duration) { time.Sleep(d) }
