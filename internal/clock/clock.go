// Package clock lets time-dependent code take the current time as a
// dependency so week boundaries and the fulfillment window can be tested.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Func adapts a function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

type system struct{ loc *time.Location }

// System returns the wall clock in loc.  A nil loc means time.Local.
func System(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return system{loc: loc}
}

func (s system) Now() time.Time { return time.Now().In(s.loc) }
