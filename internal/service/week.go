package service

import "time"

// WeekBounds returns the start (Sunday 00:00 in loc) of the week containing
// t and the start of the following week.
func WeekBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d-int(local.Weekday()), 0, 0, 0, 0, loc)
	return start, time.Date(y, m, d-int(local.Weekday())+7, 0, 0, 0, 0, loc)
}
