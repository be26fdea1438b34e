// Package occurrence computes alarm trigger instants. Everything here is pure:
// results depend only on the arguments, and all computation happens in the
// location of the reference instant.
package occurrence

import (
	"time"

	"github.com/djlord-it/easy-alarm/internal/domain"
)

const daysPerWeek = 7

// Next returns the first instant strictly after from that falls on one of
// weekdays at tod. It scans the seven days starting at from's date. ok is
// false only for an empty weekday set.
//
// The fallback below the scan is only reachable when the set holds no valid
// weekday; it targets the smallest weekday in the set, a full week out when
// that lands on today.
func Next(tod domain.TimeOfDay, weekdays domain.WeekdaySet, from time.Time) (time.Time, bool) {
	lowest, ok := weekdays.Min()
	if !ok {
		return time.Time{}, false
	}

	loc := from.Location()
	today := domain.DateOf(from)

	for i := 0; i < daysPerWeek; i++ {
		day := today.AddDays(i)
		candidate := tod.On(day, loc)
		if !weekdays.Contains(candidate.Weekday()) {
			continue
		}
		if candidate.After(from) {
			return candidate, true
		}
	}

	days := (int(lowest) - int(from.Weekday()) + daysPerWeek) % daysPerWeek
	if days == 0 {
		days = daysPerWeek
	}
	return tod.On(today.AddDays(days), loc), true
}

// Event returns the trigger instant of a one-shot alarm: date at tod. Without
// a date it is today at tod, rolled to tomorrow when that is not strictly
// after now. A dated event in the past is returned as-is.
func Event(tod domain.TimeOfDay, date *domain.Date, now time.Time) time.Time {
	loc := now.Location()
	if date != nil {
		return tod.On(*date, loc)
	}

	today := domain.DateOf(now)
	candidate := tod.On(today, loc)
	if !candidate.After(now) {
		candidate = tod.On(today.AddDays(1), loc)
	}
	return candidate
}
