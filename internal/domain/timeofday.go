package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" (seconds are discarded,
// Postgres TIME columns render with seconds).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	var sec int
	n, _ := fmt.Sscanf(s, "%d:%d:%d", &t.Hour, &t.Minute, &sec)
	if n < 2 {
		return TimeOfDay{}, errors.Newf("invalid time of day %q, expected HH:MM", s)
	}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return errors.Newf("time of day %02d:%02d out of range", t.Hour, t.Minute)
	}
	return nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant at this time of day on the given date in loc.
func (t TimeOfDay) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, 0, 0, loc)
}

// Date is a civil calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, errors.Wrapf(err, "invalid date %q", s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// AddDays normalizes across month and year boundaries.
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// WeekdaySet is a sorted, de-duplicated set of weekdays (Sunday = 0).
type WeekdaySet []time.Weekday

// NewWeekdaySet builds a normalized set from raw day numbers.
func NewWeekdaySet(days ...int) WeekdaySet {
	seen := make(map[int]bool, len(days))
	set := make(WeekdaySet, 0, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		set = append(set, time.Weekday(d))
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

func (s WeekdaySet) Contains(d time.Weekday) bool {
	for _, w := range s {
		if w == d {
			return true
		}
	}
	return false
}

// Min returns the smallest weekday; ok is false for an empty set.
func (s WeekdaySet) Min() (time.Weekday, bool) {
	if len(s) == 0 {
		return 0, false
	}
	lowest := s[0]
	for _, w := range s[1:] {
		if w < lowest {
			lowest = w
		}
	}
	return lowest, true
}

func (s WeekdaySet) Validate() error {
	for _, w := range s {
		if w < time.Sunday || w > time.Saturday {
			return errors.Newf("weekday %d out of range 0-6", int(w))
		}
	}
	return nil
}

// Ints returns the set as plain integers for storage and JSON.
func (s WeekdaySet) Ints() []int {
	out := make([]int, len(s))
	for i, w := range s {
		out[i] = int(w)
	}
	return out
}
