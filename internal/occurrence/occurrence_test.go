package occurrence

import (
	"testing"
	"time"

	"github.com/djlord-it/easy-alarm/internal/domain"
)

// June 2025: the 2nd is a Monday.
func at(day, hour, minute, sec int) time.Time {
	return time.Date(2025, time.June, day, hour, minute, sec, 0, time.UTC)
}

func TestNext_MonWedFri(t *testing.T) {
	tod := domain.TimeOfDay{Hour: 9, Minute: 0}
	days := domain.NewWeekdaySet(1, 3, 5)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"wednesday after firing", at(4, 9, 0, 1), at(6, 9, 0, 0)},
		{"friday after firing rolls to monday", at(6, 9, 0, 1), at(9, 9, 0, 0)},
		{"monday before time", at(2, 8, 0, 0), at(2, 9, 0, 0)},
		{"exact instant is not eligible", at(2, 9, 0, 0), at(4, 9, 0, 0)},
		{"sunday", at(1, 12, 0, 0), at(2, 9, 0, 0)},
		{"saturday", at(7, 23, 59, 59), at(9, 9, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Next(tod, days, tt.from)
			if !ok {
				t.Fatal("expected ok")
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestNext_SingleWeekdayOnSameDayAfterTime(t *testing.T) {
	// Monday only, evaluated Monday after the time: one full week out.
	got, ok := Next(domain.TimeOfDay{Hour: 7, Minute: 30}, domain.NewWeekdaySet(1), at(2, 8, 0, 0))
	if !ok {
		t.Fatal("expected ok")
	}
	if want := at(9, 7, 30, 0); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestNext_EmptySet(t *testing.T) {
	if _, ok := Next(domain.TimeOfDay{Hour: 9}, nil, at(2, 8, 0, 0)); ok {
		t.Error("expected !ok for empty weekday set")
	}
}

func TestNext_Properties(t *testing.T) {
	tod := domain.TimeOfDay{Hour: 6, Minute: 45}
	sets := []domain.WeekdaySet{
		domain.NewWeekdaySet(0),
		domain.NewWeekdaySet(6),
		domain.NewWeekdaySet(1, 2, 3, 4, 5),
		domain.NewWeekdaySet(0, 1, 2, 3, 4, 5, 6),
	}

	for _, set := range sets {
		// Quarter-hour steps land exactly on the time of day as well as
		// either side of it.
		for m := 0; m < 14*24*60; m += 15 {
			from := at(1, 0, 0, 0).Add(time.Duration(m) * time.Minute)

			got, ok := Next(tod, set, from)
			if !ok {
				t.Fatalf("Next(%v, %v) not ok", set, from)
			}
			again, _ := Next(tod, set, from)
			if !got.Equal(again) {
				t.Fatalf("Next not deterministic: %v vs %v", got, again)
			}
			if !got.After(from) {
				t.Errorf("Next(%v, %v) = %v, not after from", set, from, got)
			}
			if got.Sub(from) > 7*24*time.Hour {
				t.Errorf("Next(%v, %v) = %v, more than a week out", set, from, got)
			}
			if !set.Contains(got.Weekday()) {
				t.Errorf("Next(%v, %v) = %v, weekday %v not in set", set, from, got, got.Weekday())
			}
			if got.Hour() != 6 || got.Minute() != 45 || got.Second() != 0 {
				t.Errorf("Next(%v, %v) = %v, wrong time of day", set, from, got)
			}

			// No earlier day at tod qualifies.
			day := time.Date(from.Year(), from.Month(), from.Day(), tod.Hour, tod.Minute, 0, 0, from.Location())
			for ; day.Before(got); day = day.AddDate(0, 0, 1) {
				if day.After(from) && set.Contains(day.Weekday()) {
					t.Errorf("Next(%v, %v) = %v, but %v qualifies earlier", set, from, got, day)
				}
			}
		}
	}
}

func TestNext_UsesLocationOfFrom(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2025-06-02 02:00 in UTC+9 is still Sunday in UTC.
	from := time.Date(2025, time.June, 2, 2, 0, 0, 0, loc)

	got, ok := Next(domain.TimeOfDay{Hour: 9}, domain.NewWeekdaySet(1), from)
	if !ok {
		t.Fatal("expected ok")
	}
	want := time.Date(2025, time.June, 2, 9, 0, 0, 0, loc)
	if !got.Equal(want) || got.Location() != loc {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestEvent(t *testing.T) {
	tod := domain.TimeOfDay{Hour: 14, Minute: 0}
	date := domain.Date{Year: 2025, Month: time.June, Day: 10}

	tests := []struct {
		name string
		date *domain.Date
		now  time.Time
		want time.Time
	}{
		{"dated future", &date, at(2, 8, 0, 0), at(10, 14, 0, 0)},
		{"dated past stays put", &date, at(20, 8, 0, 0), at(10, 14, 0, 0)},
		{"undated later today", nil, at(2, 8, 0, 0), at(2, 14, 0, 0)},
		{"undated exact instant rolls over", nil, at(2, 14, 0, 0), at(3, 14, 0, 0)},
		{"undated passed rolls over", nil, at(2, 15, 0, 0), at(3, 14, 0, 0)},
		{"undated month end", nil, at(30, 15, 0, 0), time.Date(2025, time.July, 1, 14, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Event(tod, tt.date, tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("Event = %v, want %v", got, tt.want)
			}
		})
	}
}
