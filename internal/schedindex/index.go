// Package schedindex holds the time-ordered index of upcoming alarm fires.
//
// The index is derived state: it can be dropped and rebuilt from the alarm
// table at any time. Each alarm has at most one entry; upserting an alarm
// replaces its previous trigger instant.
package schedindex

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/djlord-it/easy-alarm/internal/domain"
)

// ErrNotFound is returned by Get when the alarm has no entry.
var ErrNotFound = errors.New("schedule index entry not found")

// Snapshot is the alarm metadata stored next to an entry for diagnostics.
// The trigger pipeline never trusts it; it always reloads the alarm row.
type Snapshot struct {
	OwnerID   string      `json:"owner_id"`
	Title     string      `json:"title"`
	Kind      domain.Kind `json:"kind"`
	TimeOfDay string      `json:"time_of_day"`
	Weekdays  []int       `json:"weekdays,omitempty"`
	Active    bool        `json:"active"`
}

type Entry struct {
	AlarmID   uuid.UUID `json:"alarm_id"`
	TriggerAt time.Time `json:"trigger_at"`
	Snapshot  Snapshot  `json:"snapshot"`
}

// EntryFor builds the index entry of an alarm due at triggerAt.
func EntryFor(a *domain.Alarm, triggerAt time.Time) Entry {
	return Entry{
		AlarmID:   a.ID,
		TriggerAt: triggerAt,
		Snapshot: Snapshot{
			OwnerID:   a.OwnerID,
			Title:     a.Title,
			Kind:      a.Kind,
			TimeOfDay: a.TimeOfDay.String(),
			Weekdays:  a.Weekdays.Ints(),
			Active:    a.Active,
		},
	}
}

// score is the sort key: unix milliseconds of the trigger instant.
func score(t time.Time) int64 {
	return t.UnixMilli()
}
