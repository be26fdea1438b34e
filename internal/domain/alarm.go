package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ErrAlarmNotFound is returned by stores when no alarm row matches.
var ErrAlarmNotFound = errors.New("alarm not found")

type Kind string

const (
	KindRecurring Kind = "recurring"
	KindOneShot   Kind = "one_shot"
)

// Kinds lists every alarm variant. Handler registries are checked against it.
var Kinds = []Kind{KindRecurring, KindOneShot}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Alarm is the persisted alarm row. Recurring alarms follow a weekday
// pattern; one-shot alarms carry a single target date and are retired after
// they fire.
type Alarm struct {
	ID      uuid.UUID
	OwnerID string
	Title   string
	Kind    Kind

	TimeOfDay TimeOfDay
	Repeats   bool
	Weekdays  WeekdaySet
	Active    bool

	// One-shot linkage. ScheduleID links a recurring alarm to its source schedule.
	ReminderID *uuid.UUID
	ScheduleID *uuid.UUID
	TargetDate *Date

	NextTriggerAt   *time.Time
	LastTriggeredAt *time.Time
	TriggerCount    int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the structural invariants of an alarm row.
func (a Alarm) Validate() error {
	if a.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if !a.Kind.Valid() {
		return errors.Newf("unknown alarm kind %q", a.Kind)
	}
	if err := a.TimeOfDay.Validate(); err != nil {
		return err
	}
	if a.TriggerCount < 0 {
		return errors.New("trigger count must not be negative")
	}

	switch a.Kind {
	case KindRecurring:
		if a.Repeats && len(a.Weekdays) == 0 {
			return errors.New("repeating alarm requires at least one weekday")
		}
		if !a.Repeats && len(a.Weekdays) > 0 {
			return errors.New("weekdays are only allowed on repeating alarms")
		}
		if err := a.Weekdays.Validate(); err != nil {
			return err
		}
	case KindOneShot:
		if a.Repeats {
			return errors.New("one-shot alarm cannot repeat")
		}
		if len(a.Weekdays) > 0 {
			return errors.New("one-shot alarm cannot have weekdays")
		}
		if a.TargetDate == nil {
			return errors.New("one-shot alarm requires a target date")
		}
	}
	return nil
}
