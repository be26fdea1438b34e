package variant

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-alarm/internal/domain"
	"github.com/djlord-it/easy-alarm/internal/occurrence"
)

// Recurring handles weekday-pattern alarms. A recurring alarm without repeats
// fires once at its next time of day and is then retired.
type Recurring struct {
	store Store
	loc   *time.Location
}

func NewRecurring(store Store, loc *time.Location) *Recurring {
	return &Recurring{store: store, loc: loc}
}

func (h *Recurring) Kind() domain.Kind { return domain.KindRecurring }

func (h *Recurring) CanTrigger(a *domain.Alarm) bool {
	if !a.Active {
		return false
	}
	return !a.Repeats || len(a.Weekdays) > 0
}

func (h *Recurring) ShouldReschedule(a *domain.Alarm) bool {
	return a.Active && a.Repeats && len(a.Weekdays) > 0
}

func (h *Recurring) NextTriggerTime(a *domain.Alarm, from time.Time) (time.Time, bool) {
	from = from.In(h.loc)
	if !a.Repeats {
		return occurrence.Event(a.TimeOfDay, nil, from), true
	}
	return occurrence.Next(a.TimeOfDay, a.Weekdays, from)
}

func (h *Recurring) BuildPayload(a *domain.Alarm, firedAt time.Time) domain.NotificationPayload {
	p := domain.NotificationPayload{
		AlarmID: a.ID.String(),
		OwnerID: a.OwnerID,
		Title:   title(a, "Alarm"),
		Message: "It's " + a.TimeOfDay.String(),
		FiredAt: formatFiredAt(firedAt),
		Kind:    domain.KindRecurring,
	}
	if a.Title != "" {
		p.Message = a.Title + " at " + a.TimeOfDay.String()
	}
	if a.ScheduleID != nil {
		p.ScheduleID = a.ScheduleID.String()
	}
	return p
}

func (h *Recurring) Retire(ctx context.Context, a *domain.Alarm, firedAt *time.Time) error {
	if err := h.store.RetireAlarm(ctx, a.ID, firedAt); err != nil {
		return errors.Wrapf(err, "retire recurring alarm %s", a.ID)
	}
	return nil
}

func (h *Recurring) Advance(ctx context.Context, a *domain.Alarm, firedAt, next time.Time) error {
	if err := h.store.AdvanceAlarm(ctx, a.ID, firedAt, next); err != nil {
		return errors.Wrapf(err, "advance recurring alarm %s", a.ID)
	}
	return nil
}
