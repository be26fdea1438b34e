package variant

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-alarm/internal/domain"
	"github.com/djlord-it/easy-alarm/internal/occurrence"
)

// OneShot handles alarms attached to a single dated event. They never
// reschedule. An overdue one-shot fires as soon as it is picked up.
type OneShot struct {
	store Store
	loc   *time.Location
}

func NewOneShot(store Store, loc *time.Location) *OneShot {
	return &OneShot{store: store, loc: loc}
}

func (h *OneShot) Kind() domain.Kind { return domain.KindOneShot }

func (h *OneShot) CanTrigger(a *domain.Alarm) bool {
	return a.Active && a.TargetDate != nil
}

func (h *OneShot) ShouldReschedule(*domain.Alarm) bool { return false }

func (h *OneShot) NextTriggerTime(a *domain.Alarm, from time.Time) (time.Time, bool) {
	if a.TargetDate == nil {
		return time.Time{}, false
	}
	return occurrence.Event(a.TimeOfDay, a.TargetDate, from.In(h.loc)), true
}

func (h *OneShot) BuildPayload(a *domain.Alarm, firedAt time.Time) domain.NotificationPayload {
	p := domain.NotificationPayload{
		AlarmID: a.ID.String(),
		OwnerID: a.OwnerID,
		Title:   title(a, "Reminder"),
		Message: "Reminder at " + a.TimeOfDay.String(),
		FiredAt: formatFiredAt(firedAt),
		Kind:    domain.KindOneShot,
	}
	if a.Title != "" {
		p.Message = "Reminder: " + a.Title
	}
	if a.ReminderID != nil {
		p.ReminderID = a.ReminderID.String()
	}
	return p
}

func (h *OneShot) Retire(ctx context.Context, a *domain.Alarm, firedAt *time.Time) error {
	if err := h.store.RetireAlarm(ctx, a.ID, firedAt); err != nil {
		return errors.Wrapf(err, "retire one-shot alarm %s", a.ID)
	}
	return nil
}

// Advance is never reached for one-shots; it records the fire without
// keeping the alarm alive.
func (h *OneShot) Advance(ctx context.Context, a *domain.Alarm, firedAt, _ time.Time) error {
	return h.Retire(ctx, a, &firedAt)
}
