package api

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/djlord-it/easy-alarm/internal/domain"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkStruct runs the struct tags and flattens failures into one message.
func checkStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// buildAlarm validates req and returns the alarm it describes for owner.
func buildAlarm(req CreateAlarmRequest, ownerID string, now time.Time) (domain.Alarm, error) {
	if err := checkStruct(req); err != nil {
		return domain.Alarm{}, err
	}

	tod, err := domain.ParseTimeOfDay(req.TimeOfDay)
	if err != nil {
		return domain.Alarm{}, err
	}

	a := domain.Alarm{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     req.Title,
		Kind:      domain.Kind(req.Kind),
		TimeOfDay: tod,
		Repeats:   req.Repeats,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(req.Weekdays) > 0 {
		a.Weekdays = domain.NewWeekdaySet(req.Weekdays...)
	}
	if req.TargetDate != nil {
		d, err := domain.ParseDate(*req.TargetDate)
		if err != nil {
			return domain.Alarm{}, err
		}
		a.TargetDate = &d
	}
	if req.ReminderID != nil {
		id := uuid.MustParse(*req.ReminderID)
		a.ReminderID = &id
	}
	if req.ScheduleID != nil {
		id := uuid.MustParse(*req.ScheduleID)
		a.ScheduleID = &id
	}

	if err := a.Validate(); err != nil {
		return domain.Alarm{}, err
	}
	return a, nil
}

// applyUpdate merges req into a. timing reports whether any field that
// affects when the alarm fires changed.
func applyUpdate(a *domain.Alarm, req UpdateAlarmRequest, now time.Time) (timing bool, err error) {
	if err := checkStruct(req); err != nil {
		return false, err
	}

	if req.Title != nil {
		a.Title = *req.Title
	}
	if req.TimeOfDay != nil {
		tod, err := domain.ParseTimeOfDay(*req.TimeOfDay)
		if err != nil {
			return false, err
		}
		timing = timing || tod != a.TimeOfDay
		a.TimeOfDay = tod
	}
	if req.Repeats != nil {
		timing = timing || *req.Repeats != a.Repeats
		a.Repeats = *req.Repeats
	}
	if req.Weekdays != nil {
		var set domain.WeekdaySet
		if len(*req.Weekdays) > 0 {
			set = domain.NewWeekdaySet(*req.Weekdays...)
		}
		timing = timing || !sameWeekdays(set, a.Weekdays)
		a.Weekdays = set
	}
	if req.Active != nil {
		timing = timing || *req.Active != a.Active
		a.Active = *req.Active
	}
	if req.TargetDate != nil {
		d, err := domain.ParseDate(*req.TargetDate)
		if err != nil {
			return false, err
		}
		timing = timing || a.TargetDate == nil || *a.TargetDate != d
		a.TargetDate = &d
	}
	a.UpdatedAt = now

	if err := a.Validate(); err != nil {
		return false, err
	}
	return timing, nil
}

func sameWeekdays(a, b domain.WeekdaySet) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
