package variant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-alarm/internal/domain"
)

type retireCall struct {
	ID      uuid.UUID
	FiredAt *time.Time
}

type advanceCall struct {
	ID            uuid.UUID
	FiredAt, Next time.Time
}

type mockStore struct {
	mu       sync.Mutex
	retired  []retireCall
	advanced []advanceCall
	err      error
}

func (s *mockStore) AdvanceAlarm(_ context.Context, id uuid.UUID, firedAt, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.advanced = append(s.advanced, advanceCall{id, firedAt, next})
	return nil
}

func (s *mockStore) RetireAlarm(_ context.Context, id uuid.UUID, firedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.retired = append(s.retired, retireCall{id, firedAt})
	return nil
}

// June 2025: the 2nd is a Monday.
var monday = time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC)

func recurringAlarm() *domain.Alarm {
	return &domain.Alarm{
		ID:        uuid.New(),
		OwnerID:   "u1",
		Title:     "Gym",
		Kind:      domain.KindRecurring,
		TimeOfDay: domain.TimeOfDay{Hour: 9, Minute: 0},
		Repeats:   true,
		Weekdays:  domain.NewWeekdaySet(1, 3, 5),
		Active:    true,
	}
}

func oneShotAlarm() *domain.Alarm {
	date := domain.Date{Year: 2025, Month: time.June, Day: 10}
	rid := uuid.New()
	return &domain.Alarm{
		ID:         uuid.New(),
		OwnerID:    "u2",
		Title:      "Dentist",
		Kind:       domain.KindOneShot,
		TimeOfDay:  domain.TimeOfDay{Hour: 14, Minute: 0},
		Active:     true,
		ReminderID: &rid,
		TargetDate: &date,
	}
}

func TestRegistry_CoversEveryKind(t *testing.T) {
	r := Default(&mockStore{}, time.UTC)
	for _, k := range domain.Kinds {
		h, err := r.For(k)
		if err != nil {
			t.Fatalf("For(%q): %v", k, err)
		}
		if h.Kind() != k {
			t.Errorf("For(%q).Kind() = %q", k, h.Kind())
		}
	}

	if _, err := r.For("weekly"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("For(weekly) = %v, want ErrUnknownKind", err)
	}
}

func TestNewRegistry_RejectsIncompleteOrDuplicate(t *testing.T) {
	store := &mockStore{}
	if _, err := NewRegistry(NewRecurring(store, time.UTC)); err == nil {
		t.Error("expected error for missing one_shot handler")
	}
	if _, err := NewRegistry(NewRecurring(store, time.UTC), NewRecurring(store, time.UTC), NewOneShot(store, time.UTC)); err == nil {
		t.Error("expected error for duplicate handler")
	}
}

func TestRecurring_Eligibility(t *testing.T) {
	h := NewRecurring(&mockStore{}, time.UTC)

	tests := []struct {
		name       string
		mutate     func(a *domain.Alarm)
		canTrigger bool
		reschedule bool
	}{
		{"active repeating", func(*domain.Alarm) {}, true, true},
		{"inactive", func(a *domain.Alarm) { a.Active = false }, false, false},
		{"repeating without weekdays", func(a *domain.Alarm) { a.Weekdays = nil }, false, false},
		{"non-repeating", func(a *domain.Alarm) { a.Repeats = false; a.Weekdays = nil }, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := recurringAlarm()
			tt.mutate(a)
			if got := h.CanTrigger(a); got != tt.canTrigger {
				t.Errorf("CanTrigger = %v, want %v", got, tt.canTrigger)
			}
			if got := h.ShouldReschedule(a); got != tt.reschedule {
				t.Errorf("ShouldReschedule = %v, want %v", got, tt.reschedule)
			}
		})
	}
}

func TestRecurring_NextTriggerTime(t *testing.T) {
	h := NewRecurring(&mockStore{}, time.UTC)
	a := recurringAlarm()

	got, ok := h.NextTriggerTime(a, monday)
	if !ok || !got.Equal(time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("NextTriggerTime = %v, %v", got, ok)
	}

	a.Repeats, a.Weekdays = false, nil
	got, ok = h.NextTriggerTime(a, monday.Add(2*time.Hour))
	if !ok || !got.Equal(time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("non-repeating NextTriggerTime = %v, %v; want tomorrow 09:00", got, ok)
	}
}

func TestRecurring_NextTriggerTimeUsesConfiguredZone(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	h := NewRecurring(&mockStore{}, loc)
	a := recurringAlarm()

	// Monday 12:00 UTC is 07:00 local, before the 09:00 alarm.
	got, ok := h.NextTriggerTime(a, time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC))
	want := time.Date(2025, time.June, 2, 9, 0, 0, 0, loc)
	if !ok || !got.Equal(want) {
		t.Errorf("NextTriggerTime = %v, want %v", got, want)
	}
}

func TestRecurring_BuildPayload(t *testing.T) {
	h := NewRecurring(&mockStore{}, time.UTC)
	a := recurringAlarm()
	sid := uuid.New()
	a.ScheduleID = &sid
	firedAt := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

	p := h.BuildPayload(a, firedAt)

	if p.AlarmID != a.ID.String() || p.OwnerID != "u1" || p.Kind != domain.KindRecurring {
		t.Errorf("payload identity = %+v", p)
	}
	if p.FiredAt != "2025-06-02T09:00:00Z" {
		t.Errorf("FiredAt = %q", p.FiredAt)
	}
	if p.ScheduleID != sid.String() || p.ReminderID != "" {
		t.Errorf("linkage = schedule %q reminder %q", p.ScheduleID, p.ReminderID)
	}
	if p.Title != "Gym" || p.Message == "" {
		t.Errorf("text = %q / %q", p.Title, p.Message)
	}
}

func TestRecurring_AdvanceAndRetire(t *testing.T) {
	store := &mockStore{}
	h := NewRecurring(store, time.UTC)
	a := recurringAlarm()
	ctx := context.Background()
	fired := monday.Add(time.Hour)
	next := fired.Add(48 * time.Hour)

	if err := h.Advance(ctx, a, fired, next); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := h.Retire(ctx, a, nil); err != nil {
		t.Fatalf("Retire: %v", err)
	}

	if len(store.advanced) != 1 || !store.advanced[0].Next.Equal(next) {
		t.Errorf("advanced = %+v", store.advanced)
	}
	if len(store.retired) != 1 || store.retired[0].FiredAt != nil {
		t.Errorf("retired = %+v", store.retired)
	}

	store.err = errors.New("db down")
	if err := h.Advance(ctx, a, fired, next); err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestOneShot_Eligibility(t *testing.T) {
	h := NewOneShot(&mockStore{}, time.UTC)

	a := oneShotAlarm()
	if !h.CanTrigger(a) {
		t.Error("dated active one-shot should trigger")
	}
	if h.ShouldReschedule(a) {
		t.Error("one-shot must never reschedule")
	}

	a.TargetDate = nil
	if h.CanTrigger(a) {
		t.Error("one-shot without date must not trigger")
	}
	if _, ok := h.NextTriggerTime(a, monday); ok {
		t.Error("NextTriggerTime without date should report !ok")
	}

	a = oneShotAlarm()
	a.Active = false
	if h.CanTrigger(a) {
		t.Error("retired one-shot must not trigger")
	}
}

func TestOneShot_NextTriggerTime(t *testing.T) {
	h := NewOneShot(&mockStore{}, time.UTC)
	a := oneShotAlarm()

	got, ok := h.NextTriggerTime(a, monday)
	want := time.Date(2025, time.June, 10, 14, 0, 0, 0, time.UTC)
	if !ok || !got.Equal(want) {
		t.Errorf("NextTriggerTime = %v, want %v", got, want)
	}

	// Overdue: returned unchanged so the pipeline fires it immediately.
	got, _ = h.NextTriggerTime(a, want.Add(72*time.Hour))
	if !got.Equal(want) {
		t.Errorf("overdue NextTriggerTime = %v, want %v", got, want)
	}
}

func TestOneShot_BuildPayload(t *testing.T) {
	h := NewOneShot(&mockStore{}, time.UTC)
	a := oneShotAlarm()

	p := h.BuildPayload(a, time.Date(2025, time.June, 10, 14, 0, 0, 0, time.UTC))

	if p.Kind != domain.KindOneShot || p.ReminderID != a.ReminderID.String() || p.ScheduleID != "" {
		t.Errorf("payload = %+v", p)
	}
	if p.Message != "Reminder: Dentist" {
		t.Errorf("Message = %q", p.Message)
	}
}

func TestOneShot_AdvanceRetires(t *testing.T) {
	store := &mockStore{}
	h := NewOneShot(store, time.UTC)
	a := oneShotAlarm()
	fired := time.Date(2025, time.June, 10, 14, 0, 0, 0, time.UTC)

	if err := h.Advance(context.Background(), a, fired, fired.Add(time.Hour)); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if len(store.advanced) != 0 {
		t.Errorf("one-shot must not advance: %+v", store.advanced)
	}
	if len(store.retired) != 1 || store.retired[0].FiredAt == nil || !store.retired[0].FiredAt.Equal(fired) {
		t.Errorf("retired = %+v", store.retired)
	}
}
