// Package variant holds the per-kind alarm behaviour: eligibility,
// rescheduling policy, next trigger computation, notification payload and
// post-fire bookkeeping. Handlers are looked up by alarm kind through a
// Registry; adding a kind means adding a handler, not editing a switch.
package variant

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/djlord-it/easy-alarm/internal/domain"
)

// ErrUnknownKind is returned by Registry.For for a kind with no handler.
var ErrUnknownKind = errors.New("unknown alarm kind")

// Store persists post-fire bookkeeping.
type Store interface {
	// AdvanceAlarm records a fire and the next trigger instant.
	AdvanceAlarm(ctx context.Context, id uuid.UUID, firedAt, next time.Time) error
	// RetireAlarm deactivates the alarm and clears its next trigger. A non-nil
	// firedAt also records the fire.
	RetireAlarm(ctx context.Context, id uuid.UUID, firedAt *time.Time) error
}

type Handler interface {
	Kind() domain.Kind
	// CanTrigger reports whether the alarm is structurally able to fire now.
	CanTrigger(a *domain.Alarm) bool
	// ShouldReschedule reports whether the alarm stays scheduled after a fire.
	ShouldReschedule(a *domain.Alarm) bool
	// NextTriggerTime returns the next fire instant relative to from.
	NextTriggerTime(a *domain.Alarm, from time.Time) (time.Time, bool)
	BuildPayload(a *domain.Alarm, firedAt time.Time) domain.NotificationPayload
	Retire(ctx context.Context, a *domain.Alarm, firedAt *time.Time) error
	Advance(ctx context.Context, a *domain.Alarm, firedAt, next time.Time) error
}

// Registry maps each alarm kind to its handler.
type Registry struct {
	handlers map[domain.Kind]Handler
}

// NewRegistry builds a registry and checks it covers every known kind
// exactly once.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[domain.Kind]Handler, len(handlers))}
	for _, h := range handlers {
		if !h.Kind().Valid() {
			return nil, errors.Newf("handler for unknown kind %q", h.Kind())
		}
		if _, dup := r.handlers[h.Kind()]; dup {
			return nil, errors.Newf("duplicate handler for kind %q", h.Kind())
		}
		r.handlers[h.Kind()] = h
	}
	for _, k := range domain.Kinds {
		if _, ok := r.handlers[k]; !ok {
			return nil, errors.Newf("no handler for kind %q", k)
		}
	}
	return r, nil
}

// Default returns the registry of built-in handlers evaluated in loc.
func Default(store Store, loc *time.Location) *Registry {
	r, err := NewRegistry(NewRecurring(store, loc), NewOneShot(store, loc))
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) For(kind domain.Kind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
	return h, nil
}

func formatFiredAt(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func title(a *domain.Alarm, fallback string) string {
	if a.Title != "" {
		return a.Title
	}
	return fallback
}
