// Package scheduler drives alarms through their lifecycle: it places new and
// edited alarms on the schedule index and delayed queue, and runs the trigger
// pipeline when either of them reports an alarm as due.
//
// The index and the queue are two independent producers for the same fire.
// There is no lock between them; a second trigger for an alarm that already
// fired finds the row advanced and only re-syncs the derived state.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/domain"
	"github.com/djlord-it/easy-alarm/internal/schedindex"
	"github.com/djlord-it/easy-alarm/internal/variant"
)

type Outcome string

const (
	OutcomePurged      Outcome = "purged"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeRetired     Outcome = "retired"
	// OutcomeResynced means the alarm was not yet due; the index and queue
	// were re-placed at the persisted trigger instant and nothing fired.
	OutcomeResynced Outcome = "resynced"
)

// DefaultDueTolerance is how far ahead of its persisted trigger instant an
// alarm may be triggered and still fire.
const DefaultDueTolerance = time.Second

// queueTarget names the queue backend in the circuit breaker.
const queueTarget = "queue"

type Store interface {
	GetAlarm(ctx context.Context, id uuid.UUID) (domain.Alarm, error)
	ListActiveAlarms(ctx context.Context) ([]domain.Alarm, error)
	SetNextTrigger(ctx context.Context, id uuid.UUID, next *time.Time) error
}

type Index interface {
	Upsert(ctx context.Context, e schedindex.Entry) error
	Remove(ctx context.Context, id uuid.UUID) error
}

type Queue interface {
	Schedule(ctx context.Context, key string, runAt time.Time, payload []byte) error
	Cancel(ctx context.Context, key string) error
}

type Notifier interface {
	Deliver(ctx context.Context, p domain.NotificationPayload) error
}

// Breaker guards post-fire queue writes. While open, the index alone carries
// the alarm and the sweeper picks it up.
type Breaker interface {
	Allow(target string) error
	RecordSuccess(target string)
	RecordFailure(target string)
}

// MetricsSink records pipeline metrics. All methods must be non-blocking.
type MetricsSink interface {
	TriggerOutcome(outcome string)
}

type Scheduler struct {
	store    Store
	index    Index
	queue    Queue
	notifier Notifier
	variants *variant.Registry
	logger   *zap.SugaredLogger

	breaker      Breaker     // optional, nil = disabled
	metrics      MetricsSink // optional, nil = disabled
	clock        func() time.Time
	dueTolerance time.Duration
}

func New(store Store, index Index, queue Queue, notifier Notifier, variants *variant.Registry, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:        store,
		index:        index,
		queue:        queue,
		notifier:     notifier,
		variants:     variants,
		logger:       logger.Named("pipeline"),
		clock:        time.Now,
		dueTolerance: DefaultDueTolerance,
	}
}

func (s *Scheduler) WithBreaker(b Breaker) *Scheduler {
	s.breaker = b
	return s
}

func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock overrides the time source. Test use only.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) WithDueTolerance(d time.Duration) *Scheduler {
	s.dueTolerance = d
	return s
}

// Trigger loads the alarm, fires it if it is eligible and due, and then
// either reschedules or retires it. It is safe to call more than once for
// the same fire. A returned error leaves the index entry in place so the
// sweeper retries.
func (s *Scheduler) Trigger(ctx context.Context, id uuid.UUID) (Outcome, error) {
	outcome, err := s.trigger(ctx, id)
	if s.metrics != nil {
		if err != nil {
			s.metrics.TriggerOutcome("error")
		} else {
			s.metrics.TriggerOutcome(string(outcome))
		}
	}
	return outcome, err
}

func (s *Scheduler) trigger(ctx context.Context, id uuid.UUID) (Outcome, error) {
	a, err := s.store.GetAlarm(ctx, id)
	if errors.Is(err, domain.ErrAlarmNotFound) {
		s.logger.Debugw("alarm gone, purging", "alarm_id", id)
		return OutcomePurged, s.purge(ctx, id)
	}
	if err != nil {
		return "", errors.Wrapf(err, "load alarm %s", id)
	}

	h, err := s.variants.For(a.Kind)
	if err != nil {
		s.logger.Debugw("unknown alarm kind, purging", "alarm_id", id, "kind", a.Kind)
		return OutcomePurged, s.purge(ctx, id)
	}
	if !h.CanTrigger(&a) {
		s.logger.Debugw("alarm ineligible, purging", "alarm_id", id, "active", a.Active)
		return OutcomePurged, s.purge(ctx, id)
	}

	now := s.clock()
	if a.NextTriggerAt != nil && a.NextTriggerAt.Sub(now) > s.dueTolerance {
		s.logger.Debugw("alarm not due, resyncing",
			"alarm_id", id,
			"next_trigger_at", a.NextTriggerAt,
		)
		if err := s.place(ctx, &a, *a.NextTriggerAt, true); err != nil {
			return "", err
		}
		return OutcomeResynced, nil
	}

	if err := s.notifier.Deliver(ctx, h.BuildPayload(&a, now)); err != nil {
		return "", errors.Wrapf(err, "deliver alarm %s", id)
	}

	if h.ShouldReschedule(&a) {
		if next, ok := h.NextTriggerTime(&a, now); ok {
			if err := h.Advance(ctx, &a, now, next); err != nil {
				return "", err
			}
			a.NextTriggerAt = &next
			if err := s.place(ctx, &a, next, true); err != nil {
				return "", err
			}
			s.logger.Infow("alarm fired",
				"alarm_id", id,
				"owner_id", a.OwnerID,
				"next_trigger_at", next,
			)
			return OutcomeRescheduled, nil
		}
	}

	if err := h.Retire(ctx, &a, &now); err != nil {
		return "", err
	}
	if err := s.purge(ctx, id); err != nil {
		return "", err
	}
	s.logger.Infow("alarm fired and retired", "alarm_id", id, "owner_id", a.OwnerID)
	return OutcomeRetired, nil
}

// place writes the index entry and the delayed job for a at runAt. When
// guarded, the queue write is skipped while the breaker is open.
func (s *Scheduler) place(ctx context.Context, a *domain.Alarm, runAt time.Time, guarded bool) error {
	if err := s.index.Upsert(ctx, schedindex.EntryFor(a, runAt)); err != nil {
		return errors.Wrapf(err, "index alarm %s", a.ID)
	}

	if guarded && s.breaker != nil {
		if err := s.breaker.Allow(queueTarget); err != nil {
			s.logger.Warnw("queue breaker open, leaving alarm to the sweeper", "alarm_id", a.ID)
			return nil
		}
	}

	payload, err := json.Marshal(domain.JobPayload{AlarmID: a.ID, Kind: a.Kind, OwnerID: a.OwnerID})
	if err != nil {
		return errors.Wrap(err, "encode job payload")
	}
	err = s.queue.Schedule(ctx, domain.JobKey(a.Kind, a.ID), runAt, payload)
	if s.breaker != nil {
		if err != nil {
			s.breaker.RecordFailure(queueTarget)
		} else {
			s.breaker.RecordSuccess(queueTarget)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "queue alarm %s", a.ID)
	}
	return nil
}

// purge removes every derived trace of an alarm: the index entry and the
// delayed job under each kind's key. Absent entries are not an error.
func (s *Scheduler) purge(ctx context.Context, id uuid.UUID) error {
	var errs error
	for _, k := range domain.Kinds {
		if err := s.queue.Cancel(ctx, domain.JobKey(k, id)); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "cancel %s job", k))
		}
	}
	if err := s.index.Remove(ctx, id); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "remove index entry"))
	}
	if errs != nil {
		return errors.Wrapf(errs, "purge alarm %s", id)
	}
	return nil
}
