package scheduler

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/domain"
	"github.com/djlord-it/easy-alarm/internal/queue"
)

// Schedule computes the alarm's first trigger, persists it, and places the
// alarm on the index and queue. An alarm that cannot trigger is unscheduled
// instead. a.NextTriggerAt is updated in place.
func (s *Scheduler) Schedule(ctx context.Context, a *domain.Alarm) error {
	h, err := s.variants.For(a.Kind)
	if err != nil {
		return err
	}

	if !h.CanTrigger(a) {
		return s.Unschedule(ctx, a)
	}
	next, ok := h.NextTriggerTime(a, s.clock())
	if !ok {
		return s.Unschedule(ctx, a)
	}

	if err := s.store.SetNextTrigger(ctx, a.ID, &next); err != nil {
		return errors.Wrapf(err, "persist next trigger for %s", a.ID)
	}
	a.NextTriggerAt = &next

	// The kind may have changed on update; drop jobs under other kinds' keys.
	for _, k := range domain.Kinds {
		if k == a.Kind {
			continue
		}
		if err := s.queue.Cancel(ctx, domain.JobKey(k, a.ID)); err != nil {
			return errors.Wrapf(err, "cancel stale %s job", k)
		}
	}

	if err := s.place(ctx, a, next, false); err != nil {
		return err
	}
	s.logger.Debugw("alarm scheduled", "alarm_id", a.ID, "next_trigger_at", next)
	return nil
}

// Unschedule cancels the alarm's delayed job and removes its index entry,
// and clears the persisted next trigger when the row still exists.
func (s *Scheduler) Unschedule(ctx context.Context, a *domain.Alarm) error {
	if err := s.purge(ctx, a.ID); err != nil {
		return err
	}
	if a.NextTriggerAt != nil {
		err := s.store.SetNextTrigger(ctx, a.ID, nil)
		if err != nil && !errors.Is(err, domain.ErrAlarmNotFound) {
			return errors.Wrapf(err, "clear next trigger for %s", a.ID)
		}
		a.NextTriggerAt = nil
	}
	return nil
}

// Rebuild re-places every active alarm after a cold start. Alarms whose
// persisted trigger is already past are placed at that instant and fire as
// soon as a worker or the sweeper sees them. Per-alarm failures are logged
// and combined into the returned error; they do not stop the rebuild.
func (s *Scheduler) Rebuild(ctx context.Context) (int, error) {
	alarms, err := s.store.ListActiveAlarms(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list active alarms")
	}

	placed := 0
	var errs error
	for i := range alarms {
		a := &alarms[i]
		if err := s.rebuildOne(ctx, a); err != nil {
			s.logger.Warnw("rebuild failed for alarm", "alarm_id", a.ID, "error", err)
			errs = errors.CombineErrors(errs, err)
			continue
		}
		placed++
	}

	s.logger.Infow("schedule rebuilt", "alarms", len(alarms), "placed", placed)
	return placed, errs
}

func (s *Scheduler) rebuildOne(ctx context.Context, a *domain.Alarm) error {
	if a.NextTriggerAt == nil {
		return s.Schedule(ctx, a)
	}
	h, err := s.variants.For(a.Kind)
	if err != nil {
		return s.purge(ctx, a.ID)
	}
	if !h.CanTrigger(a) {
		return s.Unschedule(ctx, a)
	}
	return s.place(ctx, a, *a.NextTriggerAt, false)
}

// HandleJob is the queue handler for alarm jobs. Undecodable payloads are
// dropped rather than retried.
func (s *Scheduler) HandleJob(ctx context.Context, job queue.Job) error {
	var p domain.JobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		s.logger.Errorw("dropping undecodable job", "key", job.Key, "error", err)
		return nil
	}

	outcome, err := s.Trigger(ctx, p.AlarmID)
	if err != nil {
		return err
	}
	s.logger.Desugar().Debug("job handled",
		zap.String("key", job.Key),
		zap.Int("attempt", job.Attempt),
		zap.String("outcome", string(outcome)),
	)
	return nil
}
