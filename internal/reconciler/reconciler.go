// Package reconciler runs the periodic sweep over the schedule index.
//
// Every interval it reads the alarms whose trigger instant has passed and
// drives each through the trigger pipeline. The sweep is the safety net for
// delayed jobs that were lost, dead-lettered, or never written; the pipeline
// re-checks each alarm, so sweeping an alarm the queue already fired is
// harmless.
package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/easy-alarm/internal/scheduler"
)

// Index returns alarm ids due at or before t, earliest first.
type Index interface {
	DueBefore(ctx context.Context, t time.Time, limit int) ([]uuid.UUID, error)
}

// Trigger runs one alarm through the pipeline.
type Trigger interface {
	Trigger(ctx context.Context, id uuid.UUID) (scheduler.Outcome, error)
}

// MetricsSink records sweep metrics. All methods must be non-blocking.
type MetricsSink interface {
	SweepCompleted(duration time.Duration, due, failed int)
}

type Config struct {
	// Interval is how often the sweep runs. Default: 1 minute.
	Interval time.Duration

	// Concurrency bounds how many alarms are triggered in parallel. Default: 4.
	Concurrency int

	// BatchSize caps the due alarms read per sweep; the rest wait for the
	// next one. Default: 1000.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 4,
		BatchSize:   1000,
	}
}

type Reconciler struct {
	config  Config
	index   Index
	trigger Trigger
	logger  *zap.SugaredLogger
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, index Index, trigger Trigger, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		config:  config,
		index:   index,
		trigger: trigger,
		logger:  logger.Named("sweeper"),
		clock:   time.Now,
	}
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// WithClock overrides the time source. Test use only.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run sweeps once immediately, then every Interval, until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Infow("started",
		"interval", r.config.Interval,
		"concurrency", r.config.Concurrency,
		"batch", r.config.BatchSize,
	)

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Infow("stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of due alarms and how many of
// them failed. One alarm's failure never stops the others.
func (r *Reconciler) Sweep(ctx context.Context) (due, failed int) {
	started := r.clock()

	ids, err := r.index.DueBefore(ctx, started, r.config.BatchSize)
	if err != nil {
		// Index unavailable: retry next interval.
		r.logger.Warnw("failed to read due alarms", "error", err)
		return 0, 0
	}
	if len(ids) == 0 {
		r.record(started, 0, 0)
		return 0, 0
	}

	failures := make([]bool, len(ids))
	outcomes := make([]scheduler.Outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.config.Concurrency, 1))
	for i, id := range ids {
		g.Go(func() error {
			if gctx.Err() != nil {
				failures[i] = true
				return nil
			}
			outcome, err := r.trigger.Trigger(gctx, id)
			if err != nil {
				r.logger.Warnw("trigger failed", "alarm_id", id, "error", err)
				failures[i] = true
				return nil
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	counts := make(map[scheduler.Outcome]int)
	for i := range ids {
		if failures[i] {
			failed++
			continue
		}
		counts[outcomes[i]]++
	}

	r.logger.Infow("sweep complete",
		"due", len(ids),
		"failed", failed,
		"rescheduled", counts[scheduler.OutcomeRescheduled],
		"retired", counts[scheduler.OutcomeRetired],
		"purged", counts[scheduler.OutcomePurged],
		"resynced", counts[scheduler.OutcomeResynced],
	)
	r.record(started, len(ids), failed)
	return len(ids), failed
}

func (r *Reconciler) record(started time.Time, due, failed int) {
	if r.metrics != nil {
		r.metrics.SweepCompleted(r.clock().Sub(started), due, failed)
	}
}
