package cron

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a periodic job. It receives the runner's context.
type Task func(ctx context.Context)

// Runner runs named tasks on cron schedules. Overlapping runs of the same
// task are skipped and panics are recovered.
type Runner struct {
	cron   *cron.Cron
	logger *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(loc *time.Location, logger *zap.SugaredLogger) *Runner {
	logger = logger.Named("cron")
	adapter := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(cron.NewParser(standardFields)),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers task under spec. Must be called before Run.
func (r *Runner) Add(name, spec string, task Task) error {
	_, err := r.cron.AddFunc(spec, func() {
		started := time.Now()
		task(r.ctx)
		r.logger.Debugw("task finished", "task", name, "duration", time.Since(started))
	})
	if err != nil {
		return errors.Wrapf(err, "register task %s", name)
	}
	r.logger.Infow("task registered", "task", name, "schedule", spec)
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running tasks to return.
func (r *Runner) Run(ctx context.Context) {
	r.cron.Start()
	<-ctx.Done()
	r.cancel()
	<-r.cron.Stop().Done()
}

// cronLogger adapts zap to the robfig logger interface.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
