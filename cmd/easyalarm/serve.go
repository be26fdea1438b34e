package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/api"
	"github.com/djlord-it/easy-alarm/internal/cron"
	"github.com/djlord-it/easy-alarm/internal/gateway"
	"github.com/djlord-it/easy-alarm/internal/leaderelection"
	"github.com/djlord-it/easy-alarm/internal/reconciler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API, live gateway, sweeper and queue workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queue workers only",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWorker(cmd.Context())
	},
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runServe(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	logConfigWarnings(cfg, logger)

	runner, err := newJanitor(a)
	if err != nil {
		return err
	}
	a.startMetrics()

	subs := gateway.NewSubscriptionManager(a.broker, logger).WithMetrics(a.sink)
	tokens := gateway.NewTokenIssuer(cfg.StreamTokenSecret, cfg.StreamTokenTTL)
	gw := gateway.New(subs, tokens, logger).
		WithMetrics(a.sink).
		WithHeartbeat(cfg.StreamHeartbeat)

	handler := api.NewHandler(a.store, a.scheduler, logger).
		WithHistory(a.fanout).
		WithStream(tokens, gw).
		WithOps(a.queue, a.index).
		WithHealthCheck("postgres", a.store.Ping).
		WithHealthCheck("redis", func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }).
		WithMetrics(a.sink)

	// Live streams hold requests open; cancelling this context ends them so
	// the HTTP server can shut down.
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Infow("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	sweeper := reconciler.New(reconciler.Config{
		Interval:    cfg.SweepInterval,
		Concurrency: cfg.SweepConcurrency,
		BatchSize:   cfg.SweepBatchSize,
	}, a.index, a.scheduler, logger).WithMetrics(a.sink)
	duties := &leaderDuties{
		logger: logger,
		rebuild: func(ctx context.Context) error {
			_, err := a.scheduler.Rebuild(ctx)
			return err
		},
		sweep: sweeper.Run,
	}

	// Separate contexts so shutdown can stop components in order.
	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	janitorCtx, cancelJanitor := context.WithCancel(context.Background())

	var leaderWg, workerWg, janitorWg sync.WaitGroup

	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(a.db, leaderelection.Config{
			LockKey:           cfg.LeaderLockKey,
			RetryInterval:     cfg.LeaderRetryInterval,
			HeartbeatInterval: cfg.LeaderHeartbeatInterval,
		}, logger).
			OnElected(duties.start).
			OnDemoted(duties.stop).
			WithMetrics(a.sink)
		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			elector.Run(leaderCtx)
		}()
	} else {
		go duties.start(leaderCtx)
	}

	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		if err := a.queue.Run(workerCtx, a.scheduler.HandleJob); err != nil {
			logger.Errorw("queue workers stopped with error", "error", err)
		}
	}()

	janitorWg.Add(1)
	go func() {
		defer janitorWg.Done()
		runner.Run(janitorCtx)
	}()

	logger.Infow("started",
		"http", cfg.HTTPAddr,
		"sweep_interval", cfg.SweepInterval,
		"leader_election", cfg.LeaderElectionEnabled,
		"version", version,
	)

	select {
	case <-ctx.Done():
		logger.Infow("received shutdown signal")
	case err := <-httpErr:
		logger.Errorw("http server failed", "error", err)
	}

	// Phase 1: stop the sweeper (and release leadership).
	logger.Infow("stopping sweeper")
	cancelLeader()
	leaderWg.Wait()
	duties.stop()

	// Phase 2: stop accepting API writes and end live streams.
	logger.Infow("stopping http server")
	cancelStreams()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http server shutdown error", "error", err)
	}
	cancelShutdown()

	// Phase 3: drain queue workers; in-flight jobs finish.
	logger.Infow("stopping queue workers")
	cancelWorkers()
	workerWg.Wait()

	cancelJanitor()
	janitorWg.Wait()

	a.stopMetrics()
	logger.Infow("stopped")
	return nil
}

func runWorker(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.IndexBackend == "memory" {
		a.logger.Warnw("[P0] INDEX_BACKEND=memory in a worker process: " +
			"entries it writes are invisible to the sweeper in the serve process")
	}
	a.startMetrics()

	logger := a.logger
	logger.Infow("worker started", "concurrency", a.cfg.QueueConcurrency, "version", version)
	if err := a.queue.Run(ctx, a.scheduler.HandleJob); err != nil {
		return errors.Wrap(err, "queue workers")
	}

	a.stopMetrics()
	logger.Infow("worker stopped")
	return nil
}

// newJanitor schedules queue housekeeping on the configured cron expression.
func newJanitor(a *app) (*cron.Runner, error) {
	runner := cron.NewRunner(a.cfg.Location(), a.logger)
	err := runner.Add("queue-janitor", a.cfg.QueueJanitorSchedule, func(ctx context.Context) {
		if err := a.queue.Trim(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warnw("queue janitor failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return runner, nil
}

// leaderDuties runs the cold-start rebuild followed by the sweeper for as
// long as this instance leads. start and stop may be called repeatedly.
type leaderDuties struct {
	logger  *zap.SugaredLogger
	rebuild func(ctx context.Context) error
	sweep   func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (d *leaderDuties) start(ctx context.Context) {
	d.mu.Lock()
	if ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	if err := d.rebuild(ctx); err != nil && ctx.Err() == nil {
		d.logger.Warnw("rebuild incomplete", "error", err)
	}
	if ctx.Err() != nil {
		return
	}
	d.sweep(ctx)
}

// stop cancels the running duties and waits for them to return.
func (d *leaderDuties) stop() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
}
