package main

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/circuitbreaker"
	"github.com/djlord-it/easy-alarm/internal/config"
	"github.com/djlord-it/easy-alarm/internal/logging"
	"github.com/djlord-it/easy-alarm/internal/metrics"
	"github.com/djlord-it/easy-alarm/internal/notify"
	"github.com/djlord-it/easy-alarm/internal/queue"
	"github.com/djlord-it/easy-alarm/internal/schedindex"
	"github.com/djlord-it/easy-alarm/internal/scheduler"
	"github.com/djlord-it/easy-alarm/internal/store/postgres"
	"github.com/djlord-it/easy-alarm/internal/transport"
	"github.com/djlord-it/easy-alarm/internal/transport/channel"
	"github.com/djlord-it/easy-alarm/internal/transport/redispubsub"
	"github.com/djlord-it/easy-alarm/internal/variant"

	_ "github.com/lib/pq"
)

// index is what the process needs from a schedule index backend.
type index interface {
	scheduler.Index
	DueBefore(ctx context.Context, t time.Time, limit int) ([]uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (schedindex.Entry, error)
}

// app holds the components shared by serve and worker.
type app struct {
	cfg    config.Config
	logger *zap.SugaredLogger

	db      *sql.DB
	redis   *redis.Client
	sink    metrics.Sink
	metrics *http.Server // nil when disabled

	store     *postgres.Store
	index     index
	queue     *queue.Queue
	broker    transport.Broker
	fanout    *notify.Fanout
	scheduler *scheduler.Scheduler
}

// newApp loads configuration and connects to Postgres and Redis. The
// returned app must be closed.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return nil, invalidConfig(err)
	}
	logger = logger.Named("easyalarm")

	a := &app{cfg: cfg, logger: logger, sink: metrics.NewNoopSink()}
	if err := a.connect(ctx); err != nil {
		a.close()
		return nil, err
	}
	a.build()
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	cfg := a.cfg

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	a.db = db

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
	a.logger.Infow("db pool configured",
		"max_open", cfg.DBMaxOpenConns,
		"max_idle", cfg.DBMaxIdleConns,
		"max_lifetime", cfg.DBConnMaxLifetime,
		"max_idle_time", cfg.DBConnMaxIdleTime,
	)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return errors.Wrap(err, "connect to database")
	}
	if err := postgres.Migrate(ctx, db, a.logger); err != nil {
		return err
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	redisCtx, cancelRedis := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancelRedis()
	if err := a.redis.Ping(redisCtx).Err(); err != nil {
		return errors.Wrapf(err, "connect to redis at %s", cfg.RedisAddr)
	}
	a.logger.Infow("redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return nil
}

// build assembles the pipeline on top of the open connections.
func (a *app) build() {
	cfg := a.cfg

	if cfg.MetricsEnabled {
		a.sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, a.logger)
		a.metrics = newMetricsServer(cfg)
	} else {
		a.logger.Infow("METRICS_ENABLED not set; metrics disabled")
	}

	a.store = postgres.New(a.db).WithOpTimeout(cfg.DBOpTimeout)

	switch cfg.IndexBackend {
	case "memory":
		a.index = schedindex.NewMemIndex()
	default:
		a.index = schedindex.NewRedisIndex(a.redis)
	}

	qcfg := queue.DefaultConfig()
	qcfg.Concurrency = cfg.QueueConcurrency
	qcfg.PollInterval = cfg.QueuePollInterval
	qcfg.MaxAttempts = cfg.QueueMaxAttempts
	qcfg.BackoffBase = cfg.QueueBackoffBase
	a.queue = queue.New(a.redis, qcfg, a.logger).WithMetrics(a.sink)

	switch cfg.PubSubBackend {
	case "memory":
		a.broker = channel.NewBroker(channel.WithMetrics(a.sink))
	default:
		a.broker = redispubsub.NewBroker(a.redis)
	}

	a.fanout = notify.NewFanout(a.broker, notify.NewRedisHistory(a.redis), a.logger).
		WithHistoryLimit(cfg.HistoryLimit).
		WithMetrics(a.sink)

	a.scheduler = scheduler.New(
		a.store,
		a.index,
		a.queue,
		a.fanout,
		variant.Default(a.store, cfg.Location()),
		a.logger,
	).WithMetrics(a.sink)
	if cfg.QueueBreakerThreshold > 0 {
		a.scheduler = a.scheduler.WithBreaker(
			circuitbreaker.New(cfg.QueueBreakerThreshold, cfg.QueueBreakerCooldown),
		)
	}

	a.logger.Infow("pipeline assembled",
		"index", cfg.IndexBackend,
		"pubsub", cfg.PubSubBackend,
		"timezone", cfg.Location().String(),
		"breaker_threshold", cfg.QueueBreakerThreshold,
	)
}

func newMetricsServer(cfg config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	return &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// startMetrics serves the metrics endpoint on its own port when enabled.
func (a *app) startMetrics() {
	if a.metrics == nil {
		return
	}
	go func() {
		a.logger.Infow("metrics server listening", "addr", a.metrics.Addr, "path", a.cfg.MetricsPath)
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorw("metrics server error", "error", err)
		}
	}()
}

func (a *app) stopMetrics() {
	if a.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := a.metrics.Shutdown(ctx); err != nil {
		a.logger.Warnw("metrics server shutdown error", "error", err)
	}
	a.logger.Infow("metrics server stopped")
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}

// logConfigWarnings reports configuration combinations that are valid but
// risky in production.
func logConfigWarnings(cfg config.Config, logger *zap.SugaredLogger) {
	if cfg.LeaderElectionEnabled && cfg.IndexBackend == "memory" {
		logger.Warnw("[P0] INDEX_BACKEND=memory with LEADER_ELECTION_ENABLED=true: " +
			"the leader sweeps only its own index; alarms scheduled on other instances are never reconciled")
	}
	if cfg.LeaderElectionEnabled && cfg.PubSubBackend == "memory" {
		logger.Warnw("[P0] PUBSUB_BACKEND=memory with LEADER_ELECTION_ENABLED=true: " +
			"alarms fired on one instance do not reach sessions connected to another")
	}
	if !cfg.LeaderElectionEnabled {
		logger.Infow("LEADER_ELECTION_ENABLED=false: this instance runs the sweeper unconditionally; " +
			"run a single serve instance or enable leader election")
	}
	if !cfg.MetricsEnabled {
		logger.Warnw("[P1] METRICS_ENABLED=false: sweep, queue and stream health are not observable")
	}
	if cfg.QueueBreakerThreshold == 0 {
		logger.Infow("QUEUE_BREAKER_THRESHOLD=0: queue circuit breaker disabled")
	}
}
