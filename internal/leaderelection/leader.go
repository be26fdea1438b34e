// Package leaderelection provides Postgres advisory lock-based leader election.
//
// A single Postgres session-scoped advisory lock determines the leader.
// The lock is held for the lifetime of the dedicated database connection;
// there is no renewal or TTL. If the connection dies, Postgres releases the
// lock server-side.
//
// The heartbeat ping exists solely to detect local connection death so the
// leader can stop its duties promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

type Config struct {
	LockKey int64
	// RetryInterval is how often a follower attempts to take the lock.
	RetryInterval time.Duration
	// HeartbeatInterval is how often the leader pings its dedicated connection.
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		LockKey:           728_001,
		RetryInterval:     5 * time.Second,
		HeartbeatInterval: 2 * time.Second,
	}
}

// Elector runs the sweeper and cold-start rebuild on exactly one instance.
type Elector struct {
	db        *sql.DB
	cfg       Config
	logger    *zap.SugaredLogger
	metrics   MetricsSink // optional, nil = disabled
	onElected func(ctx context.Context)
	onDemoted func()
	leader    atomic.Bool
}

func New(db *sql.DB, cfg Config, logger *zap.SugaredLogger) *Elector {
	return &Elector{
		db:        db,
		cfg:       cfg,
		logger:    logger.Named("leader"),
		onElected: func(context.Context) {},
		onDemoted: func() {},
	}
}

// OnElected sets the function started in a new goroutine when this instance
// takes the lock. Its context is cancelled when leadership is lost.
func (e *Elector) OnElected(fn func(ctx context.Context)) *Elector {
	e.onElected = fn
	return e
}

// OnDemoted sets the function called synchronously when leadership is lost.
// It must block until leader duties have stopped and be idempotent.
func (e *Elector) OnDemoted(fn func()) *Elector {
	e.onDemoted = fn
	return e
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// IsLeader reports whether this instance currently holds the lock.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Infow("election loop started",
		"lock_key", e.cfg.LockKey,
		"retry", e.cfg.RetryInterval,
		"heartbeat", e.cfg.HeartbeatInterval,
	)
	defer e.logger.Infow("election loop stopped")

	for {
		reason := e.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if reason != "" {
			e.logger.Warnw("lost leadership", "reason", reason, "retry_in", e.cfg.RetryInterval)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.RetryInterval):
		}
	}
}

// runOnce attempts to acquire the advisory lock and hold it.
// Returns the reason leadership was lost ("" if lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warnw("dedicated connection unavailable", "error", err)
		}
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.cfg.LockKey).Scan(&acquired)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warnw("advisory lock query failed", "error", err)
		}
		return ""
	}
	if !acquired {
		e.logger.Debugw("lock held by another instance", "lock_key", e.cfg.LockKey)
		return ""
	}

	e.logger.Infow("acquired leadership", "lock_key", e.cfg.LockKey)
	e.leader.Store(true)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	e.onDemoted()
	e.leader.Store(false)

	// Unlock explicitly so a follower can take over without waiting for the
	// pooled connection to be closed. A lost connection already released it.
	if reason == ReasonShutdown {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if _, err := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", e.cfg.LockKey); err != nil {
			e.logger.Warnw("advisory unlock failed", "error", err)
		}
		cancel()
	}

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	e.logger.Infow("released leadership", "lock_key", e.cfg.LockKey, "reason", reason)
	return reason
}

// holdLock blocks while pinging the dedicated connection.
// Returns the reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Warnw("dedicated connection ping failed", "error", err)
				return ReasonConnLost
			}
		}
	}
}
