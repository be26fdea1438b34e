// Package queue is a Redis-backed delayed-execution queue.
//
// A job is identified by its key; scheduling a key that already has a job
// replaces it, so there is at most one pending job per key. Due jobs are
// claimed atomically by a worker pool, retried with exponential backoff on
// handler error, and parked on a failed list once attempts are exhausted.
//
// A job claimed by a process that crashes before finishing is lost. Callers
// that need stronger guarantees keep their own source of truth and re-drive
// from it.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one claimed job. A non-nil error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// Job is a claimed unit of work.
type Job struct {
	Key     string
	Payload []byte
	// Attempt is 1 on the first run.
	Attempt int
	RunAt   time.Time

	token string
}

// Record is a finished job kept on the completed or failed list.
type Record struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

// MetricsSink records queue metrics. All methods must be non-blocking.
type MetricsSink interface {
	JobOutcome(outcome string)
	JobsInFlightIncr()
	JobsInFlightDecr()
}

// Job outcomes reported to MetricsSink.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
)

type Config struct {
	KeyPrefix    string
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration

	CompletedLimit int
	CompletedTTL   time.Duration
	FailedLimit    int
	FailedTTL      time.Duration

	// OrphanAge is how long a job hash may sit outside the delayed set
	// before the janitor treats it as abandoned by a crashed worker.
	OrphanAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		KeyPrefix:      "alarms:queue:",
		Concurrency:    10,
		PollInterval:   500 * time.Millisecond,
		MaxAttempts:    3,
		BackoffBase:    2 * time.Second,
		CompletedLimit: 100,
		CompletedTTL:   time.Hour,
		FailedLimit:    500,
		FailedTTL:      24 * time.Hour,
		OrphanAge:      time.Hour,
	}
}

type Queue struct {
	client  redis.UniversalClient
	cfg     Config
	logger  *zap.SugaredLogger
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time

	delayedKey   string
	completedKey string
	failedKey    string
}

func New(client redis.UniversalClient, cfg Config, logger *zap.SugaredLogger) *Queue {
	return &Queue{
		client:       client,
		cfg:          cfg,
		logger:       logger.Named("queue"),
		clock:        time.Now,
		delayedKey:   cfg.KeyPrefix + "delayed",
		completedKey: cfg.KeyPrefix + "completed",
		failedKey:    cfg.KeyPrefix + "failed",
	}
}

func (q *Queue) WithMetrics(sink MetricsSink) *Queue {
	q.metrics = sink
	return q
}

// WithClock overrides the time source. Test use only.
func (q *Queue) WithClock(clock func() time.Time) *Queue {
	q.clock = clock
	return q
}

func (q *Queue) jobKey(key string) string {
	return q.cfg.KeyPrefix + "job:" + key
}

// Schedule enqueues payload under key to run at runAt, or immediately when
// runAt is not in the future. Any pending job with the same key is replaced
// and its attempt counter reset.
func (q *Queue) Schedule(ctx context.Context, key string, runAt time.Time, payload []byte) error {
	now := q.clock()
	if runAt.Before(now) {
		runAt = now
	}
	ms := runAt.UnixMilli()
	hash := q.jobKey(key)

	pipe := q.client.TxPipeline()
	pipe.Del(ctx, hash)
	pipe.HSet(ctx, hash,
		fieldPayload, payload,
		fieldAttempts, 0,
		fieldRunAt, ms,
		fieldToken, uuid.NewString(),
		fieldCreatedAt, now.UnixMilli(),
	)
	pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(ms), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "schedule job %s", key)
	}
	return nil
}

// Cancel removes the pending job with key. Cancelling an absent job succeeds.
func (q *Queue) Cancel(ctx context.Context, key string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.delayedKey, key)
	pipe.Del(ctx, q.jobKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "cancel job %s", key)
	}
	return nil
}

// Pending reports the run-at instant of the pending job with key.
func (q *Queue) Pending(ctx context.Context, key string) (time.Time, bool, error) {
	ms, err := q.client.ZScore(ctx, q.delayedKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "lookup job %s", key)
	}
	return time.UnixMilli(int64(ms)).UTC(), true, nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.delayedKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "count pending jobs")
	}
	return n, nil
}

// Failed returns up to limit dead jobs, most recent first.
func (q *Queue) Failed(ctx context.Context, limit int) ([]Record, error) {
	return q.records(ctx, q.failedKey, limit)
}

// Completed returns up to limit finished jobs, most recent first.
func (q *Queue) Completed(ctx context.Context, limit int) ([]Record, error) {
	return q.records(ctx, q.completedKey, limit)
}

func (q *Queue) records(ctx context.Context, listKey string, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := q.client.LRange(ctx, listKey, 0, stop).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", listKey)
	}

	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			q.logger.Warnw("skipping undecodable job record", "list", listKey, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// backoff returns the delay before the retry that follows the given failed
// attempt: base, 2*base, 4*base, ...
func (q *Queue) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.cfg.BackoffBase << (attempt - 1)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
