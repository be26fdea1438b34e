package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"
)

// Run polls for due jobs every PollInterval and hands them to h on a pool of
// at most Concurrency goroutines. It blocks until ctx is cancelled, then
// waits for in-flight jobs to finish.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	concurrency := int64(q.cfg.Concurrency)
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)

	var (
		mu       sync.Mutex
		inFlight int64
	)
	free := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return concurrency - inFlight
	}

	// In-flight handlers run to completion on shutdown.
	jobCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	q.logger.Infow("workers started", "concurrency", concurrency, "poll_interval", q.cfg.PollInterval)

	for {
		if n := free(); n > 0 {
			jobs, err := q.claim(ctx, n)
			if err != nil && ctx.Err() == nil {
				q.logger.Warnw("claim failed", "error", err)
			}
			for _, job := range jobs {
				// Never blocks: at most free() jobs were claimed.
				_ = sem.Acquire(jobCtx, 1)
				mu.Lock()
				inFlight++
				mu.Unlock()

				go func(job Job) {
					defer func() {
						mu.Lock()
						inFlight--
						mu.Unlock()
						sem.Release(1)
					}()
					q.process(jobCtx, h, job)
				}(job)
			}
		}

		select {
		case <-ctx.Done():
			q.logger.Infow("workers stopping, waiting for in-flight jobs")
			_ = sem.Acquire(context.Background(), concurrency)
			q.logger.Infow("workers stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes every currently due job synchronously. It
// returns the number of jobs processed.
func (q *Queue) RunOnce(ctx context.Context, h Handler) (int, error) {
	total := 0
	for {
		jobs, err := q.claim(ctx, int64(q.cfg.Concurrency))
		if err != nil {
			return total, err
		}
		if len(jobs) == 0 {
			return total, nil
		}
		for _, job := range jobs {
			q.process(ctx, h, job)
		}
		total += len(jobs)
	}
}

func (q *Queue) claim(ctx context.Context, limit int64) ([]Job, error) {
	now := q.clock().UnixMilli()
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.delayedKey},
		now, limit, q.cfg.KeyPrefix+"job:",
	).StringSlice()
	if err != nil {
		return nil, errors.Wrap(err, "claim due jobs")
	}

	const width = 5
	jobs := make([]Job, 0, len(res)/width)
	for i := 0; i+width <= len(res); i += width {
		ms, _ := strconv.ParseInt(res[i+4], 10, 64)
		jobs = append(jobs, Job{
			Key:     res[i],
			Payload: []byte(res[i+1]),
			Attempt: atoi(res[i+2]) + 1,
			RunAt:   time.UnixMilli(ms).UTC(),
			token:   res[i+3],
		})
	}
	return jobs, nil
}

func (q *Queue) process(ctx context.Context, h Handler, job Job) {
	if q.metrics != nil {
		q.metrics.JobsInFlightIncr()
		defer q.metrics.JobsInFlightDecr()
	}

	err := q.invoke(ctx, h, job)
	if err == nil {
		q.finish(ctx, job, q.completedKey, q.cfg.CompletedLimit, "")
		q.outcome(OutcomeCompleted)
		return
	}

	if job.Attempt >= q.cfg.MaxAttempts {
		q.logger.Errorw("job failed permanently",
			"key", job.Key,
			"attempts", job.Attempt,
			"error", err,
		)
		q.finish(ctx, job, q.failedKey, q.cfg.FailedLimit, err.Error())
		q.outcome(OutcomeDead)
		return
	}

	delay := q.backoff(job.Attempt)
	q.logger.Warnw("job failed, retrying",
		"key", job.Key,
		"attempt", job.Attempt,
		"backoff", delay,
		"error", err,
	)
	if rerr := q.retry(ctx, job, delay, err); rerr != nil {
		q.logger.Errorw("requeue failed", "key", job.Key, "error", rerr)
		return
	}
	q.outcome(OutcomeRetried)
}

// invoke runs the handler, converting a panic into an error so one job
// cannot take down the pool.
func (q *Queue) invoke(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (q *Queue) finish(ctx context.Context, job Job, listKey string, limit int, lastErr string) {
	rec, err := json.Marshal(Record{
		Key:        job.Key,
		Payload:    rawPayload(job.Payload),
		Attempts:   job.Attempt,
		LastError:  lastErr,
		FinishedAt: q.clock().UTC(),
	})
	if err != nil {
		q.logger.Errorw("encode job record", "key", job.Key, "error", err)
		return
	}
	if limit < 1 {
		limit = 1
	}
	err = finishScript.Run(ctx, q.client,
		[]string{q.jobKey(job.Key), listKey},
		job.token, rec, limit,
	).Err()
	if err != nil {
		q.logger.Errorw("archive job", "key", job.Key, "error", err)
	}
}

func (q *Queue) retry(ctx context.Context, job Job, delay time.Duration, cause error) error {
	runAt := q.clock().Add(delay).UnixMilli()
	err := retryScript.Run(ctx, q.client,
		[]string{q.jobKey(job.Key), q.delayedKey},
		job.token, job.Key, runAt, job.Attempt, cause.Error(),
	).Err()
	if err != nil {
		return errors.Wrapf(err, "retry job %s", job.Key)
	}
	return nil
}

func (q *Queue) outcome(o string) {
	if q.metrics != nil {
		q.metrics.JobOutcome(o)
	}
}

// rawPayload keeps JSON payloads readable on the record lists and wraps
// anything else as a JSON string.
func rawPayload(p []byte) json.RawMessage {
	if json.Valid(p) {
		return json.RawMessage(p)
	}
	quoted, _ := json.Marshal(string(p))
	return quoted
}
