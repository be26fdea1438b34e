package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Trim evicts records older than their retention from the completed and
// failed lists, and deletes job hashes abandoned by crashed workers.
func (q *Queue) Trim(ctx context.Context) error {
	now := q.clock()

	completed, err := q.trimList(ctx, q.completedKey, now.Add(-q.cfg.CompletedTTL))
	if err != nil {
		return err
	}
	failed, err := q.trimList(ctx, q.failedKey, now.Add(-q.cfg.FailedTTL))
	if err != nil {
		return err
	}
	orphans, err := q.removeOrphans(ctx, now.Add(-q.cfg.OrphanAge))
	if err != nil {
		return err
	}

	if completed+failed+orphans > 0 {
		q.logger.Infow("janitor evicted records",
			"completed", completed,
			"failed", failed,
			"orphans", orphans,
		)
	}
	return nil
}

// trimList cuts a most-recent-first record list at the first record finished
// before cutoff.
func (q *Queue) trimList(ctx context.Context, listKey string, cutoff time.Time) (int, error) {
	raw, err := q.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", listKey)
	}

	keep := len(raw)
	for i, r := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		if rec.FinishedAt.Before(cutoff) {
			keep = i
			break
		}
	}
	if keep == len(raw) {
		return 0, nil
	}

	if keep == 0 {
		err = q.client.Del(ctx, listKey).Err()
	} else {
		err = q.client.LTrim(ctx, listKey, 0, int64(keep)-1).Err()
	}
	if err != nil {
		return 0, errors.Wrapf(err, "trim %s", listKey)
	}
	return len(raw) - keep, nil
}

// removeOrphans deletes job hashes that are not on the delayed set and whose
// run-at is older than cutoff. Those were claimed by a worker that never
// finished them.
func (q *Queue) removeOrphans(ctx context.Context, cutoff time.Time) (int, error) {
	pattern := q.cfg.KeyPrefix + "job:*"
	prefixLen := len(q.cfg.KeyPrefix + "job:")
	removed := 0

	iter := q.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		hash := iter.Val()
		key := hash[prefixLen:]

		_, err := q.client.ZScore(ctx, q.delayedKey, key).Result()
		if err == nil {
			continue
		}
		if !errors.Is(err, redis.Nil) {
			return removed, errors.Wrapf(err, "lookup job %s", key)
		}

		runAt, err := q.client.HGet(ctx, hash, fieldRunAt).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return removed, errors.Wrapf(err, "read job %s", key)
		}
		ms, _ := strconv.ParseInt(runAt, 10, 64)
		if !time.UnixMilli(ms).Before(cutoff) {
			continue
		}

		if err := q.client.Del(ctx, hash).Err(); err != nil {
			return removed, errors.Wrapf(err, "delete orphan %s", key)
		}
		q.logger.Warnw("removed orphaned job", "key", key)
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, errors.Wrap(err, "scan job hashes")
	}
	return removed, nil
}
