package schedindex

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "alarms:"

// RedisIndex keeps entries in a sorted set scored by trigger instant, with
// the metadata snapshot in a companion hash keyed by the same alarm id.
type RedisIndex struct {
	client  redis.UniversalClient
	zsetKey string
	metaKey string
}

func NewRedisIndex(client redis.UniversalClient) *RedisIndex {
	return NewRedisIndexWithPrefix(client, defaultKeyPrefix)
}

func NewRedisIndexWithPrefix(client redis.UniversalClient, prefix string) *RedisIndex {
	return &RedisIndex{
		client:  client,
		zsetKey: prefix + "schedule",
		metaKey: prefix + "schedule:meta",
	}
}

func (r *RedisIndex) Upsert(ctx context.Context, e Entry) error {
	meta, err := json.Marshal(e.Snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	member := e.AlarmID.String()
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, r.zsetKey, redis.Z{Score: float64(score(e.TriggerAt)), Member: member})
	pipe.HSet(ctx, r.metaKey, member, meta)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "upsert index entry %s", member)
	}
	return nil
}

// Remove deletes the entry. Removing an absent entry succeeds.
func (r *RedisIndex) Remove(ctx context.Context, id uuid.UUID) error {
	member := id.String()
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.zsetKey, member)
	pipe.HDel(ctx, r.metaKey, member)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "remove index entry %s", member)
	}
	return nil
}

// DueBefore returns ids whose trigger instant is at or before t, earliest
// first. A non-positive limit returns every due id.
func (r *RedisIndex) DueBefore(ctx context.Context, t time.Time, limit int) ([]uuid.UUID, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(score(t), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	members, err := r.client.ZRangeByScore(ctx, r.zsetKey, opt).Result()
	if err != nil {
		return nil, errors.Wrap(err, "range due entries")
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			// Foreign member; never written by Upsert.
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *RedisIndex) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	member := id.String()

	pipe := r.client.Pipeline()
	scoreCmd := pipe.ZScore(ctx, r.zsetKey, member)
	metaCmd := pipe.HGet(ctx, r.metaKey, member)
	_, _ = pipe.Exec(ctx)

	ms, err := scoreCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, errors.Wrapf(err, "get index entry %s", member)
	}

	e := Entry{AlarmID: id, TriggerAt: time.UnixMilli(int64(ms)).UTC()}

	raw, err := metaCmd.Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Entry without metadata; still a valid schedule.
	case err != nil:
		return Entry{}, errors.Wrapf(err, "get index metadata %s", member)
	default:
		if err := json.Unmarshal([]byte(raw), &e.Snapshot); err != nil {
			return Entry{}, errors.Wrapf(err, "decode index metadata %s", member)
		}
	}
	return e, nil
}

func (r *RedisIndex) Len(ctx context.Context) (int64, error) {
	n, err := r.client.ZCard(ctx, r.zsetKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "count index entries")
	}
	return n, nil
}
