package notify

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisHistory stores each owner's history in a capped Redis list.
type RedisHistory struct {
	client redis.UniversalClient
}

func NewRedisHistory(client redis.UniversalClient) *RedisHistory {
	return &RedisHistory{client: client}
}

func historyKey(ownerID string) string {
	return "alarms:history:" + ownerID
}

func (h *RedisHistory) Append(ctx context.Context, ownerID string, entry []byte, limit int) error {
	key := historyKey(ownerID)
	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, int64(limit)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "append %s", key)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context, ownerID string, limit int) ([][]byte, error) {
	raw, err := h.client.LRange(ctx, historyKey(ownerID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read history")
	}
	out := make([][]byte, len(raw))
	for i, r := range raw {
		out[i] = []byte(r)
	}
	return out, nil
}
