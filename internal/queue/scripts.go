package queue

import "github.com/redis/go-redis/v9"

const (
	fieldPayload   = "payload"
	fieldAttempts  = "attempts"
	fieldRunAt     = "run_at"
	fieldToken     = "token"
	fieldLastError = "last_error"
	fieldCreatedAt = "created_at"
)

// claimScript pops up to ARGV[2] due members from the delayed set and returns
// a flat array of key, payload, attempts, token, run_at per claimed job.
// ZREM is the ownership check: only the caller that removed a member runs it.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, key in ipairs(due) do
  if redis.call('ZREM', KEYS[1], key) == 1 then
    local f = redis.call('HMGET', ARGV[3] .. key, 'payload', 'attempts', 'token', 'run_at')
    table.insert(out, key)
    table.insert(out, f[1] or '')
    table.insert(out, f[2] or '0')
    table.insert(out, f[3] or '')
    table.insert(out, f[4] or '0')
  end
end
return out
`)

// finishScript archives a record and deletes the job hash, unless the job was
// rescheduled while running (token changed), in which case the newer job is
// left alone.
var finishScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') == ARGV[1] then
  redis.call('DEL', KEYS[1])
end
redis.call('LPUSH', KEYS[2], ARGV[2])
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[3]) - 1)
return 1
`)

// retryScript puts the job back on the delayed set at ARGV[3], unless it was
// rescheduled or cancelled while running.
var retryScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'attempts', ARGV[4], 'last_error', ARGV[5], 'run_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
return 1
`)
