package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// allowScript performs the cooldown + rolling-window check and the fire
// record as one atomic step on the redis side. Keys:
//
//	KEYS[1] sorted set of fire timestamps (score = ms since epoch)
//
// Args: now ms, cooldown ms, max per hour, window ms. Returns 1 if the fire
// was recorded.
//
// History is trimmed and expired by the larger of the window and the
// cooldown: a cooldown longer than the quota window must still see the last
// fire, so the quota count uses a ZCOUNT over the window instead of trusting
// the trim.
var allowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local window = tonumber(ARGV[4])
local retain = window
if cooldown > retain then
  retain = cooldown
end

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - retain)

if cooldown > 0 then
  local last = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
  if #last > 0 and now - tonumber(last[2]) < cooldown then
    return 0
  end
end

if max > 0 and redis.call('ZCOUNT', KEYS[1], '(' .. (now - window), '+inf') >= max then
  return 0
end

redis.call('ZADD', KEYS[1], now, now .. '-' .. redis.call('INCR', KEYS[1] .. ':seq'))
redis.call('PEXPIRE', KEYS[1], retain)
redis.call('PEXPIRE', KEYS[1] .. ':seq', retain)
return 1
`)

// RedisStore is a Store backed by redis, for sites running more than one
// gateway against the same mesh. Keys expire with the rolling window, so no
// explicit pruning is needed.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "meshgate:ratelimit"}, nil
}

// Allow implements Store via the atomic server-side script.
func (s *RedisStore) Allow(ctx context.Context, ruleID, senderID string, cooldown time.Duration, maxPerHour int) (bool, error) {
	k := fmt.Sprintf("%s:%s:%s", s.prefix, ruleID, senderID)
	res, err := allowScript.Run(ctx, s.client, []string{k},
		time.Now().UnixMilli(),
		cooldown.Milliseconds(),
		maxPerHour,
		Window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit script: %w", err)
	}
	return res == 1, nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
