package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// takeScript evicts, checks, and records in one round trip. Scores are unix
// milliseconds. Returns {allowed, count, oldest_ms}.
var takeScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max    = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then oldest = tonumber(first[2]) end
if count >= max then
  return {0, count, oldest}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, oldest}
`)

// RedisStore keeps windows in Redis sorted sets so every instance shares them.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store whose keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key}, nowMs, window.Milliseconds(), max, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis take: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	return decide(int(res[1]), max, time.UnixMilli(res[2]), now, window, res[0] == 1), nil
}

func (s *RedisStore) Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	k := s.prefix + key
	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprint(now.Add(-window).UnixMilli()))
		card = p.ZCard(ctx, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis count: %w", err)
	}
	return int(card.Val()), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Sweep is a no-op: every window carries a PEXPIRE equal to its duration.
func (s *RedisStore) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, nil
}
