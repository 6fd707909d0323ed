package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries as JSON strings with a PX expiry and the tag index
// as Redis sets.
//
// Invalidation reads a tag's members and deletes them in a second step; a
// response written between the two steps survives until its TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a store whose keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cache:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) entryKey(key string) string { return s.prefix + "entry:" + key }
func (s *RedisStore) tagKey(tag string) string   { return s.prefix + "tag:" + tag }

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	if !e.Fresh(s.now()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry, tags ...string) error {
	ttl := e.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	ek := s.entryKey(key)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, ek, raw, ttl)
		for _, t := range tags {
			tk := s.tagKey(t)
			p.SAdd(ctx, tk, ek)
			p.PExpire(ctx, tk, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.entryKey(key)).Err()
}

func (s *RedisStore) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	total := 0
	for _, t := range tags {
		tk := s.tagKey(t)
		members, err := s.client.SMembers(ctx, tk).Result()
		if err != nil {
			return total, fmt.Errorf("cache: redis smembers: %w", err)
		}
		keys := append(members, tk)
		n, err := s.client.Del(ctx, keys...).Result()
		if err != nil {
			return total, fmt.Errorf("cache: redis del: %w", err)
		}
		// the tag set itself is counted by DEL when it existed
		if len(members) > 0 {
			n--
		}
		total += int(n)
	}
	return total, nil
}
