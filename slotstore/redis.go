package slotstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts keep the compare-and-set operations atomic on the server side.
// EVALSHA is handled transparently by go-redis, the script body is only sent
// once per connection.
var (
	releaseIfValueScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshIfValueScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	adjustCounterScript = redis.NewScript(`
local value = redis.call("INCRBY", KEYS[1], ARGV[1])
if value < 0 then
	redis.call("SET", KEYS[1], "0")
	value = 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return value`)
)

// RedisStore implements Store on a single redis instance.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapErr("setnx", key, err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseIfValue(ctx context.Context, key string, value string) (bool, error) {
	deleted, err := releaseIfValueScript.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, wrapErr("release", key, err)
	}
	return deleted == 1, nil
}

func (s *RedisStore) RefreshIfValue(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	refreshed, err := refreshIfValueScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, wrapErr("refresh", key, err)
	}
	return refreshed == 1, nil
}

func (s *RedisStore) AdjustCounterWithFloor(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	value, err := adjustCounterScript.Run(ctx, s.client, []string{key}, delta, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, wrapErr("adjust counter", key, err)
	}
	return value, nil
}

func (s *RedisStore) GetCounter(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapErr("get counter", key, err)
	}
	return value, nil
}

func (s *RedisStore) RefreshTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return false, wrapErr("pexpire", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return wrapErr("del", key, err)
	}
	return nil
}

func (s *RedisStore) AddToSet(ctx context.Context, key string, member string) error {
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return wrapErr("sadd", key, err)
	}
	return nil
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, key string, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return wrapErr("srem", key, err)
	}
	return nil
}

func (s *RedisStore) ScanSet(ctx context.Context, key string, cursor uint64, count int64) ([]string, uint64, error) {
	members, next, err := s.client.SScan(ctx, key, cursor, "", count).Result()
	if err != nil {
		return nil, 0, wrapErr("sscan", key, err)
	}
	return members, next, nil
}

func (s *RedisStore) CountSet(ctx context.Context, key string) (int64, error) {
	count, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("scard", key, err)
	}
	return count, nil
}

func wrapErr(op string, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", op, key, ErrStoreUnavailable, err)
}
