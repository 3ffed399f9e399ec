package ephemeral

import (
	"context"
	"errors"
	"time"

	"nearby/cmd/internal/errs"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store backed by a Redis server.
//
// Ownership model: the store owns the client and closes it in Close.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an already configured client.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("ephemeral: nil redis client")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return errs.Unavailable("redis.SET", s.client.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Unavailable("redis.GET", err)
	}
	return b, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, errs.Unavailable("redis.DEL", err)
	}
	return n > 0, nil
}

func (s *RedisStore) AddToSet(ctx context.Context, setKey, member string) error {
	return errs.Unavailable("redis.SADD", s.client.SAdd(ctx, setKey, member).Err())
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, setKey string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return errs.Unavailable("redis.SREM", s.client.SRem(ctx, setKey, args...).Err())
}

func (s *RedisStore) Members(ctx context.Context, setKey string) ([]string, error) {
	out, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, errs.Unavailable("redis.SMEMBERS", err)
	}
	return out, nil
}

func (s *RedisStore) PushFront(ctx context.Context, listKey string, value []byte) error {
	return errs.Unavailable("redis.LPUSH", s.client.LPush(ctx, listKey, value).Err())
}

func (s *RedisStore) Trim(ctx context.Context, listKey string, maxLen int) error {
	if maxLen <= 0 {
		return errs.Unavailable("redis.DEL", s.client.Del(ctx, listKey).Err())
	}
	return errs.Unavailable("redis.LTRIM", s.client.LTrim(ctx, listKey, 0, int64(maxLen-1)).Err())
}

func (s *RedisStore) RefreshExpiry(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return errs.Unavailable("redis.DEL", s.client.Del(ctx, key).Err())
	}
	return errs.Unavailable("redis.EXPIRE", s.client.Expire(ctx, key, ttl).Err())
}

func (s *RedisStore) Range(ctx context.Context, listKey string, start, end int) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, listKey, int64(start), int64(end)).Result()
	if err != nil {
		return nil, errs.Unavailable("redis.LRANGE", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return errs.Unavailable("redis.PING", s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error { return s.client.Close() }
