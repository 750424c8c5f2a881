package checkpoint

import (
	"context"
	"time"

	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
	"github.com/alena-kono/ugc-service-2/pkg/redis"
)

// KV is the part of the Redis client the store uses.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisStore keeps the watermark under one Redis key.
type RedisStore struct {
	kv  KV
	key string
}

func NewRedisStore(kv KV, prefix string) *RedisStore {
	return &RedisStore{kv: kv, key: Key(prefix)}
}

func (s *RedisStore) Read(ctx context.Context) (time.Time, error) {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if redis.IsNilError(err) {
			return Epoch, nil
		}
		return time.Time{}, apperrors.Unavailable("redis get "+s.key, err)
	}
	return parse(raw)
}

func (s *RedisStore) Write(ctx context.Context, mark time.Time) error {
	if err := s.kv.Set(ctx, s.key, format(mark), 0); err != nil {
		return apperrors.Unavailable("redis set "+s.key, err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.kv.Del(ctx, s.key); err != nil {
		return apperrors.Unavailable("redis del "+s.key, err)
	}
	return nil
}
