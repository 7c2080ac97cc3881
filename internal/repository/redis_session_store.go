package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore はRedisを使用したSessionStore実装。
// すべてのキーにprefixを付与する。
type RedisSessionStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisSessionStore はRedisSessionStoreを生成する。
func NewRedisSessionStore(client redis.Cmdable, prefix string) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) key(k string) string {
	return s.prefix + k
}

// Get は値を取得する。キーが存在しない場合はfalseを返す。
func (s *RedisSessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key: %w", err)
	}
	return val, true, nil
}

// Set はTTL付きで値を保存する。
func (s *RedisSessionStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Delete はキーを削除する。
func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// GetAndDelete はGETDELで値の取得と削除をアトミックに行う。
func (s *RedisSessionStore) GetAndDelete(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.GetDel(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to getdel key: %w", err)
	}
	return val, true, nil
}

// compile-time interface check
var _ SessionStore = (*RedisSessionStore)(nil)
