// Package lock 按用户串行化签到请求
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/occupancy"
)

const keyPrefix = "ezpark:occupant-lock:"

// 仅当锁仍属于自己时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 Redis SET NX PX 的用户锁
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewRedisLocker 创建 Redis 锁
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  25 * time.Millisecond,
		logger: logger,
	}
}

// Lock 获取用户锁，在 wait 内拿不到返回 occupancy.ErrOccupantBusy
func (l *RedisLocker) Lock(ctx context.Context, occupantID string) (func(), error) {
	key := keyPrefix + occupantID
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	backoff := l.retry

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("acquire occupant lock: %w", err)
		}
		if ok {
			return l.unlocker(key, token), nil
		}

		if time.Now().Add(backoff).After(deadline) {
			return nil, occupancy.ErrOccupantBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

func (l *RedisLocker) unlocker(key, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			// 释放失败时锁会在 TTL 后自动过期
			l.logger.Warn("Failed to release occupant lock", zap.String("key", key), zap.Error(err))
		}
	}
}

// NopLocker 未配置 Redis 时使用，唯一约束仍由数据库保证
type NopLocker struct{}

// Lock 总是成功
func (NopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
