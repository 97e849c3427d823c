package util

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RunLock guards a job that must never run twice at the same time.
// TryLock does not block: ok is false when someone else holds the lock.
type RunLock interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

// LocalLock 进程内锁，单实例部署时使用
type LocalLock struct {
	mu sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) TryLock(_ context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// 只删除自己持有的锁，防止 TTL 过期后误删别人的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 基于 SET NX PX 的分布式锁
type RedisLock struct {
	rdb    *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLock creates a lock on key. ttl bounds how long a crashed holder can block others.
func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisLock {
	return &RedisLock{
		rdb:    rdb,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

func (l *RedisLock) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// 使用独立 context：调用方的 context 可能已经取消
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release lock",
				zap.String("key", l.key),
				zap.Error(err),
			)
		}
	}
	return unlock, true, nil
}
