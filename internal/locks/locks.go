// Package locks provides the per-course advisory lock taken while a course is published
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Release frees a held lock
type Release func()

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// redisLocker takes locks with SETNX so that API and worker processes exclude each other
type redisLocker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisLocker creates a locker backed by redis keys named prefix + key
func NewRedisLocker(client *redis.Client, prefix string, logger *zap.Logger) *redisLocker {
	return &redisLocker{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// TryLock takes the lock for ttl. It returns false when another holder owns it.
func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	name := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to take lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		l.release(name, token)
	}
	return release, true, nil
}

// release deletes the key if it still holds token. A failed release leaves the key to expire.
func (l *redisLocker) release(name, token string) {
	if err := releaseScript.Run(context.Background(), l.client, []string{name}, token).Err(); err != nil && err != redis.Nil {
		l.logger.Warn("failed to release lock", zap.String("key", name), zap.Error(err))
	}
}

// localLocker takes locks held in process memory. Expired locks are taken over.
type localLocker struct {
	mu    sync.Mutex
	held  map[string]localLock
	now   func() time.Time
	token uint64
}

type localLock struct {
	token   uint64
	expires time.Time
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *localLocker {
	return &localLocker{
		held: make(map[string]localLock),
		now:  time.Now,
	}
}

// TryLock takes the lock for ttl. It returns false when another holder owns it.
func (l *localLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lock, ok := l.held[key]; ok && now.Before(lock.expires) {
		return nil, false, nil
	}

	l.token++
	token := l.token
	l.held[key] = localLock{token: token, expires: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lock, ok := l.held[key]; ok && lock.token == token {
			delete(l.held, key)
		}
	}
	return release, true, nil
}
