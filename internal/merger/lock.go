package merger

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"csvpipe/internal/config"
	"csvpipe/internal/errs"
)

// DistributedLock serializes merges across multiple processes sharing one
// output path, backed by a Redis SET-NX-with-TTL lock. Grounded on the
// teacher's go-redis client setup (internal/comparator/simple.go) rather
// than its hand-rolled RESP client, since a single SETNX/DEL pair needs
// nothing beyond what go-redis already exposes.
type DistributedLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    int64 // seconds; the expiry Acquire sets on the key
}

// NewDistributedLock connects to the configured Redis instance. The caller
// must Close it when done.
func NewDistributedLock(cfg config.LockConfig, lockKey string) (*DistributedLock, error) {
	if cfg.Addr == "" {
		return nil, errs.New(component, errs.InvalidConfig, "lock.addr is required for a distributed lock")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &DistributedLock{client: client, key: lockKey, ttl: int64(cfg.TTL.Seconds())}, nil
}

// Acquire attempts to take the lock using the configured TTL, returning
// false (no error) if another process already holds it.
func (l *DistributedLock) Acquire(ctx context.Context, token string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, token, time.Duration(l.ttl)*time.Second).Result()
	if err != nil {
		return false, errs.Wrap(component, errs.IO, "acquire distributed lock "+l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release drops the lock, but only if it is still held by token — a stale
// caller whose TTL already expired and was reacquired elsewhere must not
// release someone else's lock.
func (l *DistributedLock) Release(ctx context.Context, token string) error {
	current, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return errs.Wrap(component, errs.IO, "release distributed lock "+l.key, err)
	}
	if current != token {
		return nil
	}
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return errs.Wrap(component, errs.IO, "delete distributed lock key "+l.key, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (l *DistributedLock) Close() error {
	return l.client.Close()
}
