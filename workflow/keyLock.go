package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sekura/tollops_backend/config"
	"github.com/sirupsen/logrus"
)

var ErrLockNotObtained = errors.New("could not obtain ledger lock")

// Locker serializes mutations per ledger key. Keys are always taken in sorted
// order so two operations over the same pair of keys cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// canonicalKeys sorts and de-duplicates keys.
func canonicalKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// keyMutex is a one-slot semaphore so a waiter can give up when its context ends.
type keyMutex struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is a keyed mutex for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*keyMutex{}}
}

func (l *LocalLocker) acquire(ctx context.Context, key string) (*keyMutex, error) {
	l.mu.Lock()
	km := l.locks[key]
	if km == nil {
		km = &keyMutex{ch: make(chan struct{}, 1)}
		l.locks[key] = km
	}
	km.refs++
	l.mu.Unlock()

	select {
	case km.ch <- struct{}{}:
		return km, nil
	case <-ctx.Done():
		l.drop(key, km)
		return nil, ctx.Err()
	}
}

// drop forgets one reference and removes the entry once nobody holds or waits on it.
func (l *LocalLocker) drop(key string, km *keyMutex) {
	l.mu.Lock()
	km.refs--
	if km.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

func (l *LocalLocker) release(key string, km *keyMutex) {
	<-km.ch
	l.drop(key, km)
}

// Lock blocks until every key is held or ctx ends. On ctx end the keys taken
// so far are released and ctx.Err() is returned.
func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ordered := canonicalKeys(keys)
	held := make([]*keyMutex, 0, len(ordered))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(ordered[i], held[i])
		}
	}
	for _, k := range ordered {
		km, err := l.acquire(ctx, k)
		if err != nil {
			unlock()
			return nil, err
		}
		held = append(held, km)
	}
	return unlock, nil
}

// RedisLocker adds a cross-instance redislock on top of the local keyed mutex.
type RedisLocker struct {
	local  *LocalLocker
	client *redislock.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration, logger *logrus.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{local: NewLocalLocker(), client: client, ttl: ttl, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	ordered := canonicalKeys(keys)
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
	}
	held := make([]*redislock.Lock, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.WithFields(logrus.Fields{
					"field": "RedisLocker",
					"key":   held[i].Key(),
				}).Warn("failed to release redis lock: " + err.Error())
			}
		}
		unlockLocal()
	}
	for _, k := range ordered {
		lock, err := l.client.Obtain(ctx, "ledger:"+k, l.ttl, opts)
		if err == redislock.ErrNotObtained {
			config.LogError(l.logger, "keyLock.go", "RedisLocker.Lock", "Could not obtain lock", k, err)
			releaseAll()
			return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, k)
		} else if err != nil {
			config.LogError(l.logger, "keyLock.go", "RedisLocker.Lock", "Error obtaining lock", k, err)
			releaseAll()
			return nil, err
		}
		held = append(held, lock)
	}
	return releaseAll, nil
}

// NewLocker picks the redis locker when distributed locks are enabled and redis is connected.
func NewLocker(logger *logrus.Logger) Locker {
	if config.DistributedLocksEnabled() {
		if client := config.GetRedisLock(); client != nil {
			return NewRedisLocker(client, 30*time.Second, logger)
		}
		logger.WithFields(logrus.Fields{"field": "NewLocker"}).Warn("DISTRIBUTED_LOCKS set but redis lock not ready; using in-process locks")
	}
	return NewLocalLocker()
}
