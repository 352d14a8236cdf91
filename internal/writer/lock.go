package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyedMutex provides one mutex per key. Entries are dropped once no caller
// holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the function that releases it
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or waited on
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Locker provides cross-process mutual exclusion for shared artifacts
type Locker interface {
	// Acquire blocks until key is held or ctx is done. The returned function
	// releases the lock.
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// ErrLockNotHeld is returned when releasing a lock whose token no longer
// matches, typically because its TTL expired
var ErrLockNotHeld = errors.New("lock not held")

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// RedisLockerConfig holds configuration for the Redis locker
type RedisLockerConfig struct {
	// Client is the Redis client to use
	Client *redis.Client
	// TTL bounds how long a crashed holder can keep the lock
	TTL time.Duration
	// Retry is the delay between acquisition attempts
	Retry time.Duration
	// Prefix is the key prefix for Redis keys
	Prefix string
}

// DefaultRedisLockerConfig returns a default Redis locker configuration
func DefaultRedisLockerConfig(client *redis.Client) RedisLockerConfig {
	return RedisLockerConfig{
		Client: client,
		TTL:    30 * time.Second,
		Retry:  50 * time.Millisecond,
		Prefix: "svcgen:lock:",
	}
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(config RedisLockerConfig) (*RedisLocker, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.TTL <= 0 {
		return nil, errors.New("ttl must be greater than 0")
	}
	if config.Retry <= 0 {
		return nil, errors.New("retry must be greater than 0")
	}

	return &RedisLocker{
		client: config.Client,
		ttl:    config.TTL,
		retry:  config.Retry,
		prefix: config.Prefix,
	}, nil
}

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Acquire implements Locker
func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Int()
		if err != nil {
			return fmt.Errorf("redis unlock %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("redis unlock %s: %w", key, ErrLockNotHeld)
		}
		return nil
	}, nil
}
