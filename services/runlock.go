// services/runlock.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gewnthar/playsync/config"
)

// ErrSyncInProgress is returned when a data source already has a running sync.
var ErrSyncInProgress = errors.New("a sync is already running for this data source")

// ErrLockLost is returned by Extend once the lock has expired or been taken
// by another holder.
var ErrLockLost = errors.New("run lock no longer held")

// Lease is a held run lock.
type Lease interface {
	// Extend pushes the expiry ttl into the future.
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker provides the per-data-source run lock. Acquire reports ok=false
// without error when the lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another run is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds run locks in Redis so that several API replicas share them.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, cfg config.RedisConfig) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisLocker{client: client, prefix: cfg.KeyPrefix}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire run lock %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: full, token: token}, true, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend run lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release run lock %s: %w", l.key, err)
	}
	return nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// MemoryLocker is the single-process fallback used when Redis is not
// configured.
type MemoryLocker struct {
	mu     sync.Mutex
	held   map[string]time.Time
	tokens map[string]string
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), tokens: make(map[string]string), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.held[key]; ok && (expires.IsZero() || now.Before(expires)) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[key] = l.expiry(now, ttl)
	l.tokens[key] = token
	return &memoryLease{locker: l, key: key, token: token}, true, nil
}

// expiry returns the zero time for ttl <= 0, which holds the lock until it is
// released.
func (l *MemoryLocker) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (m *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	l := m.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	expires, ok := l.held[m.key]
	if !ok || l.tokens[m.key] != m.token || (!expires.IsZero() && !now.Before(expires)) {
		return ErrLockLost
	}
	l.held[m.key] = l.expiry(now, ttl)
	return nil
}

func (m *memoryLease) Release(context.Context) error {
	l := m.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tokens[m.key] == m.token {
		delete(l.held, m.key)
		delete(l.tokens, m.key)
	}
	return nil
}

// keepAlive extends lease every third of ttl until stop is called. A lost
// lock is logged once and ends the renewal.
func keepAlive(ctx context.Context, lease Lease, ttl time.Duration, log *zap.Logger) (stop func()) {
	if ttl <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := lease.Extend(ctx, ttl)
				switch {
				case err == nil:
				case errors.Is(err, ErrLockLost):
					log.Error("run lock lost; another sync may start", zap.Duration("ttl", ttl))
					return
				case ctx.Err() != nil:
					return
				default:
					log.Warn("failed to extend run lock", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
