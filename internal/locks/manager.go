// Package locks provides the run-level locking that enforces the
// one-active-runner-per-runId rule for backfills. When Redis is
// configured the lock is distributed across instances with automatic
// renewal; without Redis a process-local lock table provides the same
// guarantee for a single instance.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RedisLockClient defines the interface the manager needs from Redis.
type RedisLockClient interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	ExtendLock(ctx context.Context, key string, expiration time.Duration) error
}

// Lock is a held run lock. Release it when the run finishes.
type Lock interface {
	// Key returns the unique identifier for this lock.
	Key() string

	// Release explicitly releases the lock, stopping automatic renewal.
	// The lock must not be used after calling Release.
	Release(ctx context.Context) error

	// IsHeld reports whether the lock is still held by this instance.
	// Checks local state only, no Redis round trip.
	IsHeld() bool
}

// Manager hands out run locks. Safe for concurrent use.
type Manager struct {
	redis      RedisLockClient // nil means process-local locking only
	localLocks map[string]*localLock
	mutex      sync.Mutex
}

type localLock struct {
	manager    *Manager
	key        string
	expiration time.Duration
	held       bool
	heldMu     sync.Mutex
	cancel     context.CancelFunc
}

// NewManager creates a lock manager. Pass nil to operate without Redis;
// locks then only exclude runners within this process.
func NewManager(redisClient RedisLockClient) *Manager {
	return &Manager{
		redis:      redisClient,
		localLocks: make(map[string]*localLock),
	}
}

// AcquireLock attempts to acquire the lock for key. Returns an error when
// another holder already has it. With Redis configured, a background
// goroutine renews the lock at a third of the expiration interval so
// long runs don't lose it mid-flight.
func (m *Manager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	m.mutex.Lock()
	if _, exists := m.localLocks[key]; exists {
		m.mutex.Unlock()
		return nil, fmt.Errorf("lock %s already held by this process", key)
	}

	lock := &localLock{
		manager:    m,
		key:        key,
		expiration: expiration,
		held:       true,
	}
	m.localLocks[key] = lock
	m.mutex.Unlock()

	if m.redis != nil {
		acquired, err := m.redis.AcquireLock(ctx, key, expiration)
		if err != nil || !acquired {
			m.mutex.Lock()
			delete(m.localLocks, key)
			m.mutex.Unlock()

			if err != nil {
				return nil, fmt.Errorf("failed to acquire distributed lock: %w", err)
			}
			return nil, fmt.Errorf("lock %s already held by another process", key)
		}

		renewCtx, cancel := context.WithCancel(context.Background())
		lock.cancel = cancel
		go m.renewLock(renewCtx, lock)
	}

	return lock, nil
}

// renewLock extends the distributed lock before it expires. If renewal
// fails the lock is released locally; the holder observes this through
// IsHeld.
func (m *Manager) renewLock(ctx context.Context, lock *localLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := m.redis.ExtendLock(extendCtx, lock.key, lock.expiration)
			cancel()

			if err != nil {
				m.drop(lock)
				return
			}
		}
	}
}

// drop removes a lock from local tracking and marks it lost.
func (m *Manager) drop(lock *localLock) {
	m.mutex.Lock()
	delete(m.localLocks, lock.key)
	m.mutex.Unlock()

	lock.heldMu.Lock()
	lock.held = false
	lock.heldMu.Unlock()

	if lock.cancel != nil {
		lock.cancel()
	}
}

// Close releases all locks held by this manager.
func (m *Manager) Close() error {
	m.mutex.Lock()
	held := make([]*localLock, 0, len(m.localLocks))
	for _, lock := range m.localLocks {
		held = append(held, lock)
	}
	m.mutex.Unlock()

	for _, lock := range held {
		_ = lock.Release(context.Background())
	}
	return nil
}

func (l *localLock) Key() string {
	return l.key
}

func (l *localLock) Release(ctx context.Context) error {
	l.heldMu.Lock()
	if !l.held {
		l.heldMu.Unlock()
		return nil
	}
	l.held = false
	l.heldMu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}

	l.manager.mutex.Lock()
	delete(l.manager.localLocks, l.key)
	l.manager.mutex.Unlock()

	if l.manager.redis != nil {
		if err := l.manager.redis.ReleaseLock(ctx, l.key); err != nil {
			return fmt.Errorf("failed to release distributed lock: %w", err)
		}
	}

	return nil
}

func (l *localLock) IsHeld() bool {
	l.heldMu.Lock()
	defer l.heldMu.Unlock()
	return l.held
}
