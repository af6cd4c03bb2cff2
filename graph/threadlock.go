package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Locker serializes work on a thread across processes. store.RedisLocker
// implements it.
type Locker interface {
	// Lock blocks until key is held or ctx ends. The returned function
	// releases the lock; a lock that is never released expires after ttl.
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// lockEntry is a per-thread mutex with a reference count so idle entries
// can be dropped from the table.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// threadLocks is a table of per-thread mutexes. Threads never share an
// entry, so work on one thread does not wait for another.
type threadLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry

	locker Locker
	ttl    time.Duration
	logger *slog.Logger
}

func newThreadLocks() *threadLocks {
	return &threadLocks{
		entries: make(map[string]*lockEntry),
		ttl:     5 * time.Minute,
		logger:  slog.Default(),
	}
}

func (t *threadLocks) acquire(threadID string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[threadID]
	if !ok {
		entry = &lockEntry{}
		t.entries[threadID] = entry
	}
	entry.refs++
	return entry
}

func (t *threadLocks) release(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[threadID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(t.entries, threadID)
	}
}

// active returns the number of threads currently holding or waiting for a lock.
func (t *threadLocks) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// withLock runs fn while holding the thread's local lock and, when
// configured, its distributed lock.
func (t *threadLocks) withLock(ctx context.Context, threadID string, fn func(context.Context) error) error {
	entry := t.acquire(threadID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		t.release(threadID)
	}()

	if t.locker != nil {
		unlock, err := t.locker.Lock(ctx, threadID, t.ttl)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			// Release even if ctx was cancelled during the step.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				t.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"thread_id", threadID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
