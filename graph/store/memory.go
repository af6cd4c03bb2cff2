package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// Each thread owns its own log and mutex, so appends to one thread never
// wait on another. The thread table itself is guarded by a RWMutex that is
// only held long enough to find or create a log.
//
// States are deep-copied on append and on read; callers can never mutate a
// stored checkpoint.
//
// Data is lost when the process terminates. Use SQLiteStore, MySQLStore,
// PostgresStore or RedisStore for durable history.
type MemStore[S any] struct {
	mu      sync.RWMutex
	threads map[string]*memLog[S]
	closed  bool
	now     func() time.Time
}

type memLog[S any] struct {
	mu      sync.Mutex
	entries []Checkpoint[S]
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore[state.Record]()
//	engine := graph.New(g, state.Merge, st)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		threads: make(map[string]*memLog[S]),
		now:     time.Now,
	}
}

// log returns the thread's log, creating it when create is true.
func (m *MemStore[S]) log(threadID string, create bool) (*memLog[S], error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	l, ok := m.threads[threadID]
	m.mu.RUnlock()
	if ok || !create {
		return l, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if l, ok = m.threads[threadID]; !ok {
		l = &memLog[S]{}
		m.threads[threadID] = l
	}
	return l, nil
}

// Append implements Store.
func (m *MemStore[S]) Append(_ context.Context, threadID string, state S, source, next string) (Checkpoint[S], error) {
	copied, err := snapshot(state)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to copy state: %w", err)
	}
	l, err := m.log(threadID, true)
	if err != nil {
		return Checkpoint[S]{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cp, err := newCheckpoint(threadID, len(l.entries), copied, source, next, m.now())
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to digest state: %w", err)
	}
	l.entries = append(l.entries, cp)
	return m.export(cp)
}

// Latest implements Store.
func (m *MemStore[S]) Latest(_ context.Context, threadID string) (Checkpoint[S], error) {
	l, err := m.log(threadID, false)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	if l == nil {
		return Checkpoint[S]{}, ErrNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Checkpoint[S]{}, ErrNotFound
	}
	return m.export(l.entries[len(l.entries)-1])
}

// History implements Store.
func (m *MemStore[S]) History(_ context.Context, threadID string) ([]Checkpoint[S], error) {
	l, err := m.log(threadID, false)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil, ErrNotFound
	}

	out := make([]Checkpoint[S], 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		cp, err := m.export(l.entries[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Get implements Store.
func (m *MemStore[S]) Get(_ context.Context, threadID string, seq int) (Checkpoint[S], error) {
	l, err := m.log(threadID, false)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	if l == nil {
		return Checkpoint[S]{}, ErrNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < 0 || seq >= len(l.entries) {
		return Checkpoint[S]{}, ErrNotFound
	}
	return m.export(l.entries[seq])
}

// Threads implements Store.
func (m *MemStore[S]) Threads(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store. The in-memory history is discarded.
func (m *MemStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.threads = nil
	return nil
}

// export hands out a copy so readers cannot reach stored slices.
func (m *MemStore[S]) export(cp Checkpoint[S]) (Checkpoint[S], error) {
	st, err := snapshot(cp.State)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to copy state: %w", err)
	}
	cp.State = st
	return cp, nil
}
