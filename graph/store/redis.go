package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore implements Store[S] on Redis.
//
// Each thread is one list; RPUSH returns the new length, which makes the
// sequence number assignment atomic without any client-side locking.
// A set indexes known thread ids.
//
// Keys:
//   - <prefix>thread:<id>  list of JSON checkpoints, index == seq
//   - <prefix>threads      set of thread ids
type RedisStore[S any] struct {
	client *backend.Client
	prefix string
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
}

// WithKeyPrefix sets the key prefix. Default "solvegraph:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// NewRedisStore creates a store connected to addr.
func NewRedisStore[S any](addr, password string, db int, opts ...RedisOption) *RedisStore[S] {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient[S](client, opts...)
}

// NewRedisStoreFromClient creates a store on an existing client. Close
// closes the client.
func NewRedisStoreFromClient[S any](client *backend.Client, opts ...RedisOption) *RedisStore[S] {
	o := redisOptions{prefix: "solvegraph:"}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[S]{
		client: client,
		prefix: o.prefix,
		now:    time.Now,
	}
}

func (r *RedisStore[S]) threadKey(threadID string) string {
	return r.prefix + "thread:" + threadID
}

func (r *RedisStore[S]) indexKey() string {
	return r.prefix + "threads"
}

func (r *RedisStore[S]) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

// Append implements Store.
func (r *RedisStore[S]) Append(ctx context.Context, threadID string, state S, source, next string) (Checkpoint[S], error) {
	if err := r.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}
	stored, err := snapshot(state)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to copy state: %w", err)
	}
	// Seq is unknown until RPUSH returns; it is derived from the list index on read.
	cp, err := newCheckpoint(threadID, 0, stored, source, next, r.now())
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to digest state: %w", err)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	var push *backend.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		push = pipe.RPush(ctx, r.threadKey(threadID), data)
		pipe.SAdd(ctx, r.indexKey(), threadID)
		return nil
	})
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to append to redis: %w", err)
	}
	cp.Seq = int(push.Val()) - 1
	return cp, nil
}

func (r *RedisStore[S]) decode(threadID string, seq int, raw string) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	cp.ThreadID = threadID
	cp.Seq = seq
	return cp, nil
}

// Latest implements Store.
func (r *RedisStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := r.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}
	var (
		n    *backend.IntCmd
		last *backend.StringCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		n = pipe.LLen(ctx, r.threadKey(threadID))
		last = pipe.LIndex(ctx, r.threadKey(threadID), -1)
		return nil
	})
	if errors.Is(err, backend.Nil) || (err == nil && n.Val() == 0) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load latest from redis: %w", err)
	}
	return r.decode(threadID, int(n.Val())-1, last.Val())
}

// History implements Store.
func (r *RedisStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := r.client.LRange(ctx, r.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history from redis: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Checkpoint[S], 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		cp, err := r.decode(threadID, i, raw[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Get implements Store.
func (r *RedisStore[S]) Get(ctx context.Context, threadID string, seq int) (Checkpoint[S], error) {
	if err := r.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}
	if seq < 0 {
		return Checkpoint[S]{}, ErrNotFound
	}
	raw, err := r.client.LIndex(ctx, r.threadKey(threadID), int64(seq)).Result()
	if errors.Is(err, backend.Nil) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}
	return r.decode(threadID, seq, raw)
}

// Threads implements Store.
func (r *RedisStore[S]) Threads(ctx context.Context) ([]string, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (r *RedisStore[S]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// Ping verifies the Redis connection is alive.
func (r *RedisStore[S]) Ping(ctx context.Context) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.client.Ping(ctx).Err()
}
