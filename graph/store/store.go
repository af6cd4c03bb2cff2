// Package store provides checkpoint persistence for graph threads.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested thread or sequence number does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store is closed")

// Checkpoint sources that do not name a node.
const (
	// SourceInput marks the caller-supplied initial state (sequence 0).
	SourceInput = "__input__"

	// SourceUpdate marks a state produced by merging an injected update
	// between runs, without executing a node.
	SourceUpdate = "__update__"

	// SourceFork marks the first checkpoint of a thread copied from another
	// thread's history.
	SourceFork = "__fork__"
)

// Checkpoint is an immutable snapshot of a thread's state and its pending
// next node.
//
// Checkpoints are addressed by (ThreadID, Seq). Sequence numbers start at 0
// and increase by exactly one per append; a store never overwrites an
// existing sequence number.
type Checkpoint[S any] struct {
	// ThreadID identifies the thread this checkpoint belongs to.
	ThreadID string `json:"thread_id"`

	// Seq is the per-thread sequence number.
	Seq int `json:"seq"`

	// State is the merged state after Source ran.
	State S `json:"state"`

	// Source is the node that produced State, or SourceInput / SourceUpdate.
	Source string `json:"source"`

	// Next is the node that will run when the thread resumes.
	Next string `json:"next"`

	// Digest is a content hash over Next and State. Two checkpoints with the
	// same pending node and identical state have the same digest regardless
	// of thread, sequence number or creation time.
	Digest string `json:"digest"`

	// CreatedAt is when the checkpoint was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists the append-only checkpoint log of every thread.
//
// Implementations must serialize appends to the same thread so that
// sequence numbers are gapless, and must not block appends to unrelated
// threads on each other beyond what the backend itself requires.
//
// Type parameter S is the state type (must be JSON-serializable).
type Store[S any] interface {
	// Append records a new checkpoint for threadID and returns it with its
	// assigned sequence number, digest and timestamp.
	Append(ctx context.Context, threadID string, state S, source, next string) (Checkpoint[S], error)

	// Latest returns the checkpoint with the highest sequence number.
	// Returns ErrNotFound if the thread has no checkpoints.
	Latest(ctx context.Context, threadID string) (Checkpoint[S], error)

	// History returns every checkpoint of the thread, newest first.
	// Returns ErrNotFound if the thread has no checkpoints.
	History(ctx context.Context, threadID string) ([]Checkpoint[S], error)

	// Get returns a single checkpoint by sequence number.
	Get(ctx context.Context, threadID string, seq int) (Checkpoint[S], error)

	// Threads lists the ids of all threads with at least one checkpoint, sorted.
	Threads(ctx context.Context) ([]string, error)

	// Close releases backend resources. Further calls return ErrClosed.
	Close() error
}

// Digest computes the content hash stored in Checkpoint.Digest.
//
// The state is hashed through its JSON encoding, so it depends only on
// exported, serialized fields.
func Digest[S any](state S, next string) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(next))
	h.Write([]byte{0})
	h.Write(data)
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// newCheckpoint builds the checkpoint record shared by all backends.
func newCheckpoint[S any](threadID string, seq int, state S, source, next string, now time.Time) (Checkpoint[S], error) {
	digest, err := Digest(state, next)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	return Checkpoint[S]{
		ThreadID:  threadID,
		Seq:       seq,
		State:     state,
		Source:    source,
		Next:      next,
		Digest:    digest,
		CreatedAt: now.UTC(),
	}, nil
}

// snapshot returns a deep copy of state via a JSON round trip, so stored
// checkpoints never alias caller-owned slices or maps.
func snapshot[S any](state S) (S, error) {
	var out S
	data, err := json.Marshal(state)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
