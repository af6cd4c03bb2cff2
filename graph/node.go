package graph

import (
	"context"
	"fmt"
)

// Node is a single step of a graph.
//
// A node receives the current state and the thread's run configuration and
// returns a partial update of type U. It never returns a full state: the
// engine merges the update through the graph's Reducer.
//
// Returning a non-nil error aborts the current Start or Resume call without
// persisting anything for this step. Nodes that can recover from a fault
// should instead encode it in the update (for example as a message the next
// attempt can read).
//
// Type parameters: S is the state type, U the partial-update type.
type Node[S, U any] interface {
	Run(ctx context.Context, state S, cfg Config) (U, error)
}

// NodeFunc is a function adapter for Node.
//
// Example:
//
//	summarize := graph.NodeFunc[State, Update](func(ctx context.Context, s State, cfg graph.Config) (Update, error) {
//	    return Update{Summary: s.Text[:10]}, nil
//	})
type NodeFunc[S, U any] func(ctx context.Context, state S, cfg Config) (U, error)

// Run implements Node.
func (f NodeFunc[S, U]) Run(ctx context.Context, state S, cfg Config) (U, error) {
	return f(ctx, state, cfg)
}

// Reducer merges a node's partial update into the previous state.
//
// Reducers must be pure: they must not mutate prev or retain delta, and
// the same inputs must always yield the same output. The engine relies on
// this to make a checkpoint reproducible from its predecessor.
type Reducer[S, U any] func(prev S, delta U) S

// Config is the typed run configuration of a thread. It is passed to Start
// and Resume and handed unchanged to every node.
type Config struct {
	// ThreadID identifies the thread. Required.
	ThreadID string

	// K is the retrieval fan-out for nodes that look up similar examples.
	// Zero lets the node apply its default.
	K int
}

// NodeError wraps an error returned by a node.
type NodeError struct {
	NodeID   string
	ThreadID string
	Cause    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q failed on thread %q: %v", e.NodeID, e.ThreadID, e.Cause)
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}
