// Package graph provides a resumable graph execution engine.
package graph

import (
	"errors"
	"fmt"
)

// ErrUnknownThread matches any *UnknownThreadError via errors.Is.
var ErrUnknownThread = errors.New("unknown thread")

// ErrThreadExists is returned by Start when the thread already has checkpoints.
// Use Resume to continue an existing thread.
var ErrThreadExists = errors.New("thread already exists")

// ErrInvalidGraph matches any *InvalidGraphError via errors.Is.
var ErrInvalidGraph = errors.New("invalid graph")

// ErrMaxStepsExceeded indicates that one Start or Resume call executed the
// maximum allowed number of nodes without halting. This usually means a
// cycle has no interrupt point and no terminal route.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// InvalidGraphError reports a malformed graph definition: a dangling edge
// or router target, an unreachable node, a missing start node, or a router
// returning an undeclared name at run time.
type InvalidGraphError struct {
	// Node is the node the problem was found at, if any.
	Node string

	// Reason describes the problem.
	Reason string
}

func (e *InvalidGraphError) Error() string {
	if e.Node == "" {
		return "invalid graph: " + e.Reason
	}
	return fmt.Sprintf("invalid graph: node %q: %s", e.Node, e.Reason)
}

// Is reports whether target is ErrInvalidGraph.
func (e *InvalidGraphError) Is(target error) bool {
	return target == ErrInvalidGraph
}

// UnknownThreadError is returned by Resume, History and Latest when the
// thread has no checkpoints.
type UnknownThreadError struct {
	ThreadID string
}

func (e *UnknownThreadError) Error() string {
	return fmt.Sprintf("unknown thread %q", e.ThreadID)
}

// Is reports whether target is ErrUnknownThread.
func (e *UnknownThreadError) Is(target error) bool {
	return target == ErrUnknownThread
}

// EngineError represents an engine-level failure that is not attributable
// to a node, such as a store failure or an exceeded step limit.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}
