package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/solvegraph/graph/emit"
	"github.com/dshills/solvegraph/graph/store"
)

// HaltReason tells the caller why a Start or Resume call returned.
type HaltReason string

const (
	// HaltTerminal means the pending node is End; the thread is finished.
	HaltTerminal HaltReason = "terminal"

	// HaltInterrupted means an interrupt point ran and the engine is waiting
	// for the caller to Resume.
	HaltInterrupted HaltReason = "interrupted"
)

// RunResult reports where a thread stopped.
type RunResult[S any] struct {
	ThreadID string
	State    S

	// Seq is the sequence number of the thread's latest checkpoint.
	Seq int

	// Next is the pending node (End for a terminal thread).
	Next string

	Halt HaltReason
}

// Engine executes a compiled Graph against per-thread checkpoint logs.
//
// Every node execution is one unit of work: load the thread's latest
// checkpoint, run its pending node, merge the update with the Reducer,
// compute the successor and append a new checkpoint. The unit runs under a
// per-thread lock, so concurrent calls on one thread produce a linear
// history while unrelated threads proceed independently.
//
// The engine never retries a node. A node error aborts the call and leaves
// the thread at its last checkpoint; callers retry by calling Resume.
//
// Type parameters: S is the state type, U the partial-update type.
type Engine[S, U any] struct {
	graph   *Graph[S, U]
	reducer Reducer[S, U]
	store   store.Store[S]

	emitter  emit.Emitter
	metrics  *PrometheusMetrics
	logger   *slog.Logger
	maxSteps int
	locks    *threadLocks
}

// New creates an engine for g.
//
// Example:
//
//	st := store.NewMemStore[state.Record]()
//	engine := graph.New(g, state.Merge, st, graph.WithEmitter(emitter))
//	res, err := engine.Start(ctx, initial, graph.Config{ThreadID: "p1", K: 2})
func New[S, U any](g *Graph[S, U], reducer Reducer[S, U], st store.Store[S], opts ...Option) *Engine[S, U] {
	cfg := engineConfig{maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.emitter == nil {
		cfg.emitter = emit.NewNullEmitter()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	locks := newThreadLocks()
	locks.locker = cfg.locker
	locks.logger = cfg.logger
	if cfg.lockTTL > 0 {
		locks.ttl = cfg.lockTTL
	}

	return &Engine[S, U]{
		graph:    g,
		reducer:  reducer,
		store:    st,
		emitter:  cfg.emitter,
		metrics:  cfg.metrics,
		logger:   cfg.logger,
		maxSteps: cfg.maxSteps,
		locks:    locks,
	}
}

// Graph returns the compiled graph the engine runs.
func (e *Engine[S, U]) Graph() *Graph[S, U] {
	return e.graph
}

// Store returns the checkpoint store.
func (e *Engine[S, U]) Store() store.Store[S] {
	return e.store
}

func (e *Engine[S, U]) validate(cfg Config) error {
	switch {
	case e.graph == nil:
		return &EngineError{Message: "graph is required", Code: "MISSING_GRAPH"}
	case e.reducer == nil:
		return &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	case e.store == nil:
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	case cfg.ThreadID == "":
		return &EngineError{Message: "thread id is required", Code: "MISSING_THREAD_ID"}
	}
	return nil
}

// Start creates the thread with initial as checkpoint 0, pending at the
// start node, and runs until the thread halts.
//
// Returns ErrThreadExists if the thread already has checkpoints.
func (e *Engine[S, U]) Start(ctx context.Context, initial S, cfg Config) (RunResult[S], error) {
	if err := e.validate(cfg); err != nil {
		return RunResult[S]{}, err
	}

	err := e.withLock(ctx, cfg.ThreadID, func(ctx context.Context) error {
		_, err := e.store.Latest(ctx, cfg.ThreadID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %q", ErrThreadExists, cfg.ThreadID)
		case !errors.Is(err, store.ErrNotFound):
			return storeError("failed to check thread", err)
		}

		cp, err := e.store.Append(ctx, cfg.ThreadID, initial, store.SourceInput, e.graph.Start())
		if err != nil {
			return storeError("failed to save initial state", err)
		}
		e.metrics.IncrementCheckpoints(store.SourceInput)
		e.emitter.Emit(emit.Event{
			ThreadID: cfg.ThreadID,
			Seq:      cp.Seq,
			Msg:      emit.MsgThreadStarted,
			Meta:     map[string]interface{}{"next": cp.Next},
		})
		return nil
	})
	if err != nil {
		return RunResult[S]{}, err
	}
	return e.run(ctx, cfg)
}

// Resume continues the thread from its latest checkpoint.
//
// Non-empty updates are merged, in order, into the latest state and saved
// as one checkpoint without running any node; the pending node is
// unchanged. This is how external feedback is injected between runs. An
// update is empty when it implements Empty() bool and reports true.
//
// Execution then continues from the pending node until the thread halts.
// A thread whose pending node is End returns HaltTerminal immediately.
func (e *Engine[S, U]) Resume(ctx context.Context, cfg Config, updates ...U) (RunResult[S], error) {
	if err := e.validate(cfg); err != nil {
		return RunResult[S]{}, err
	}

	var pending []U
	for _, u := range updates {
		if !isEmpty(u) {
			pending = append(pending, u)
		}
	}

	err := e.withLock(ctx, cfg.ThreadID, func(ctx context.Context) error {
		cp, err := e.latest(ctx, cfg.ThreadID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		merged := cp.State
		for _, u := range pending {
			merged = e.reducer(merged, u)
		}
		saved, err := e.store.Append(ctx, cfg.ThreadID, merged, store.SourceUpdate, cp.Next)
		if err != nil {
			return storeError("failed to save injected update", err)
		}
		e.metrics.IncrementCheckpoints(store.SourceUpdate)
		e.emitter.Emit(emit.Event{
			ThreadID: cfg.ThreadID,
			Seq:      saved.Seq,
			Msg:      emit.MsgUpdateInjected,
			Meta:     map[string]interface{}{"next": saved.Next, "updates": len(pending)},
		})
		return nil
	})
	if err != nil {
		return RunResult[S]{}, err
	}
	return e.run(ctx, cfg)
}

// run executes steps until the thread halts.
func (e *Engine[S, U]) run(ctx context.Context, cfg Config) (RunResult[S], error) {
	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return RunResult[S]{}, err
		}

		var (
			res    RunResult[S]
			halted bool
		)
		err := e.withLock(ctx, cfg.ThreadID, func(ctx context.Context) error {
			cp, err := e.latest(ctx, cfg.ThreadID)
			if err != nil {
				return err
			}
			if cp.Next == End {
				res, halted = resultOf(cp, HaltTerminal), true
				return nil
			}
			if e.maxSteps > 0 && steps >= e.maxSteps {
				return &EngineError{
					Message: fmt.Sprintf("thread %q exceeded %d steps", cfg.ThreadID, e.maxSteps),
					Code:    "MAX_STEPS_EXCEEDED",
					Cause:   ErrMaxStepsExceeded,
				}
			}
			res, halted, err = e.step(ctx, cfg, cp)
			return err
		})
		if err != nil {
			return RunResult[S]{}, err
		}
		if halted {
			e.metrics.IncrementHalts(res.Halt)
			e.emitter.Emit(emit.Event{
				ThreadID: cfg.ThreadID,
				Seq:      res.Seq,
				Msg:      emit.MsgHalted,
				Meta:     map[string]interface{}{"halt": string(res.Halt), "next": res.Next},
			})
			return res, nil
		}
	}
}

// step runs the pending node of cp and appends the resulting checkpoint.
// It reports whether the thread halts after this step.
func (e *Engine[S, U]) step(ctx context.Context, cfg Config, cp store.Checkpoint[S]) (RunResult[S], bool, error) {
	nodeID := cp.Next
	node, ok := e.graph.node(nodeID)
	if !ok {
		return RunResult[S]{}, false, &InvalidGraphError{Node: nodeID, Reason: "pending node is not part of the graph"}
	}

	start := time.Now()
	delta, err := node.Run(ctx, cp.State, cfg)
	latency := time.Since(start)
	if err != nil {
		e.metrics.RecordStepLatency(nodeID, latency, "error")
		e.emitter.Emit(emit.Event{
			ThreadID: cfg.ThreadID,
			Seq:      -1,
			NodeID:   nodeID,
			Msg:      emit.MsgNodeFailed,
			Meta:     map[string]interface{}{"error": err.Error(), "latency_ms": latency.Milliseconds()},
		})
		return RunResult[S]{}, false, &NodeError{NodeID: nodeID, ThreadID: cfg.ThreadID, Cause: err}
	}
	e.metrics.RecordStepLatency(nodeID, latency, "success")

	merged := e.reducer(cp.State, delta)
	next, err := e.graph.Successor(nodeID, merged)
	if err != nil {
		return RunResult[S]{}, false, err
	}

	saved, err := e.store.Append(ctx, cfg.ThreadID, merged, nodeID, next)
	if err != nil {
		return RunResult[S]{}, false, storeError("failed to save step", err)
	}
	e.metrics.IncrementCheckpoints(nodeID)
	e.emitter.Emit(emit.Event{
		ThreadID: cfg.ThreadID,
		Seq:      saved.Seq,
		NodeID:   nodeID,
		Msg:      emit.MsgNodeCompleted,
		Meta:     map[string]interface{}{"next": next, "latency_ms": latency.Milliseconds()},
	})

	switch {
	case next == End:
		return resultOf(saved, HaltTerminal), true, nil
	case e.graph.IsInterrupt(nodeID):
		return resultOf(saved, HaltInterrupted), true, nil
	}
	return RunResult[S]{}, false, nil
}

// Latest returns the thread's newest checkpoint.
func (e *Engine[S, U]) Latest(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	return e.latest(ctx, threadID)
}

// History returns every checkpoint of the thread, newest first.
func (e *Engine[S, U]) History(ctx context.Context, threadID string) ([]store.Checkpoint[S], error) {
	hist, err := e.store.History(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &UnknownThreadError{ThreadID: threadID}
	}
	if err != nil {
		return nil, storeError("failed to load history", err)
	}
	return hist, nil
}

// Checkpoint returns one checkpoint of the thread by sequence number.
func (e *Engine[S, U]) Checkpoint(ctx context.Context, threadID string, seq int) (store.Checkpoint[S], error) {
	cp, err := e.store.Get(ctx, threadID, seq)
	if errors.Is(err, store.ErrNotFound) {
		if _, lerr := e.latest(ctx, threadID); lerr != nil {
			return store.Checkpoint[S]{}, lerr
		}
		return store.Checkpoint[S]{}, &EngineError{
			Message: fmt.Sprintf("thread %q has no checkpoint %d", threadID, seq),
			Code:    "CHECKPOINT_NOT_FOUND",
			Cause:   err,
		}
	}
	if err != nil {
		return store.Checkpoint[S]{}, storeError("failed to load checkpoint", err)
	}
	return cp, nil
}

// Threads lists all threads in the store.
func (e *Engine[S, U]) Threads(ctx context.Context) ([]string, error) {
	ids, err := e.store.Threads(ctx)
	if err != nil {
		return nil, storeError("failed to list threads", err)
	}
	return ids, nil
}

// Fork copies checkpoint seq of threadID (state and pending node) into a
// new thread as its checkpoint 0. Resuming the new thread replays history
// from that point without touching the original.
func (e *Engine[S, U]) Fork(ctx context.Context, threadID string, seq int, newThreadID string) (store.Checkpoint[S], error) {
	if newThreadID == "" || newThreadID == threadID {
		return store.Checkpoint[S]{}, &EngineError{Message: "fork needs a new thread id", Code: "INVALID_THREAD_ID"}
	}
	src, err := e.Checkpoint(ctx, threadID, seq)
	if err != nil {
		return store.Checkpoint[S]{}, err
	}

	var forked store.Checkpoint[S]
	err = e.withLock(ctx, newThreadID, func(ctx context.Context) error {
		_, err := e.store.Latest(ctx, newThreadID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %q", ErrThreadExists, newThreadID)
		case !errors.Is(err, store.ErrNotFound):
			return storeError("failed to check thread", err)
		}
		forked, err = e.store.Append(ctx, newThreadID, src.State, store.SourceFork, src.Next)
		if err != nil {
			return storeError("failed to save forked state", err)
		}
		e.metrics.IncrementCheckpoints(store.SourceFork)
		e.emitter.Emit(emit.Event{
			ThreadID: newThreadID,
			Seq:      forked.Seq,
			Msg:      emit.MsgThreadStarted,
			Meta:     map[string]interface{}{"next": forked.Next, "forked_from": threadID, "forked_seq": seq},
		})
		return nil
	})
	return forked, err
}

func (e *Engine[S, U]) latest(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	cp, err := e.store.Latest(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Checkpoint[S]{}, &UnknownThreadError{ThreadID: threadID}
	}
	if err != nil {
		return store.Checkpoint[S]{}, storeError("failed to load latest checkpoint", err)
	}
	return cp, nil
}

func (e *Engine[S, U]) withLock(ctx context.Context, threadID string, fn func(context.Context) error) error {
	defer func() { e.metrics.UpdateActiveThreads(e.locks.active()) }()
	return e.locks.withLock(ctx, threadID, func(ctx context.Context) error {
		e.metrics.UpdateActiveThreads(e.locks.active())
		return fn(ctx)
	})
}

func resultOf[S any](cp store.Checkpoint[S], halt HaltReason) RunResult[S] {
	return RunResult[S]{
		ThreadID: cp.ThreadID,
		State:    cp.State,
		Seq:      cp.Seq,
		Next:     cp.Next,
		Halt:     halt,
	}
}

func storeError(msg string, err error) error {
	return &EngineError{Message: msg + ": " + err.Error(), Code: "STORE_ERROR", Cause: err}
}

type emptier interface {
	Empty() bool
}

func isEmpty[U any](u U) bool {
	if e, ok := any(u).(emptier); ok {
		return e.Empty()
	}
	return false
}
