package loop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/graph/store"
	"github.com/dshills/solvegraph/solver"
	"github.com/dshills/solvegraph/state"
)

// Runner is the engine surface the loop drives.
// *graph.Engine[state.Record, state.Update] satisfies it.
type Runner interface {
	Start(ctx context.Context, initial state.Record, cfg graph.Config) (graph.RunResult[state.Record], error)
	Resume(ctx context.Context, cfg graph.Config, updates ...state.Update) (graph.RunResult[state.Record], error)
	Latest(ctx context.Context, threadID string) (store.Checkpoint[state.Record], error)
}

// Outcome is the result of a loop session.
type Outcome struct {
	SessionID string
	Phase     Phase

	// Trials counts attempts run in this session.
	Trials int

	Seq   int
	State state.Record
}

// TrialEvent is reported after every attempt.
type TrialEvent struct {
	SessionID string
	ThreadID  string
	Trial     int
	Result    graph.RunResult[state.Record]
}

// Loop is the control state machine over engine runs.
//
// A Loop is not safe for concurrent sessions; create one per thread.
type Loop struct {
	runner       Runner
	port         DecisionPort
	policy       Policy
	logger       *slog.Logger
	onTransition func(from, to Phase)
	onTrial      func(TrialEvent)
}

// Option configures a Loop.
type Option func(*Loop)

// WithPolicy sets the retry policy. Default Interactive.
func WithPolicy(p Policy) Option {
	return func(l *Loop) {
		if p != nil {
			l.policy = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// OnTransition registers a hook called on every phase change.
func OnTransition(fn func(from, to Phase)) Option {
	return func(l *Loop) { l.onTransition = fn }
}

// OnTrial registers a hook called after every attempt.
func OnTrial(fn func(TrialEvent)) Option {
	return func(l *Loop) { l.onTrial = fn }
}

// New creates a loop driving runner and asking port for decisions.
// A nil port aborts at the first decision.
func New(runner Runner, port DecisionPort, opts ...Option) *Loop {
	if port == nil {
		port = AbortPort
	}
	l := &Loop{
		runner: runner,
		port:   port,
		policy: Interactive{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type session struct {
	*Loop
	cfg     graph.Config
	outcome Outcome
}

// Run starts a new thread from initial and drives it to Succeeded or
// Aborted. A collaborator or store failure ends the session with the
// error and the phase reached so far.
func (l *Loop) Run(ctx context.Context, initial state.Record, cfg graph.Config) (Outcome, error) {
	s := l.newSession(cfg, Fresh)
	if err := s.transition(AwaitingTrial); err != nil {
		return s.outcome, err
	}

	res, err := l.runner.Start(ctx, initial, cfg)
	if err != nil {
		return s.outcome, fmt.Errorf("start thread %q: %w", cfg.ThreadID, err)
	}
	s.record(res)
	return s.drive(ctx, res, l.policy.retries())
}

// Attach resumes the loop for an existing thread. A solved thread ends
// immediately as Succeeded; otherwise a decision is solicited first.
func (l *Loop) Attach(ctx context.Context, cfg graph.Config) (Outcome, error) {
	cp, err := l.runner.Latest(ctx, cfg.ThreadID)
	if err != nil {
		return Outcome{Phase: Fresh}, err
	}
	s := l.newSession(cfg, AwaitingTrial)
	s.outcome.Seq = cp.Seq
	s.outcome.State = cp.State

	halt := graph.HaltInterrupted
	if cp.Next == graph.End {
		halt = graph.HaltTerminal
	}
	res := graph.RunResult[state.Record]{ThreadID: cp.ThreadID, State: cp.State, Seq: cp.Seq, Next: cp.Next, Halt: halt}
	return s.drive(ctx, res, 0)
}

func (l *Loop) newSession(cfg graph.Config, phase Phase) *session {
	return &session{
		Loop:    l,
		cfg:     cfg,
		outcome: Outcome{SessionID: uuid.NewString(), Phase: phase},
	}
}

// drive runs the AwaitingTrial/AwaitingFeedback cycle from a halted
// result with retries unattended attempts left.
func (s *session) drive(ctx context.Context, res graph.RunResult[state.Record], retries int) (Outcome, error) {
	for {
		if res.State.Solved() {
			return s.outcome, s.transition(Succeeded)
		}
		if res.Halt == graph.HaltTerminal {
			return s.outcome, fmt.Errorf("thread %q ended without success", s.cfg.ThreadID)
		}

		if retries > 0 {
			retries--
			next, err := s.trial(ctx)
			if err != nil {
				return s.outcome, err
			}
			res = next
			continue
		}

		if err := s.transition(AwaitingFeedback); err != nil {
			return s.outcome, err
		}
		decision, err := s.port.Decide(ctx, s.review(res))
		if err != nil {
			return s.outcome, fmt.Errorf("solicit decision: %w", err)
		}
		if decision.aborts() {
			return s.outcome, s.transition(Aborted)
		}
		if err := s.transition(AwaitingTrial); err != nil {
			return s.outcome, err
		}

		var updates []state.Update
		if decision.Feedback != "" {
			updates = append(updates, state.Feedback(decision.Feedback))
			s.logger.Info("feedback injected", "thread_id", s.cfg.ThreadID, "session_id", s.outcome.SessionID)
		}
		next, err := s.trial(ctx, updates...)
		if err != nil {
			return s.outcome, err
		}
		res = next
		retries = decision.trials() - 1
	}
}

func (s *session) trial(ctx context.Context, updates ...state.Update) (graph.RunResult[state.Record], error) {
	res, err := s.runner.Resume(ctx, s.cfg, updates...)
	if err != nil {
		return res, fmt.Errorf("resume thread %q: %w", s.cfg.ThreadID, err)
	}
	s.record(res)
	return res, nil
}

func (s *session) record(res graph.RunResult[state.Record]) {
	s.outcome.Trials++
	s.outcome.Seq = res.Seq
	s.outcome.State = res.State
	s.logger.Debug("trial finished",
		"thread_id", s.cfg.ThreadID,
		"session_id", s.outcome.SessionID,
		"trial", s.outcome.Trials,
		"seq", res.Seq,
		"halt", string(res.Halt),
		"status", string(res.State.Status))
	if s.onTrial != nil {
		s.onTrial(TrialEvent{
			SessionID: s.outcome.SessionID,
			ThreadID:  s.cfg.ThreadID,
			Trial:     s.outcome.Trials,
			Result:    res,
		})
	}
}

func (s *session) review(res graph.RunResult[state.Record]) Review {
	return Review{
		ThreadID:   s.cfg.ThreadID,
		Trials:     s.outcome.Trials,
		Seq:        res.Seq,
		State:      res.State,
		Diagnostic: solver.ParseDiagnostic(res.State),
	}
}

func (s *session) transition(to Phase) error {
	from := s.outcome.Phase
	if !canTransition(from, to) {
		return fmt.Errorf("illegal loop transition %s -> %s", from, to)
	}
	s.outcome.Phase = to
	s.logger.Info("loop transition",
		"thread_id", s.cfg.ThreadID,
		"session_id", s.outcome.SessionID,
		"from", string(from),
		"to", string(to),
		"trials", s.outcome.Trials)
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
	return nil
}
