// Package solver implements the nodes of the solve graph: generation,
// example retrieval and evaluation, plus the router joining them.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/graph/model"
	"github.com/dshills/solvegraph/state"
)

// Solver is the generation node. The same adapter serves as the draft node
// (no examples yet, result stored as the candidate) and the solve node
// (examples present, result appended to the conversation).
type Solver struct {
	model  model.ChatModel
	prompt *Prompt
	logger *slog.Logger
}

// SolverOption configures a Solver.
type SolverOption func(*Solver)

// WithPrompt overrides the system prompt.
func WithPrompt(p *Prompt) SolverOption {
	return func(s *Solver) {
		if p != nil {
			s.prompt = p
		}
	}
}

// WithSolverLogger sets the solver's logger.
func WithSolverLogger(l *slog.Logger) SolverOption {
	return func(s *Solver) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSolver creates a generation node backed by m.
func NewSolver(m model.ChatModel, opts ...SolverOption) *Solver {
	s := &Solver{model: m, prompt: defaultPrompt, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run implements graph.Node.
func (s *Solver) Run(ctx context.Context, rec state.Record, cfg graph.Config) (state.Update, error) {
	system, err := s.prompt.Render(rec.Examples)
	if err != nil {
		return nil, err
	}

	messages := append([]model.Message{{Role: model.RoleSystem, Content: system}}, chatMessages(rec.Messages)...)
	out, err := s.model.Chat(ctx, messages, []model.ToolSpec{CodeToolSpec()})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	msg := s.assistantMessage(out, len(rec.Messages), cfg.ThreadID)
	if rec.HasExamples() {
		return state.Update{state.AppendMessages{Messages: []state.Message{msg}}}, nil
	}
	return state.Update{state.SetCandidate{Message: msg}}, nil
}

// assistantMessage turns a model reply into an assistant message. A reply
// without a code tool call falls back to a fenced python block in the
// text; with neither, the message carries no call and the evaluator
// asks for code.
func (s *Solver) assistantMessage(out model.ChatOut, position int, threadID string) state.Message {
	for _, call := range out.ToolCalls {
		if call.Name != state.CodeTool {
			continue
		}
		payload, err := state.DecodeCodePayload(call.Input)
		if err != nil {
			s.logger.Warn("malformed code payload", "thread_id", threadID, "err", err)
		}
		id := call.ID
		if id == "" {
			id = syntheticCallID(position)
		}
		return state.Assistant(out.Text, &state.ToolCall{ID: id, Name: call.Name, Payload: payload})
	}

	if code, ok := ExtractPython(out.Text); ok {
		s.logger.Debug("code recovered from text reply", "thread_id", threadID)
		return state.Assistant(out.Text, &state.ToolCall{
			ID:      syntheticCallID(position),
			Name:    state.CodeTool,
			Payload: state.CodePayload{Code: code},
		})
	}

	s.logger.Debug("reply carried no code", "thread_id", threadID)
	return state.Assistant(out.Text, nil)
}

// syntheticCallID derives a call id from the message position so replays
// of the same step produce the same record.
func syntheticCallID(position int) string {
	return "call_" + strconv.Itoa(position)
}
