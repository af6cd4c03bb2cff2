package solver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/state"
	"github.com/dshills/solvegraph/verify"
)

// In-band messages appended by the evaluator.
const (
	NoCodeMessage     = "No code submitted. Please try again using the correct python code."
	MissingCodeReason = "Invalid code payload: missing code"
	FixInstruction    = "Make all fixes using the writePython tool."
)

// Evaluator is the evaluation node. It judges the latest submission
// against every test case.
type Evaluator struct {
	judge       verify.Judge
	parallelism int
	logger      *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithParallelism sets how many test cases are judged at once. Default 1.
func WithParallelism(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithEvaluatorLogger sets the evaluator's logger.
func WithEvaluatorLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEvaluator creates an evaluation node using judge.
func NewEvaluator(judge verify.Judge, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{judge: judge, parallelism: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run implements graph.Node.
//
// Malformed submissions are answered in-band. Only a judge that cannot run
// at all makes Run return an error.
func (e *Evaluator) Run(ctx context.Context, rec state.Record, cfg graph.Config) (state.Update, error) {
	last, ok := rec.Last()
	if !ok || last.Kind != state.KindAssistant || last.Call == nil {
		return appendMessage(state.User(NoCodeMessage)), nil
	}

	code := last.Call.Payload.Code
	if strings.TrimSpace(code) == "" {
		return appendMessage(toolMessage(last.Call.ID, MissingCodeReason)), nil
	}

	timeout := time.Duration(rec.RuntimeLimit) * time.Second
	if timeout <= 0 {
		timeout = verify.DefaultTimeout
	}

	results, err := e.judgeAll(ctx, code, rec.TestCases, timeout)
	if err != nil {
		return nil, err
	}

	passed := 0
	for _, r := range results {
		if r.Passed() {
			passed++
		}
	}
	e.logger.Debug("submission judged",
		"thread_id", cfg.ThreadID, "passed", passed, "total", len(results))

	if len(results) > 0 && passed == len(results) {
		return state.Update{state.SetStatus{Status: state.StatusSuccess}}, nil
	}
	return appendMessage(toolMessage(last.Call.ID, FormatResults(passed, results))), nil
}

func (e *Evaluator) judgeAll(ctx context.Context, code string, tests []state.TestCase, timeout time.Duration) ([]verify.Result, error) {
	results := make([]verify.Result, len(tests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, tc := range tests {
		g.Go(func() error {
			res, err := e.judge.Check(gctx, verify.Submission{
				Code:     code,
				Input:    tc.Input,
				Expected: tc.Output,
				Timeout:  timeout,
			})
			if err != nil {
				return fmt.Errorf("judge test %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FormatResults renders the failure report sent back to the model.
func FormatResults(passed int, results []verify.Result) string {
	var b strings.Builder
	b.WriteString("Incorrect submission. Please respond with updated code.\n")
	fmt.Fprintf(&b, "Pass rate: %d/%d\nResults:\n", passed, len(results))
	for i, r := range results {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "<test id=%d>\n%s\n</test>", i, r)
	}
	return b.String()
}

func toolMessage(callID, body string) state.Message {
	return state.ToolResult(callID, body+"\n"+FixInstruction)
}

func appendMessage(m state.Message) state.Update {
	return state.Update{state.AppendMessages{Messages: []state.Message{m}}}
}
