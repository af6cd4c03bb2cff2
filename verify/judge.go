// Package verify judges candidate programs against test cases.
package verify

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrJudgeUnavailable is returned when the judge itself cannot run a
// submission (missing interpreter, unreachable sandbox). It is never used
// for a failing program.
var ErrJudgeUnavailable = errors.New("judge unavailable")

// DefaultTimeout applies when a submission carries no time limit.
const DefaultTimeout = 2 * time.Second

// Verdict is the outcome class of one test case.
type Verdict string

const (
	Passed       Verdict = "passed"
	WrongAnswer  Verdict = "wrong answer"
	TimedOut     Verdict = "timed out"
	RuntimeError Verdict = "runtime error"
)

// Submission is one program run against one test case.
type Submission struct {
	Code     string        `json:"code"`
	Input    string        `json:"input"`
	Expected string        `json:"expected"`
	Timeout  time.Duration `json:"timeout"`
}

// Result is a verdict plus an optional human-readable detail.
type Result struct {
	Verdict Verdict `json:"verdict"`
	Detail  string  `json:"detail,omitempty"`
}

// Passed reports whether the test case passed.
func (r Result) Passed() bool {
	return r.Verdict == Passed
}

func (r Result) String() string {
	if r.Detail == "" {
		return string(r.Verdict)
	}
	return string(r.Verdict) + ": " + r.Detail
}

// Judge runs a submission and reports its verdict.
//
// A program that crashes, times out or prints the wrong answer is a
// Result, not an error. Errors are reserved for the judge failing to
// run at all and should wrap ErrJudgeUnavailable.
type Judge interface {
	Check(ctx context.Context, sub Submission) (Result, error)
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(ctx context.Context, sub Submission) (Result, error)

// Check implements Judge.
func (f JudgeFunc) Check(ctx context.Context, sub Submission) (Result, error) {
	return f(ctx, sub)
}

// Compare reports whether actual matches expected after normalizing line
// endings and trailing whitespace.
func Compare(expected, actual string) bool {
	return normalize(expected) == normalize(actual)
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// truncate shortens s to at most n characters for verdict details.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
