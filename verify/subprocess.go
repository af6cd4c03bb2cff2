package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// detailLimit bounds output quoted in a verdict detail.
const detailLimit = 200

// waitDelay bounds how long a killed program's children may hold its
// output pipes open.
const waitDelay = 500 * time.Millisecond

// SubprocessJudge runs submissions with a local interpreter.
//
// The code is written to a temporary file which is passed to the
// interpreter; the test input is fed on stdin and stdout is compared with
// the expected output. It provides no isolation beyond a process
// boundary and a time limit.
type SubprocessJudge struct {
	// Interpreter is the program used to run code. Default "python3".
	Interpreter string

	// Args are inserted before the source file path.
	Args []string

	// Dir is the directory for temporary source files. Default os.TempDir.
	Dir string
}

// NewSubprocessJudge creates a judge running interpreter. Empty means
// python3.
func NewSubprocessJudge(interpreter string, args ...string) *SubprocessJudge {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &SubprocessJudge{Interpreter: interpreter, Args: args}
}

// Check implements Judge.
func (j *SubprocessJudge) Check(ctx context.Context, sub Submission) (Result, error) {
	interpreter := j.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}
	path, err := exec.LookPath(interpreter)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrJudgeUnavailable, err)
	}

	src, err := os.CreateTemp(j.Dir, "submission-*"+extension(interpreter))
	if err != nil {
		return Result{}, fmt.Errorf("%w: create source file: %v", ErrJudgeUnavailable, err)
	}
	defer os.Remove(src.Name())
	if _, err := src.WriteString(sub.Code); err != nil {
		src.Close()
		return Result{}, fmt.Errorf("%w: write source file: %v", ErrJudgeUnavailable, err)
	}
	if err := src.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: write source file: %v", ErrJudgeUnavailable, err)
	}

	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), j.Args...), src.Name())
	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.Dir = filepath.Dir(src.Name())
	cmd.Stdin = strings.NewReader(sub.Input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Result{Verdict: TimedOut}, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Result{}, fmt.Errorf("%w: %v", ErrJudgeUnavailable, runErr)
		}
		return Result{Verdict: RuntimeError, Detail: lastLine(stderr.String())}, nil
	}

	if !Compare(sub.Expected, stdout.String()) {
		return Result{
			Verdict: WrongAnswer,
			Detail: fmt.Sprintf("expected %q, got %q",
				truncate(normalize(sub.Expected), detailLimit), truncate(normalize(stdout.String()), detailLimit)),
		}, nil
	}
	return Result{Verdict: Passed}, nil
}

func extension(interpreter string) string {
	if strings.HasPrefix(filepath.Base(interpreter), "python") {
		return ".py"
	}
	return ""
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return truncate(s, detailLimit)
}
