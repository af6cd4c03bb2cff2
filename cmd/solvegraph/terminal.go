package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dshills/solvegraph/loop"
)

// terminalPort asks the user for feedback and a trial count after each
// failed attempt.
type terminalPort struct {
	in  *bufio.Reader
	out io.Writer
	p   *presenter
}

func newTerminalPort(in io.Reader, out io.Writer, p *presenter) *terminalPort {
	return &terminalPort{in: bufio.NewReader(in), out: out, p: p}
}

// Decide implements loop.DecisionPort. End of input aborts.
func (t *terminalPort) Decide(ctx context.Context, r loop.Review) (loop.Decision, error) {
	if err := ctx.Err(); err != nil {
		return loop.Decision{}, err
	}
	t.p.diagnostic(r.Diagnostic)
	fmt.Fprintf(t.out, "\nThread %s, %d trial(s) so far.\n", r.ThreadID, r.Trials)

	feedback, err := t.prompt("Feedback for the assistant (blank for none): ")
	if err != nil {
		return loop.Decision{Abort: true}, nil
	}
	for {
		answer, err := t.prompt("Trials to run (0 to stop) [1]: ")
		if err != nil {
			return loop.Decision{Abort: true}, nil
		}
		trials, ok := parseTrials(answer)
		if !ok {
			fmt.Fprintln(t.out, "Please enter a non-negative number.")
			continue
		}
		if trials == 0 {
			return loop.Decision{Abort: true}, nil
		}
		return loop.Decision{Feedback: feedback, Trials: trials}, nil
	}
}

func (t *terminalPort) prompt(label string) (string, error) {
	fmt.Fprint(t.out, label)
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// parseTrials reads a trial count. Blank means one.
func parseTrials(s string) (int, bool) {
	if s == "" {
		return 1, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
