package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/dshills/solvegraph/loop"
	"github.com/dshills/solvegraph/solver"
	"github.com/dshills/solvegraph/state"
)

// presenter writes diagnostics and outcomes for a human reader.
type presenter struct {
	w        io.Writer
	markdown bool
}

func newPresenter(w io.Writer, markdown bool) *presenter {
	return &presenter{w: w, markdown: markdown}
}

// renderCode formats code as a python block, through glamour when the
// output is a terminal.
func (p *presenter) renderCode(code string) string {
	block := "```python\n" + strings.TrimSpace(code) + "\n```\n"
	if !p.markdown {
		return block
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return block
	}
	out, err := r.Render(block)
	if err != nil {
		return block
	}
	return out
}

func (p *presenter) diagnostic(d solver.Diagnostic) {
	heading := color.New(color.FgCyan, color.Bold)
	heading.Fprintln(p.w, "Assistant:")
	if d.Reasoning != "" {
		fmt.Fprintln(p.w, d.Reasoning)
	}
	fmt.Fprint(p.w, p.renderCode(d.Code))

	switch {
	case d.Solved:
		color.New(color.FgGreen).Fprintln(p.w, "All tests passed.")
		return
	case d.HasPassRate:
		c := color.New(color.FgYellow)
		if d.Passed == 0 {
			c = color.New(color.FgRed)
		}
		c.Fprintf(p.w, "Pass rate: %d/%d\n", d.Passed, d.Total)
	}
	for _, t := range d.Tests {
		verdict := color.RedString(t.Result)
		if strings.HasPrefix(t.Result, "passed") {
			verdict = color.GreenString(t.Result)
		}
		fmt.Fprintf(p.w, "  test %d: %s\n", t.ID, verdict)
	}
	if len(d.Tests) == 0 && d.Raw != "" {
		fmt.Fprintln(p.w, d.Raw)
	}
}

func (p *presenter) outcome(o loop.Outcome) {
	c := color.New(color.FgYellow, color.Bold)
	switch o.Phase {
	case loop.Succeeded:
		c = color.New(color.FgGreen, color.Bold)
	case loop.Aborted:
		c = color.New(color.FgRed, color.Bold)
	}
	c.Fprintf(p.w, "%s", o.Phase)
	fmt.Fprintf(p.w, " after %d trial(s), checkpoint %d (session %s)\n", o.Trials, o.Seq, o.SessionID)
}

func (p *presenter) problem(rec state.Record) {
	color.New(color.FgCyan, color.Bold).Fprintln(p.w, rec.Title)
	fmt.Fprintf(p.w, "%d test case(s), runtime limit %ds\n", len(rec.TestCases), rec.RuntimeLimit)
	for i, tc := range rec.TestCases {
		if i == 3 {
			fmt.Fprintf(p.w, "  ... %d more\n", len(rec.TestCases)-i)
			break
		}
		tc = tc.Redacted()
		fmt.Fprintf(p.w, "  input %q -> output %q\n", tc.Input, tc.Output)
	}
}
