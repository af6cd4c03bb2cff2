package solver

import (
	"regexp"
	"strconv"

	"github.com/dshills/solvegraph/state"
)

// Display limits for diagnostics.
const (
	testResultLimit = 100
	rawResultLimit  = 300
)

// TestOutcome is one parsed per-test verdict.
type TestOutcome struct {
	ID     int
	Result string
}

// Diagnostic summarizes the latest attempt of a thread for review.
type Diagnostic struct {
	Solved bool

	// Reasoning is the text of the newest assistant message.
	Reasoning string

	// Code is the newest submitted code, "N/A" when none.
	Code string

	// HasPassRate is set when a "Pass rate: s/n" line was found.
	HasPassRate bool
	Passed      int
	Total       int

	// Tests are the per-test results, each truncated for display.
	Tests []TestOutcome

	// Raw is the truncated report when no test blocks could be parsed.
	Raw string
}

var (
	passRatePattern = regexp.MustCompile(`Pass rate: (\d+)/(\d+)`)
	testPattern     = regexp.MustCompile(`(?s)<test id=(\d+)>\n(.*?)\n</test>`)
)

// ParseDiagnostic extracts the newest attempt and its test report from rec.
func ParseDiagnostic(rec state.Record) Diagnostic {
	d := Diagnostic{Solved: rec.Solved(), Code: "N/A"}

	for i := len(rec.Messages) - 1; i >= 0; i-- {
		m := rec.Messages[i]
		if m.Kind != state.KindAssistant {
			continue
		}
		d.Reasoning = m.Content
		if payload, ok := m.Code(); ok {
			if payload.Code != "" {
				d.Code = payload.Code
			}
			if d.Reasoning == "" {
				d.Reasoning = payload.Reasoning
			}
		} else if code, ok := ExtractPython(m.Content); ok {
			d.Code = code
		}
		break
	}

	for i := len(rec.Messages) - 1; i >= 0; i-- {
		if m := rec.Messages[i]; m.Kind == state.KindTool {
			d.applyReport(m.Content)
			break
		}
	}
	return d
}

// ParseReport parses a pass-rate report produced by the evaluator.
func ParseReport(text string) Diagnostic {
	var d Diagnostic
	d.applyReport(text)
	return d
}

func (d *Diagnostic) applyReport(text string) {
	if m := passRatePattern.FindStringSubmatch(text); m != nil {
		d.HasPassRate = true
		d.Passed, _ = strconv.Atoi(m[1])
		d.Total, _ = strconv.Atoi(m[2])
	}

	for _, m := range testPattern.FindAllStringSubmatch(text, -1) {
		id, _ := strconv.Atoi(m[1])
		d.Tests = append(d.Tests, TestOutcome{ID: id, Result: ellipsize(m[2], testResultLimit)})
	}
	if len(d.Tests) == 0 {
		d.Raw = ellipsize(text, rawResultLimit)
	}
}

// ellipsize truncates s to n characters, the last three being "...".
func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
