// Package state defines the record threaded through the solve graph and
// the tagged-union updates nodes return.
package state

// Status is the solve status of a record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
)

// TestCase is one input/expected-output pair.
type TestCase struct {
	Input  string `json:"inputs" yaml:"inputs"`
	Output string `json:"outputs" yaml:"outputs"`
}

// hiddenLen is the length above which test payloads are elided in displays.
const hiddenLen = 200

// Redacted returns the test case with inputs or outputs longer than 200
// characters replaced by "...", for logs and terminal output.
func (tc TestCase) Redacted() TestCase {
	out := tc
	if len(out.Input) > hiddenLen {
		out.Input = "..."
	}
	if len(out.Output) > hiddenLen {
		out.Output = "..."
	}
	return out
}

// Record is the state of one solve thread.
//
// Merge policy per field (see Merge):
//
//	Candidate     overwrite
//	Examples      overwrite
//	Messages      append only
//	TestCases     fixed at creation
//	RuntimeLimit  fixed at creation
//	Status        overwrite, but success is never downgraded
type Record struct {
	// Title is the problem title; it doubles as the thread id.
	Title string `json:"title"`

	// Candidate is the first-pass draft produced without examples.
	Candidate *Message `json:"candidate,omitempty"`

	// Examples is the retrieved example text spliced into the solve prompt.
	Examples string `json:"examples,omitempty"`

	Messages     []Message  `json:"messages"`
	TestCases    []TestCase `json:"test_cases"`
	RuntimeLimit int        `json:"runtime_limit"`
	Status       Status     `json:"status"`
}

// NewRecord builds the initial record for a problem: one user message with
// the description, in progress.
func NewRecord(title, description string, tests []TestCase, runtimeLimit int) Record {
	return Record{
		Title:        title,
		Messages:     []Message{User(description)},
		TestCases:    append([]TestCase(nil), tests...),
		RuntimeLimit: runtimeLimit,
		Status:       StatusInProgress,
	}
}

// Solved reports whether every test case has passed.
func (r Record) Solved() bool {
	return r.Status == StatusSuccess
}

// Last returns the newest message.
func (r Record) Last() (Message, bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

// HasExamples reports whether retrieval has run.
func (r Record) HasExamples() bool {
	return r.Examples != ""
}
