package state

// FieldUpdate is one variant of a partial update. The set is closed: only
// the types in this package implement it, and there are no
// variants for TestCases or RuntimeLimit.
type FieldUpdate interface {
	apply(r *Record)
}

// SetCandidate overwrites Candidate.
type SetCandidate struct {
	Message Message
}

// SetExamples overwrites Examples.
type SetExamples struct {
	Text string
}

// AppendMessages appends to Messages.
type AppendMessages struct {
	Messages []Message
}

// SetStatus overwrites Status, except that success is never downgraded.
type SetStatus struct {
	Status Status
}

func (u SetCandidate) apply(r *Record) {
	m := u.Message
	if m.Call != nil {
		call := *m.Call
		m.Call = &call
	}
	r.Candidate = &m
}

func (u SetExamples) apply(r *Record) {
	r.Examples = u.Text
}

func (u AppendMessages) apply(r *Record) {
	if len(u.Messages) == 0 {
		return
	}
	// A new record never shares a backing array with prev.
	merged := make([]Message, 0, len(r.Messages)+len(u.Messages))
	merged = append(merged, r.Messages...)
	merged = append(merged, u.Messages...)
	r.Messages = merged
}

func (u SetStatus) apply(r *Record) {
	if r.Status == StatusSuccess {
		return
	}
	r.Status = u.Status
}

// Update is a partial update: an ordered list of field updates.
type Update []FieldUpdate

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return len(u) == 0
}

// Feedback returns an update that appends a user message.
func Feedback(text string) Update {
	return Update{AppendMessages{Messages: []Message{User(text)}}}
}

// Merge applies delta to prev and returns the new record. prev is not
// modified.
func Merge(prev Record, delta Update) Record {
	next := prev
	for _, u := range delta {
		if u != nil {
			u.apply(&next)
		}
	}
	return next
}
