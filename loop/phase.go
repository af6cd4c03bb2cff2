// Package loop drives repeated engine runs of a solve thread: unattended
// retries, feedback solicitation and termination.
package loop

// Phase is a state of the control loop.
type Phase string

const (
	Fresh            Phase = "fresh"
	AwaitingTrial    Phase = "awaiting_trial"
	AwaitingFeedback Phase = "awaiting_feedback"
	Succeeded        Phase = "succeeded"
	Aborted          Phase = "aborted"
)

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == Succeeded || p == Aborted
}

// allowed lists the legal transitions.
var allowed = map[Phase][]Phase{
	Fresh:            {AwaitingTrial},
	AwaitingTrial:    {AwaitingFeedback, Succeeded},
	AwaitingFeedback: {AwaitingTrial, Aborted},
}

func canTransition(from, to Phase) bool {
	for _, p := range allowed[from] {
		if p == to {
			return true
		}
	}
	return false
}
