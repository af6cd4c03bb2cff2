package loop

import (
	"context"
	"sync"

	"github.com/dshills/solvegraph/solver"
	"github.com/dshills/solvegraph/state"
)

// Review is what a decision port sees when the loop needs a decision.
type Review struct {
	ThreadID   string
	Trials     int
	Seq        int
	State      state.Record
	Diagnostic solver.Diagnostic
}

// Decision answers a Review.
//
// Abort ends the loop. Otherwise Feedback, if non-empty, is appended to
// the conversation and Trials attempts run unattended, stopping early on
// success. Trials <= 0 with no feedback also aborts; with feedback it
// runs a single attempt.
type Decision struct {
	Abort    bool
	Feedback string
	Trials   int
}

func (d Decision) aborts() bool {
	return d.Abort || (d.Trials <= 0 && d.Feedback == "")
}

func (d Decision) trials() int {
	if d.Trials < 1 {
		return 1
	}
	return d.Trials
}

// DecisionPort solicits decisions from outside the loop: a terminal, a
// UI, a queue or a script.
type DecisionPort interface {
	Decide(ctx context.Context, r Review) (Decision, error)
}

// PortFunc adapts a function to DecisionPort.
type PortFunc func(ctx context.Context, r Review) (Decision, error)

// Decide implements DecisionPort.
func (f PortFunc) Decide(ctx context.Context, r Review) (Decision, error) {
	return f(ctx, r)
}

// AbortPort aborts at the first review.
var AbortPort = PortFunc(func(context.Context, Review) (Decision, error) {
	return Decision{Abort: true}, nil
})

// ScriptedPort replays a fixed list of decisions, then aborts.
// It records every review it receives.
type ScriptedPort struct {
	mu        sync.Mutex
	decisions []Decision
	reviews   []Review
}

// NewScriptedPort creates a port answering with decisions in order.
func NewScriptedPort(decisions ...Decision) *ScriptedPort {
	return &ScriptedPort{decisions: decisions}
}

// Decide implements DecisionPort.
func (p *ScriptedPort) Decide(ctx context.Context, r Review) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reviews = append(p.reviews, r)
	if len(p.decisions) == 0 {
		return Decision{Abort: true}, nil
	}
	d := p.decisions[0]
	p.decisions = p.decisions[1:]
	return d, nil
}

// Reviews returns the reviews received so far.
func (p *ScriptedPort) Reviews() []Review {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Review(nil), p.reviews...)
}

// ChannelPort hands reviews to another goroutine and waits for its
// decision. Useful for servers and UIs that answer asynchronously.
type ChannelPort struct {
	reviews   chan Review
	decisions chan Decision
}

// NewChannelPort creates an unbuffered channel port.
func NewChannelPort() *ChannelPort {
	return &ChannelPort{
		reviews:   make(chan Review),
		decisions: make(chan Decision),
	}
}

// Reviews delivers pending reviews. Each must be answered with Submit.
func (p *ChannelPort) Reviews() <-chan Review {
	return p.reviews
}

// Submit answers the outstanding review.
func (p *ChannelPort) Submit(ctx context.Context, d Decision) error {
	select {
	case p.decisions <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Decide implements DecisionPort.
func (p *ChannelPort) Decide(ctx context.Context, r Review) (Decision, error) {
	select {
	case p.reviews <- r:
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
	select {
	case d := <-p.decisions:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}
