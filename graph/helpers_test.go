package graph

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/dshills/solvegraph/graph/store"
)

// testState is the state used by engine tests.
type testState struct {
	Log   []string `json:"log"`
	Count int      `json:"count"`
	Done  bool     `json:"done"`
}

// testUpdate is the partial update used by engine tests.
type testUpdate struct {
	Append []string
	Inc    int
	Done   bool
}

func (u testUpdate) Empty() bool {
	return len(u.Append) == 0 && u.Inc == 0 && !u.Done
}

func testReducer(prev testState, d testUpdate) testState {
	next := prev
	next.Log = append(append([]string(nil), prev.Log...), d.Append...)
	next.Count += d.Inc
	if d.Done {
		next.Done = true
	}
	return next
}

// countingNode appends its name to the log and counts invocations.
type countingNode struct {
	name  string
	calls atomic.Int32
	fn    func(s testState) testUpdate
}

func (n *countingNode) Run(_ context.Context, s testState, _ Config) (testUpdate, error) {
	n.calls.Add(1)
	if n.fn != nil {
		return n.fn(s), nil
	}
	return testUpdate{Append: []string{n.name}}, nil
}

func routeDone(s testState) string {
	if s.Done {
		return End
	}
	return "work"
}

// loopGraph builds: prepare -> work -> check, check routes to work or End,
// interrupt after check. check marks the state done once Count reaches doneAt.
func loopGraph(t *testing.T, doneAt int) (*Graph[testState, testUpdate], map[string]*countingNode) {
	t.Helper()
	nodes := map[string]*countingNode{
		"prepare": {name: "prepare"},
		"work": {name: "work", fn: func(s testState) testUpdate {
			return testUpdate{Append: []string{"work"}, Inc: 1}
		}},
		"check": {name: "check", fn: func(s testState) testUpdate {
			return testUpdate{Append: []string{fmt.Sprintf("check:%d", s.Count)}, Done: s.Count >= doneAt}
		}},
	}

	def := NewDefinition[testState, testUpdate]()
	for _, name := range []string{"prepare", "work", "check"} {
		if err := def.Add(name, nodes[name]); err != nil {
			t.Fatalf("Add(%s) failed: %v", name, err)
		}
	}
	mustOK(t, def.StartAt("prepare"))
	mustOK(t, def.Connect("prepare", "work"))
	mustOK(t, def.Connect("work", "check"))
	mustOK(t, def.Route("check", routeDone, "work", End))
	def.InterruptAfter("check")

	g, err := def.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return g, nodes
}

func newLoopEngine(t *testing.T, doneAt int, opts ...Option) (*Engine[testState, testUpdate], map[string]*countingNode, *store.MemStore[testState]) {
	t.Helper()
	g, nodes := loopGraph(t, doneAt)
	st := store.NewMemStore[testState]()
	return New(g, testReducer, st, opts...), nodes, st
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
