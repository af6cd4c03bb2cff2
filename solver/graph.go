package solver

import (
	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/graph/model"
	"github.com/dshills/solvegraph/state"
	"github.com/dshills/solvegraph/verify"
)

// Node names of the solve graph.
const (
	NodeDraft    = "draft"
	NodeRetrieve = "retrieve"
	NodeSolve    = "solve"
	NodeEvaluate = "evaluate"
)

// Route is the evaluate node's router: finished once solved, otherwise
// back to solve. Wrong answers and malformed submissions share the same
// retry edge.
func Route(rec state.Record) string {
	if rec.Solved() {
		return graph.End
	}
	return NodeSolve
}

// Nodes are the four adapters of the solve graph.
type Nodes struct {
	Draft    graph.Node[state.Record, state.Update]
	Retrieve graph.Node[state.Record, state.Update]
	Solve    graph.Node[state.Record, state.Update]
	Evaluate graph.Node[state.Record, state.Update]
}

// DefaultNodes wires a chat model, a searcher and a judge into the
// standard adapters. Draft and solve share one Solver.
func DefaultNodes(m model.ChatModel, s Searcher, j verify.Judge, solverOpts []SolverOption, evalOpts ...EvaluatorOption) Nodes {
	gen := NewSolver(m, solverOpts...)
	return Nodes{
		Draft:    gen,
		Retrieve: NewRetriever(s),
		Solve:    gen,
		Evaluate: NewEvaluator(j, evalOpts...),
	}
}

// NewGraph compiles draft -> retrieve -> solve -> evaluate, with evaluate
// routed by Route and configured as the interrupt point.
func NewGraph(n Nodes) (*graph.Graph[state.Record, state.Update], error) {
	d := graph.NewDefinition[state.Record, state.Update]()
	for _, add := range []struct {
		name string
		node graph.Node[state.Record, state.Update]
	}{
		{NodeDraft, n.Draft},
		{NodeRetrieve, n.Retrieve},
		{NodeSolve, n.Solve},
		{NodeEvaluate, n.Evaluate},
	} {
		if err := d.Add(add.name, add.node); err != nil {
			return nil, err
		}
	}
	if err := d.StartAt(NodeDraft); err != nil {
		return nil, err
	}
	for _, e := range [][2]string{{NodeDraft, NodeRetrieve}, {NodeRetrieve, NodeSolve}, {NodeSolve, NodeEvaluate}} {
		if err := d.Connect(e[0], e[1]); err != nil {
			return nil, err
		}
	}
	if err := d.Route(NodeEvaluate, Route, NodeSolve, graph.End); err != nil {
		return nil, err
	}
	d.InterruptAfter(NodeEvaluate)
	return d.Compile()
}
