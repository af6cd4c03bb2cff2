package graph

import (
	"fmt"
	"sort"
)

// Definition describes a graph before it is compiled: named nodes, fixed
// edges, a start node, at most one router node, and the interrupt points.
//
// A Definition is not safe for concurrent use. Compile it once and share
// the resulting *Graph.
//
// Example:
//
//	def := graph.NewDefinition[State, Update]()
//	_ = def.Add("draft", draftNode)
//	_ = def.Add("evaluate", evalNode)
//	_ = def.StartAt("draft")
//	_ = def.Connect("draft", "evaluate")
//	_ = def.Route("evaluate", route, "draft", graph.End)
//	def.InterruptAfter("evaluate")
//	g, err := def.Compile()
type Definition[S, U any] struct {
	nodes      map[string]Node[S, U]
	order      []string
	edges      []Edge
	start      string
	routerNode string
	router     Router[S]
	targets    []string
	interrupts []string
}

// NewDefinition returns an empty definition.
func NewDefinition[S, U any]() *Definition[S, U] {
	return &Definition[S, U]{nodes: make(map[string]Node[S, U])}
}

// Add registers a node under a unique name.
func (d *Definition[S, U]) Add(name string, node Node[S, U]) error {
	switch {
	case name == "":
		return &InvalidGraphError{Reason: "node name cannot be empty"}
	case name == End:
		return &InvalidGraphError{Node: name, Reason: "node name is reserved"}
	case node == nil:
		return &InvalidGraphError{Node: name, Reason: "node cannot be nil"}
	}
	if _, exists := d.nodes[name]; exists {
		return &InvalidGraphError{Node: name, Reason: "duplicate node"}
	}
	d.nodes[name] = node
	d.order = append(d.order, name)
	return nil
}

// StartAt designates the entry node.
func (d *Definition[S, U]) StartAt(name string) error {
	if name == "" {
		return &InvalidGraphError{Reason: "start node cannot be empty"}
	}
	d.start = name
	return nil
}

// Connect adds a fixed edge. Endpoints are checked by Compile so nodes may
// be added in any order.
func (d *Definition[S, U]) Connect(from, to string) error {
	if from == "" || to == "" {
		return &InvalidGraphError{Reason: "edge endpoints cannot be empty"}
	}
	d.edges = append(d.edges, Edge{From: from, To: to})
	return nil
}

// Route makes from the router node. After from runs, router picks the
// successor among targets (each a node name or End).
func (d *Definition[S, U]) Route(from string, router Router[S], targets ...string) error {
	if d.routerNode != "" {
		return &InvalidGraphError{Node: from, Reason: fmt.Sprintf("router already set on %q", d.routerNode)}
	}
	if router == nil {
		return &InvalidGraphError{Node: from, Reason: "router cannot be nil"}
	}
	if len(targets) == 0 {
		return &InvalidGraphError{Node: from, Reason: "router needs at least one target"}
	}
	d.routerNode = from
	d.router = router
	d.targets = append([]string(nil), targets...)
	return nil
}

// InterruptAfter marks nodes after which the engine halts and returns
// control to the caller.
func (d *Definition[S, U]) InterruptAfter(names ...string) {
	d.interrupts = append(d.interrupts, names...)
}

// Compile validates the definition and returns an immutable Graph.
func (d *Definition[S, U]) Compile() (*Graph[S, U], error) {
	if d.start == "" {
		return nil, &InvalidGraphError{Reason: "start node not set"}
	}
	if _, ok := d.nodes[d.start]; !ok {
		return nil, &InvalidGraphError{Node: d.start, Reason: "start node does not exist"}
	}

	valid := func(name string) bool {
		_, ok := d.nodes[name]
		return ok || name == End
	}

	g := &Graph[S, U]{
		nodes:      make(map[string]Node[S, U], len(d.nodes)),
		order:      append([]string(nil), d.order...),
		next:       make(map[string]string),
		start:      d.start,
		routerNode: d.routerNode,
		router:     d.router,
		targets:    make(map[string]bool, len(d.targets)),
		interrupts: make(map[string]bool, len(d.interrupts)),
	}
	for name, n := range d.nodes {
		g.nodes[name] = n
	}

	for _, e := range d.edges {
		if _, ok := d.nodes[e.From]; !ok {
			return nil, &InvalidGraphError{Node: e.From, Reason: "edge source does not exist"}
		}
		if !valid(e.To) {
			return nil, &InvalidGraphError{Node: e.From, Reason: fmt.Sprintf("edge target %q does not exist", e.To)}
		}
		if e.From == d.routerNode {
			return nil, &InvalidGraphError{Node: e.From, Reason: "router node cannot have fixed edges"}
		}
		if prev, dup := g.next[e.From]; dup {
			return nil, &InvalidGraphError{Node: e.From, Reason: fmt.Sprintf("multiple edges (%q and %q)", prev, e.To)}
		}
		g.next[e.From] = e.To
	}

	if d.routerNode != "" {
		if _, ok := d.nodes[d.routerNode]; !ok {
			return nil, &InvalidGraphError{Node: d.routerNode, Reason: "router node does not exist"}
		}
		for _, t := range d.targets {
			if !valid(t) {
				return nil, &InvalidGraphError{Node: d.routerNode, Reason: fmt.Sprintf("router target %q does not exist", t)}
			}
			g.targets[t] = true
		}
	}

	for _, name := range d.order {
		if name == d.routerNode {
			continue
		}
		if _, ok := g.next[name]; !ok {
			return nil, &InvalidGraphError{Node: name, Reason: "no outgoing edge"}
		}
	}

	for _, name := range d.interrupts {
		if _, ok := d.nodes[name]; !ok {
			return nil, &InvalidGraphError{Node: name, Reason: "interrupt point does not exist"}
		}
		g.interrupts[name] = true
	}

	if unreachable := g.unreachable(); len(unreachable) > 0 {
		return nil, &InvalidGraphError{Node: unreachable[0], Reason: "unreachable from start node"}
	}
	return g, nil
}

// Graph is a compiled, immutable graph. It is safe for concurrent use by
// any number of engines and threads.
type Graph[S, U any] struct {
	nodes      map[string]Node[S, U]
	order      []string
	next       map[string]string
	start      string
	routerNode string
	router     Router[S]
	targets    map[string]bool
	interrupts map[string]bool
}

// Start returns the entry node.
func (g *Graph[S, U]) Start() string {
	return g.start
}

// Nodes returns node names in registration order.
func (g *Graph[S, U]) Nodes() []string {
	return append([]string(nil), g.order...)
}

// RouterNode returns the router node, or "" if the graph has none.
func (g *Graph[S, U]) RouterNode() string {
	return g.routerNode
}

// InterruptPoints returns the sorted set of interrupt nodes.
func (g *Graph[S, U]) InterruptPoints() []string {
	out := make([]string, 0, len(g.interrupts))
	for name := range g.interrupts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsInterrupt reports whether the engine halts after name.
func (g *Graph[S, U]) IsInterrupt(name string) bool {
	return g.interrupts[name]
}

// Successor computes the node that follows from given the merged state.
func (g *Graph[S, U]) Successor(from string, state S) (string, error) {
	if from == g.routerNode {
		to := g.router(state)
		if !g.targets[to] {
			return "", &InvalidGraphError{Node: from, Reason: fmt.Sprintf("router returned undeclared target %q", to)}
		}
		return to, nil
	}
	to, ok := g.next[from]
	if !ok {
		return "", &InvalidGraphError{Node: from, Reason: "no outgoing edge"}
	}
	return to, nil
}

func (g *Graph[S, U]) node(name string) (Node[S, U], bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// unreachable returns nodes that cannot be reached from the start node,
// in registration order.
func (g *Graph[S, U]) unreachable() []string {
	seen := map[string]bool{g.start: true}
	queue := []string{g.start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var succ []string
		if cur == g.routerNode {
			for t := range g.targets {
				succ = append(succ, t)
			}
		} else if to, ok := g.next[cur]; ok {
			succ = append(succ, to)
		}
		for _, s := range succ {
			if s == End || seen[s] {
				continue
			}
			seen[s] = true
			queue = append(queue, s)
		}
	}

	var out []string
	for _, name := range g.order {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}
