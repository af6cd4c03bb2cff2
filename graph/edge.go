package graph

// End is the terminal sentinel. A route or edge to End finishes the thread.
const End = "__end__"

// Edge is an unconditional transition between two nodes.
type Edge struct {
	From string
	To   string
}

// Router chooses the successor of the router node from the merged state.
//
// It must be a pure function: no I/O, no mutation, no hidden state. It may
// only return End or one of the targets declared with Definition.Route.
//
// Example:
//
//	func route(s State) string {
//	    if s.Done {
//	        return graph.End
//	    }
//	    return "retry"
//	}
type Router[S any] func(state S) string
