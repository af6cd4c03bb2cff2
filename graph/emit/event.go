package emit

// Event is an observability record produced by the engine.
//
// Events are informational only: checkpoints are the source of truth for
// thread state, events describe how it got there.
type Event struct {
	// ThreadID identifies the thread.
	ThreadID string

	// Seq is the checkpoint sequence number the event refers to, or -1 when
	// no checkpoint was written (for example a failed node).
	Seq int

	// NodeID is the node involved, empty for thread-level events.
	NodeID string

	// Msg is a short, stable description such as "node completed".
	Msg string

	// Meta carries event-specific fields: "next", "latency_ms", "halt",
	// "error", "source".
	Meta map[string]interface{}
}

// Messages emitted by the engine.
const (
	MsgThreadStarted  = "thread started"
	MsgNodeCompleted  = "node completed"
	MsgNodeFailed     = "node failed"
	MsgUpdateInjected = "update injected"
	MsgHalted         = "halted"
)
