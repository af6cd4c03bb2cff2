package emit

// NullEmitter discards all events.
type NullEmitter struct{}

// NewNullEmitter returns an emitter that does nothing.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit implements Emitter.
func (n *NullEmitter) Emit(_ Event) {}
