package emit

// Emitter receives observability events from graph execution.
//
// Implementations must be safe for concurrent use (several threads may run
// at once) and must not block execution for long. Emit should never panic.
type Emitter interface {
	Emit(event Event)
}

// Multi fans an event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
