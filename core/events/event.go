package events

// Event represents a structured state change emitted by the escrow core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
// The core never reads events back; emission is strictly one-way.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter forwards every event to each wrapped emitter in order. Nil
// entries are skipped.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Queue buffers events in order until they are drained. Operations emit into
// a queue and the node publishes the backlog only after the state commit
// succeeds, so a failed transition never leaks observable events.
type Queue struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (q *Queue) Emit(evt Event) {
	if q == nil || evt == nil {
		return
	}
	q.pending = append(q.pending, evt)
}

// Drain returns the buffered events and resets the queue.
func (q *Queue) Drain() []Event {
	if q == nil {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// Reset discards any buffered events.
func (q *Queue) Reset() {
	if q != nil {
		q.pending = nil
	}
}
