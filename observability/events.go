package observability

import "ordervault/core/events"

// TransitionEmitter counts every committed lifecycle event in the transitions
// metric. It carries no state and can sit anywhere in an emitter chain.
type TransitionEmitter struct{}

// Emit implements events.Emitter.
func (TransitionEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	RPCMetrics().RecordTransition(evt.EventType())
}
