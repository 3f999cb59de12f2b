package events

// Event is a structured record of a ledger state change. Implementations
// render themselves to the wire form carried in batch results.
type Event interface {
	EventType() string
}

// Emitter forwards events to whoever collects them for the running batch.
// The processor's emitter appends to the batch event log; servers relay that
// log to submitters.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event. Engines start with one so emission stays
// optional until a collector is wired.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
