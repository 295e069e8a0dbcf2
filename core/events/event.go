package events

// Event represents a structured state change emitted by the vesting engine.
type Event interface {
	EventType() string
}

// Emitter forwards events to downstream subscribers (audit journal, RPC).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding every event. Components use
// it as the default so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans a single event out to several emitters in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// Buffer queues events until the enclosing operation commits. Emitting into a
// buffer keeps downstream side effects (journal rows, logs) out of
// transactions that may still be discarded.
type Buffer struct {
	queued []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt != nil {
		b.queued = append(b.queued, evt)
	}
}

// FlushTo releases the queued events to sink in emission order and empties
// the buffer.
func (b *Buffer) FlushTo(sink Emitter) {
	queued := b.queued
	b.queued = nil
	if sink == nil {
		return
	}
	for _, evt := range queued {
		sink.Emit(evt)
	}
}
