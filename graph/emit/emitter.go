// Package emit provides observability event emitters for workflow runs.
package emit

// Emitter receives observability events from workflow execution.
//
// Implementations should be:
//   - Non-blocking: avoid slowing down the run
//   - Thread-safe: distinct runs emit concurrently
//   - Resilient: never panic on backend failure
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines emitters. Nil entries are skipped.
//
// Example:
//
//	emitter := emit.NewMultiEmitter(
//	    emit.NewLogEmitter(logger),
//	    emit.NewOTelEmitter(tracer),
//	)
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards the event to every emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
