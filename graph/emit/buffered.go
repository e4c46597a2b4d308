package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory, grouped by
// thread id.
//
// Use cases:
//   - Testing and validation
//   - Showing a run's narrative in the CLI after an invocation
//
// Events accumulate until Clear is called.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	engine, _ := graph.New(compiled, st, graph.WithEmitter(emitter))
//	_, _ = engine.Start(ctx, "t-1", initial)
//	interrupts := emitter.GetHistoryWithFilter("t-1", emit.HistoryFilter{Msg: emit.MsgInterrupt})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // threadID -> events
}

// HistoryFilter specifies criteria for filtering history. Empty fields do not
// filter; set fields combine with AND logic.
type HistoryFilter struct {
	NodeID  string // Filter by node (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	MinStep *int   // Minimum step number (nil = no filter)
	MaxStep *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

// GetHistory returns a copy of all events of a thread in emission order.
func (b *BufferedEmitter) GetHistory(threadID string) []Event {
	return b.GetHistoryWithFilter(threadID, HistoryFilter{})
}

// GetHistoryWithFilter returns a copy of the thread's events matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[threadID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Threads returns the thread ids with buffered events.
func (b *BufferedEmitter) Threads() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.events))
	for id := range b.events {
		out = append(out, id)
	}
	return out
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// Clear removes stored events of one thread, or of every thread when
// threadID is empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}
