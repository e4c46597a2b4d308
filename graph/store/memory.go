package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Testing and development
//   - Single-process hosts that snapshot to disk with MarshalJSON
//
// MemStore is safe for concurrent use. Data is lost when the process exits
// unless the host saves a snapshot.
type MemStore struct {
	mu      sync.RWMutex
	threads map[string][]Record // threadID -> checkpoints in seq order
	closed  bool
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore()
//	engine, err := graph.New(compiled, st)
func NewMemStore() *MemStore {
	return &MemStore{threads: make(map[string][]Record)}
}

// Save appends a checkpoint for the thread.
func (m *MemStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	records := m.threads[rec.ThreadID]
	if n := len(records); n > 0 && records[n-1].Seq >= rec.Seq {
		return fmt.Errorf("%w: thread %s seq %d <= %d", ErrConflict, rec.ThreadID, rec.Seq, records[n-1].Seq)
	}
	rec.Data = append(json.RawMessage(nil), rec.Data...)
	m.threads[rec.ThreadID] = append(records, rec)
	return nil
}

// LoadLatest returns the newest checkpoint of the thread.
func (m *MemStore) LoadLatest(_ context.Context, threadID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Record{}, ErrClosed
	}

	records := m.threads[threadID]
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return cloneRecord(records[len(records)-1]), nil
}

// Exists reports whether the thread has a checkpoint.
func (m *MemStore) Exists(_ context.Context, threadID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	return len(m.threads[threadID]) > 0, nil
}

// Pending returns the pending marker and status of the newest checkpoint.
func (m *MemStore) Pending(_ context.Context, threadID string) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", "", ErrClosed
	}

	records := m.threads[threadID]
	if len(records) == 0 {
		return "", "", ErrNotFound
	}
	last := records[len(records)-1]
	return last.Pending, last.Status, nil
}

// History returns all checkpoints of the thread in sequence order.
func (m *MemStore) History(_ context.Context, threadID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	records := m.threads[threadID]
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

// Delete removes the thread's checkpoints.
func (m *MemStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.threads, threadID)
	return nil
}

// Close marks the store closed. Calling Close twice is a no-op.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Threads returns the number of threads with checkpoints.
func (m *MemStore) Threads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

// MarshalJSON serializes every checkpoint so the host can snapshot the
// store to disk.
//
// Example:
//
//	data, err := st.MarshalJSON()
//	if err != nil {
//	    return err
//	}
//	os.WriteFile("checkpoints.json", data, 0o600)
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(serializableMemStore{Threads: m.threads})
}

// UnmarshalJSON replaces the store contents with a snapshot produced by
// MarshalJSON.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	var s serializableMemStore
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Threads == nil {
		s.Threads = make(map[string][]Record)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = s.Threads
	return nil
}

// serializableMemStore is the snapshot layout of a MemStore.
type serializableMemStore struct {
	Threads map[string][]Record `json:"threads"`
}

func cloneRecord(rec Record) Record {
	rec.Data = append(json.RawMessage(nil), rec.Data...)
	return rec
}
