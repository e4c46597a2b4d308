// Package store provides checkpoint persistence for workflow runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a thread has no checkpoint.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by Save when a checkpoint with the same or a higher
// sequence number already exists for the thread. It signals a concurrent
// writer on the same thread id.
var ErrConflict = errors.New("checkpoint sequence conflict")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Record is one persisted checkpoint.
//
// Status and Pending are stored in their own columns so suspension checks
// never decode Data. Data is the opaque checkpoint body (state included);
// stores make no assumption about its shape, so runs of different graphs
// share one store.
type Record struct {
	ThreadID  string          `json:"thread_id"`
	Seq       int64           `json:"seq"`
	Status    string          `json:"status"`
	Pending   string          `json:"pending,omitempty"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store provides persistence for run checkpoints, keyed by thread id and
// versioned by a monotonically increasing sequence number.
//
// Implementations:
//   - MemStore: in-process maps, optional JSON snapshot
//   - SQLiteStore: single-file database (modernc.org/sqlite)
//   - MySQLStore: shared relational backend
//   - PostgresStore: shared relational backend (pgx)
//   - RedisStore: key-value backend with optional TTL
//
// Writes must be atomic per thread id: a concurrent LoadLatest never
// observes a partially written checkpoint.
type Store interface {
	// Save appends a checkpoint. Returns ErrConflict if rec.Seq is not
	// greater than the latest stored sequence for the thread.
	Save(ctx context.Context, rec Record) error

	// LoadLatest returns the checkpoint with the highest sequence number.
	// Returns ErrNotFound if the thread has none.
	LoadLatest(ctx context.Context, threadID string) (Record, error)

	// Exists reports whether the thread has at least one checkpoint.
	Exists(ctx context.Context, threadID string) (bool, error)

	// Pending returns the pending node and status of the latest checkpoint
	// without reading its body. Returns ErrNotFound if the thread has none.
	Pending(ctx context.Context, threadID string) (pending, status string, err error)

	// History returns every checkpoint of the thread in sequence order.
	History(ctx context.Context, threadID string) ([]Record, error)

	// Delete removes every checkpoint of the thread.
	Delete(ctx context.Context, threadID string) error

	// Close releases backend resources.
	Close() error
}
