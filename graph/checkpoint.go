package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/orcgraph/graph/store"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	// StatusIdle is reported for threads without a checkpoint.
	StatusIdle RunStatus = "idle"

	// StatusRunning is persisted on step checkpoints while a step loop is active.
	StatusRunning RunStatus = "running"

	// StatusSuspended means the run is waiting before its pending node.
	StatusSuspended RunStatus = "suspended"

	// StatusCompleted means the run reached End.
	StatusCompleted RunStatus = "completed"

	// StatusFailed means the run stopped on an unrecoverable error.
	StatusFailed RunStatus = "failed"
)

// Terminal reports whether no further edges fire for this status.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Checkpoint is the persisted snapshot of a run after one step.
//
// Pending is non-empty exactly when Status is StatusSuspended. Next is the
// node a Running checkpoint continues with. Checkpoints round-trip exactly:
// loading after saving reproduces identical state.
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	Seq       int64           `json:"seq"`
	Graph     string          `json:"graph"`
	UserID    string          `json:"user_id,omitempty"`
	Status    RunStatus       `json:"status"`
	State     State           `json:"state"`
	Pending   string          `json:"pending,omitempty"`
	Next      string          `json:"next,omitempty"`
	Node      string          `json:"node,omitempty"`
	Interrupt *InterruptError `json:"interrupt,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// checkpointBody is the part of a checkpoint stored in Record.Data.
type checkpointBody struct {
	Graph     string          `json:"graph"`
	UserID    string          `json:"user_id,omitempty"`
	State     State           `json:"state"`
	Next      string          `json:"next,omitempty"`
	Node      string          `json:"node,omitempty"`
	Interrupt *InterruptError `json:"interrupt,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// record encodes the checkpoint for the store.
func (cp Checkpoint) record() (store.Record, error) {
	data, err := json.Marshal(checkpointBody{
		Graph:     cp.Graph,
		UserID:    cp.UserID,
		State:     cp.State,
		Next:      cp.Next,
		Node:      cp.Node,
		Interrupt: cp.Interrupt,
		Error:     cp.Error,
	})
	if err != nil {
		return store.Record{}, &EngineError{Message: fmt.Sprintf("encode checkpoint: %v", err), Code: "ENCODE_ERROR", Cause: err}
	}
	return store.Record{
		ThreadID:  cp.ThreadID,
		Seq:       cp.Seq,
		Status:    string(cp.Status),
		Pending:   cp.Pending,
		Data:      data,
		CreatedAt: cp.CreatedAt,
	}, nil
}

// fromRecord decodes a stored record.
func fromRecord(rec store.Record) (Checkpoint, error) {
	var body checkpointBody
	if err := json.Unmarshal(rec.Data, &body); err != nil {
		return Checkpoint{}, &EngineError{Message: fmt.Sprintf("decode checkpoint %s/%d: %v", rec.ThreadID, rec.Seq, err), Code: "ENCODE_ERROR", Cause: err}
	}
	if body.State == nil {
		body.State = State{}
	}
	return Checkpoint{
		ThreadID:  rec.ThreadID,
		Seq:       rec.Seq,
		Graph:     body.Graph,
		UserID:    body.UserID,
		Status:    RunStatus(rec.Status),
		State:     body.State,
		Pending:   rec.Pending,
		Next:      body.Next,
		Node:      body.Node,
		Interrupt: body.Interrupt,
		Error:     body.Error,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// Status is the externally visible view of a run.
type Status struct {
	ThreadID  string          `json:"thread_id"`
	Status    RunStatus       `json:"status"`
	State     State           `json:"state,omitempty"`
	Pending   string          `json:"pending,omitempty"`
	Interrupt *InterruptError `json:"interrupt,omitempty"`
	Error     string          `json:"error,omitempty"`
	Seq       int64           `json:"seq"`
}

func statusOf(cp Checkpoint) Status {
	return Status{
		ThreadID:  cp.ThreadID,
		Status:    cp.Status,
		State:     cp.State,
		Pending:   cp.Pending,
		Interrupt: cp.Interrupt,
		Error:     cp.Error,
		Seq:       cp.Seq,
	}
}

// Result is what Start, Resume and Restart return to the host.
//
// Status is StatusCompleted with the final state, StatusSuspended with the
// pending node, or StatusFailed with the last checkpointed state. A failed
// run also returns a *RunError.
type Result struct {
	ThreadID  string
	Status    RunStatus
	State     State
	Pending   string
	Interrupt *InterruptError
}
