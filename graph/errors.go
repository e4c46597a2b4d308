package graph

import (
	"errors"
	"fmt"
)

// Definition errors. Compile reports them wrapped in *DefinitionError.
var (
	// ErrDuplicateNode indicates a node name was registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrUnknownDestination indicates an edge, label or entry references a
	// node that was never registered.
	ErrUnknownDestination = errors.New("unknown destination")

	// ErrUnreachableNode indicates a node cannot be reached from the entry.
	ErrUnreachableNode = errors.New("unreachable node")

	// ErrNoTerminalPath indicates no path from the entry reaches End.
	ErrNoTerminalPath = errors.New("no path reaches the terminal marker")

	// ErrConflictingEdges indicates a node has more than one outgoing route.
	ErrConflictingEdges = errors.New("conflicting outgoing edges")

	// ErrDeadEnd indicates a node has no outgoing route.
	ErrDeadEnd = errors.New("node has no outgoing edge")

	// ErrNoEntry indicates Compile was called before SetEntry.
	ErrNoEntry = errors.New("entry node not set")

	// ErrCompiled indicates the builder was used after Compile.
	ErrCompiled = errors.New("graph already compiled")

	// ErrInvalidNode indicates an empty or reserved node name, or a nil node.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidSchema indicates the state schema declares a field badly.
	ErrInvalidSchema = errors.New("invalid state schema")
)

// Execution and resume-protocol errors.
var (
	// ErrThreadExists is returned by Start when the thread already has a checkpoint.
	ErrThreadExists = errors.New("thread already exists")

	// ErrThreadNotFound is returned when a thread has no checkpoint.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrNotSuspended is returned by Resume when the run is not suspended.
	ErrNotSuspended = errors.New("run is not suspended")

	// ErrNotTerminal is returned by Restart when the run has not finished.
	ErrNotTerminal = errors.New("run has not reached a terminal state")

	// ErrUnmappedLabel indicates a router returned a label its edge does not map.
	ErrUnmappedLabel = errors.New("router returned unmapped label")

	// ErrUnknownField indicates a partial state names an undeclared field.
	ErrUnknownField = errors.New("unknown state field")

	// ErrMaxStepsExceeded indicates an invocation ran more steps than allowed.
	// This prevents runaway loops when a conditional exit is missing.
	ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")
)

// EngineError represents an engine-level fault with a machine-readable code.
//
// Codes: MAX_STEPS_EXCEEDED, NODE_TIMEOUT, STORE_ERROR, ENCODE_ERROR.
type EngineError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// DefinitionError describes one problem found while compiling a graph.
// Use errors.Is with the Err* definition sentinels to classify it.
type DefinitionError struct {
	Err    error
	Node   string
	Detail string
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	msg := e.Err.Error()
	if e.Node != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.Node)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap returns the sentinel.
func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// RunError reports why a run transitioned to Failed.
type RunError struct {
	ThreadID string
	Node     string
	Err      error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("run %s failed at node %s: %v", e.ThreadID, e.Node, e.Err)
	}
	return fmt.Sprintf("run %s failed: %v", e.ThreadID, e.Err)
}

// Unwrap returns the underlying failure.
func (e *RunError) Unwrap() error {
	return e.Err
}

// NodeError represents an error raised by a node function.
// It provides structured error information for observability.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
