package graph

import (
	"context"
	"errors"
	"time"
)

// Node represents a processing unit in the workflow graph.
//
// A node receives the current state and the run context and returns a
// partial state holding only the fields it changes. Returning an error fails
// the run unless the node was registered with an OnError handler. Returning
// an *InterruptError (see Interrupt) suspends the run before this node; the
// node runs again when the run is resumed.
type Node interface {
	Run(ctx context.Context, state State, rc RunContext) (State, error)
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	greet := graph.NodeFunc(func(ctx context.Context, s graph.State, rc graph.RunContext) (graph.State, error) {
//	    return graph.State{"greeting": "hello " + s.String("name")}, nil
//	})
type NodeFunc func(ctx context.Context, state State, rc RunContext) (State, error)

// Run implements the Node interface for NodeFunc.
func (f NodeFunc) Run(ctx context.Context, state State, rc RunContext) (State, error) {
	return f(ctx, state, rc)
}

// ErrorHandler converts a node error into a partial state so the run can
// continue. Routers downstream inspect the failure fields it writes.
// Returning a non-nil error fails the run.
type ErrorHandler func(state State, err error) (State, error)

// NodeOption configures a node at registration time.
type NodeOption func(*nodeSpec)

// nodeSpec is a registered node with its per-node settings.
type nodeSpec struct {
	name    string
	node    Node
	timeout time.Duration
	onError ErrorHandler
}

// WithNodeTimeout bounds a single execution of the node. It overrides the
// engine-wide default set by WithDefaultNodeTimeout.
func WithNodeTimeout(d time.Duration) NodeOption {
	return func(ns *nodeSpec) {
		ns.timeout = d
	}
}

// OnError registers a handler that turns the node's thrown errors into a
// state-carried failure signal. Interrupts are never passed to the handler.
func OnError(h ErrorHandler) NodeOption {
	return func(ns *nodeSpec) {
		ns.onError = h
	}
}

// RunContext carries the identity of the run a node executes in, plus
// resources owned by the host application.
//
// Resources are never stored in state. Node functions that touch external
// resources (files, sandboxes) must namespace them by ThreadID so concurrent
// runs do not interfere.
type RunContext struct {
	// ThreadID identifies the run.
	ThreadID string

	// UserID identifies the caller on whose behalf the run executes.
	UserID string

	// ParentThreadID is set when the run is nested inside another run.
	ParentThreadID string

	// Graph is the name of the graph being executed.
	Graph string

	// Node is the node being executed.
	Node string

	// Step counts the steps executed in this invocation, starting at 1.
	Step int

	resources map[string]any
}

// Resource returns a host resource registered with WithResource.
func (rc RunContext) Resource(key string) (any, bool) {
	v, ok := rc.resources[key]
	return v, ok
}

// Nested reports whether the run was started by a parent run.
func (rc RunContext) Nested() bool {
	return rc.ParentThreadID != ""
}

// RunOption configures the run context of a Start, Resume or Restart call.
type RunOption func(*RunContext)

// WithUserID sets the user id exposed to node functions.
func WithUserID(id string) RunOption {
	return func(rc *RunContext) {
		rc.UserID = id
	}
}

// WithResource exposes a host-owned resource to node functions.
func WithResource(key string, value any) RunOption {
	return func(rc *RunContext) {
		if rc.resources == nil {
			rc.resources = make(map[string]any)
		}
		rc.resources[key] = value
	}
}

// Inherit propagates the parent's user id and resources to a nested run and
// records the parent thread id.
func Inherit(parent RunContext) RunOption {
	return func(rc *RunContext) {
		rc.UserID = parent.UserID
		rc.ParentThreadID = parent.ThreadID
		for k, v := range parent.resources {
			if rc.resources == nil {
				rc.resources = make(map[string]any, len(parent.resources))
			}
			rc.resources[k] = v
		}
	}
}

// InterruptError signals that a node cannot proceed until the run is resumed.
//
// A node returns it when it is waiting for external input, and the subgraph
// adapter returns it when its nested run is still suspended. The engine
// persists the run as Suspended with the node as the pending node and
// discards the node's partial output.
type InterruptError struct {
	// Node is the node that suspended. The engine fills it in.
	Node string `json:"node,omitempty"`

	// Reason is a human-readable explanation for the host application.
	Reason string `json:"reason,omitempty"`

	// ChildThreadID is the nested run that caused the suspension, if any.
	ChildThreadID string `json:"child_thread_id,omitempty"`

	// ChildPending is the pending node of the nested run, if any.
	ChildPending string `json:"child_pending,omitempty"`
}

// Error implements the error interface.
func (e *InterruptError) Error() string {
	msg := "interrupted"
	if e.Node != "" {
		msg += " at " + e.Node
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.ChildThreadID != "" {
		msg += " (waiting on " + e.ChildThreadID + " at " + e.ChildPending + ")"
	}
	return msg
}

// Interrupt returns an error that suspends the run before the current node.
func Interrupt(reason string) error {
	return &InterruptError{Reason: reason}
}

// IsInterrupt reports whether err is or wraps an *InterruptError.
func IsInterrupt(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie)
}

// AsInterrupt extracts the *InterruptError from err.
func AsInterrupt(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
