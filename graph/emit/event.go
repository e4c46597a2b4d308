package emit

// Event messages emitted by the engine.
const (
	MsgRunStart     = "run_start"
	MsgRunResume    = "run_resume"
	MsgNodeStart    = "node_start"
	MsgNodeEnd      = "node_end"
	MsgNodeError    = "node_error"
	MsgRoute        = "route"
	MsgInterrupt    = "interrupt"
	MsgRunComplete  = "run_complete"
	MsgRunFailed    = "run_failed"
	MsgPatchApplied = "patch_applied"
)

// Event represents an observability event emitted during a run.
//
// Events describe node execution, routing decisions, suspensions and run
// outcomes. They never carry full state, only identifiers and small
// metadata values.
type Event struct {
	// ThreadID identifies the run that emitted this event.
	ThreadID string

	// Graph is the name of the graph being executed.
	Graph string

	// Step is the step number within the invocation (1-indexed).
	// Zero for run-level events.
	Step int

	// NodeID identifies the node the event concerns.
	// Empty for run-level events.
	NodeID string

	// Msg is the event kind, one of the Msg* constants.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": node execution duration
	//   - "error": error details
	//   - "label": router label chosen
	//   - "next": destination node
	//   - "seq": checkpoint sequence number
	//   - "parent_thread_id": parent of a nested run
	Meta map[string]any
}
