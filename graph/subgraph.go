package graph

import (
	"context"
	"errors"
	"fmt"
)

// Subgraph runs another compiled graph as a single node of its parent.
//
// The nested run gets its own thread id, derived from the parent's thread id
// and Suffix, and its own checkpoints; parent and child never share state.
// On every execution the adapter inspects the child's latest checkpoint:
//
//   - no checkpoint: start the child with Input(parent state)
//   - suspended or running: resume the child
//   - completed or failed: restart the child with Input(parent state)
//
// When the child completes, Output maps its final state into a partial state
// for the parent. When the child suspends, the adapter returns an
// *InterruptError naming the child thread and its pending node, so the parent
// suspends with this node pending. Resuming the parent re-enters the adapter,
// which resumes the child.
//
// Example:
//
//	analysis := &graph.Subgraph{
//	    Engine: analysisEngine,
//	    Suffix: "_sub",
//	    Input: func(s graph.State) (graph.State, error) {
//	        return graph.State{"dataset_path": s.String("file_path")}, nil
//	    },
//	    Output: func(_, child graph.State) (graph.State, error) {
//	        return graph.State{"analysis_results": child.Map("insights")}, nil
//	    },
//	}
//	_ = g.AddNode("analysis", analysis)
type Subgraph struct {
	// Engine executes the nested graph. Required.
	Engine *Engine

	// Suffix is appended to the parent thread id to form the child's.
	Suffix string

	// Input builds the child's initial state. Nil starts from an empty state.
	Input func(parent State) (State, error)

	// Output maps the completed child state into the parent's partial state.
	// Nil contributes nothing.
	Output func(parent, child State) (State, error)

	// ResumePatch builds the patch applied when resuming a suspended child.
	// Nil resumes the child unchanged.
	ResumePatch func(parent State) State
}

// DeriveThreadID returns the thread id of a nested run.
func DeriveThreadID(parent, suffix string) string {
	return parent + suffix
}

// Run implements Node.
func (s *Subgraph) Run(ctx context.Context, state State, rc RunContext) (State, error) {
	if s.Engine == nil {
		return nil, errors.New("subgraph has no engine")
	}
	if s.Suffix == "" {
		return nil, errors.New("subgraph suffix is required")
	}
	childID := DeriveThreadID(rc.ThreadID, s.Suffix)

	_, status, err := s.Engine.Pending(ctx, childID)
	if err != nil {
		return nil, err
	}

	opts := []RunOption{Inherit(rc)}
	var res Result
	switch {
	case status == StatusIdle:
		var initial State
		if initial, err = s.input(state); err != nil {
			return nil, err
		}
		res, err = s.Engine.Start(ctx, childID, initial, opts...)
	case status.Terminal():
		var initial State
		if initial, err = s.input(state); err != nil {
			return nil, err
		}
		res, err = s.Engine.Restart(ctx, childID, initial, opts...)
	default:
		var patch State
		if s.ResumePatch != nil {
			patch = s.ResumePatch(state)
		}
		res, err = s.Engine.Resume(ctx, childID, patch, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("nested run %s: %w", childID, err)
	}

	switch res.Status {
	case StatusSuspended:
		reason := "waiting on nested run"
		if res.Interrupt != nil && res.Interrupt.Reason != "" {
			reason = res.Interrupt.Reason
		}
		return nil, &InterruptError{
			Reason:        reason,
			ChildThreadID: childID,
			ChildPending:  res.Pending,
		}
	case StatusCompleted:
		if s.Output == nil {
			return nil, nil
		}
		return s.Output(state, res.State)
	default:
		return nil, fmt.Errorf("nested run %s ended %s", childID, res.Status)
	}
}

func (s *Subgraph) input(state State) (State, error) {
	if s.Input == nil {
		return State{}, nil
	}
	initial, err := s.Input(state)
	if err != nil {
		return nil, fmt.Errorf("build nested input: %w", err)
	}
	return initial, nil
}
