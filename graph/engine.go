package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/orcgraph/graph/emit"
	"github.com/dshills/orcgraph/graph/store"
)

// Engine executes runs of one compiled graph against a checkpoint store.
//
// Every run is identified by a thread id. The engine loads the latest
// checkpoint for the thread, executes nodes one at a time, merges each
// partial output through the schema's reducers, and persists a checkpoint
// after every step. A run stops when it reaches End, suspends before an
// interrupt-flagged node, or fails.
//
// Calls on the same thread id are serialized. Calls on different thread ids
// run concurrently; the engine keeps no other mutable state between runs.
//
// Example:
//
//	engine, err := graph.New(compiled, store.NewMemStore(), graph.WithMaxSteps(50))
//	if err != nil {
//	    return err
//	}
//	res, err := engine.Start(ctx, "thread-1", graph.State{"query": "q"})
//	if res.Status == graph.StatusSuspended {
//	    res, err = engine.Resume(ctx, "thread-1", graph.State{"approved": true})
//	}
type Engine struct {
	graph *Compiled
	store store.Store
	cfg   engineConfig
	locks sync.Map // threadID -> *sync.Mutex
}

// New creates an engine for a compiled graph.
func New(g *Compiled, st store.Store, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("compiled graph is required")
	}
	if st == nil {
		return nil, errors.New("checkpoint store is required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("invalid engine option: %w", err)
		}
	}
	return &Engine{graph: g, store: st, cfg: cfg}, nil
}

// Graph returns the compiled graph the engine executes.
func (e *Engine) Graph() *Compiled {
	return e.graph
}

func (e *Engine) lock(threadID string) func() {
	v, _ := e.locks.LoadOrStore(threadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// cursor is where a step loop begins.
type cursor struct {
	seq     int64
	state   State
	node    string
	resumed string // pending node being resumed past, if any
}

// Start begins a new run at the entry node.
//
// Start is valid only when the thread has no checkpoint; otherwise it returns
// ErrThreadExists and nothing is written.
func (e *Engine) Start(ctx context.Context, threadID string, initial State, opts ...RunOption) (Result, error) {
	if threadID == "" {
		return Result{}, errors.New("thread id is required")
	}
	unlock := e.lock(threadID)
	defer unlock()

	exists, err := e.store.Exists(ctx, threadID)
	if err != nil {
		return Result{}, e.storeError("check thread", err)
	}
	if exists {
		return Result{}, fmt.Errorf("%w: %s", ErrThreadExists, threadID)
	}
	return e.begin(ctx, threadID, 0, "", initial, opts)
}

// Restart begins a fresh cycle on a thread whose last run completed or
// failed. The new run starts from the entry node with the given initial
// state; sequence numbers continue from the previous run so the thread's
// history stays intact.
func (e *Engine) Restart(ctx context.Context, threadID string, initial State, opts ...RunOption) (Result, error) {
	unlock := e.lock(threadID)
	defer unlock()

	cp, err := e.latest(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	if !cp.Status.Terminal() {
		return Result{}, fmt.Errorf("%w: %s is %s", ErrNotTerminal, threadID, cp.Status)
	}
	return e.begin(ctx, threadID, cp.Seq, cp.UserID, initial, opts)
}

func (e *Engine) begin(ctx context.Context, threadID string, seq int64, userID string, initial State, opts []RunOption) (Result, error) {
	state, err := e.graph.schema.Apply(State{}, initial)
	if err != nil {
		return Result{}, fmt.Errorf("invalid initial state: %w", err)
	}
	rc := e.runContext(threadID, userID, opts)

	seq++
	if err := e.save(ctx, Checkpoint{
		ThreadID: threadID,
		UserID:   rc.UserID,
		Seq:      seq,
		Status:   StatusRunning,
		State:    state,
		Next:     e.graph.entry,
	}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Result{}, fmt.Errorf("%w: %s", ErrThreadExists, threadID)
		}
		return Result{}, err
	}

	e.cfg.logger.Debug("run started", "graph", e.graph.name, "thread", threadID, "parent", rc.ParentThreadID)
	e.emit(rc, 0, "", emit.MsgRunStart, map[string]any{"seq": seq, "parent_thread_id": rc.ParentThreadID})
	return e.run(ctx, rc, cursor{seq: seq, state: state, node: e.graph.entry})
}

// Resume continues a suspended run.
//
// The patch is merged into the checkpointed state through the field reducers
// before the pending node executes; pass nil to resume unchanged. The pending
// node runs even though it is interrupt-flagged. A run left Running by an
// interrupted process continues from its next node.
//
// Resume returns ErrNotSuspended for runs in any other status, and
// ErrThreadNotFound for unknown threads. Nothing is written in either case.
func (e *Engine) Resume(ctx context.Context, threadID string, patch State, opts ...RunOption) (Result, error) {
	unlock := e.lock(threadID)
	defer unlock()

	cp, err := e.latest(ctx, threadID)
	if err != nil {
		return Result{}, err
	}

	cur := cursor{seq: cp.Seq}
	switch cp.Status {
	case StatusSuspended:
		cur.node = cp.Pending
		cur.resumed = cp.Pending
	case StatusRunning:
		cur.node = cp.Next
	default:
		return Result{}, fmt.Errorf("%w: %s is %s", ErrNotSuspended, threadID, cp.Status)
	}
	if cur.node == "" {
		return Result{}, fmt.Errorf("%w: %s has no pending node", ErrNotSuspended, threadID)
	}
	if _, ok := e.graph.nodes[cur.node]; !ok {
		return Result{}, fmt.Errorf("%w: checkpoint names node %q", ErrUnknownDestination, cur.node)
	}

	cur.state, err = e.graph.schema.Apply(cp.State, patch)
	if err != nil {
		return Result{}, fmt.Errorf("invalid patch: %w", err)
	}

	rc := e.runContext(threadID, cp.UserID, opts)
	e.cfg.logger.Debug("run resumed", "graph", e.graph.name, "thread", threadID, "node", cur.node)
	e.emit(rc, 0, cur.node, emit.MsgRunResume, map[string]any{"seq": cp.Seq, "patched": len(patch) > 0})
	return e.run(ctx, rc, cur)
}

// run is the step loop.
func (e *Engine) run(ctx context.Context, rc RunContext, cur cursor) (Result, error) {
	e.cfg.metrics.RunStarted(e.graph.name)
	defer e.cfg.metrics.RunFinished(e.graph.name)

	state, node, seq := cur.state, cur.node, cur.seq
	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			// Abandoned: the last checkpoint stays resumable.
			return Result{ThreadID: rc.ThreadID, Status: StatusRunning, State: state}, err
		}
		if step > e.cfg.maxSteps {
			return e.fail(ctx, rc, seq, state, node, &EngineError{
				Message: fmt.Sprintf("exceeded %d steps", e.cfg.maxSteps),
				Code:    "MAX_STEPS_EXCEEDED",
				Cause:   ErrMaxStepsExceeded,
			})
		}

		if e.graph.InterruptBefore(node) && node != cur.resumed {
			return e.suspend(ctx, rc, seq, state, &InterruptError{Node: node, Reason: "interrupt before " + node})
		}
		cur.resumed = ""

		spec := e.graph.nodes[node]
		rc.Node, rc.Step = node, step
		e.emit(rc, step, node, emit.MsgNodeStart, nil)

		input, err := state.Clone()
		if err != nil {
			return e.fail(ctx, rc, seq, state, node, err)
		}
		started := time.Now()
		partial, err := executeNode(ctx, spec, input, rc, e.cfg.defaultNodeTimeout)
		elapsed := time.Since(started)

		if err != nil {
			if ie, ok := AsInterrupt(err); ok {
				e.cfg.metrics.RecordStepLatency(e.graph.name, node, elapsed, "interrupt")
				suspended := *ie
				suspended.Node = node
				return e.suspend(ctx, rc, seq, state, &suspended)
			}
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return Result{ThreadID: rc.ThreadID, Status: StatusRunning, State: state}, err
			}

			e.cfg.metrics.RecordStepLatency(e.graph.name, node, elapsed, stepStatus(err))
			e.emit(rc, step, node, emit.MsgNodeError, map[string]any{
				"error":       err.Error(),
				"handled":     spec.onError != nil,
				"duration_ms": elapsed.Milliseconds(),
			})
			if spec.onError == nil {
				e.cfg.metrics.IncrementNodeErrors(e.graph.name, node, false)
				return e.fail(ctx, rc, seq, state, node, err)
			}
			e.cfg.metrics.IncrementNodeErrors(e.graph.name, node, true)
			partial, err = spec.onError(input, err)
			if err != nil {
				return e.fail(ctx, rc, seq, state, node, err)
			}
		} else {
			e.cfg.metrics.RecordStepLatency(e.graph.name, node, elapsed, "success")
		}

		merged, err := e.graph.schema.Merge(state, partial)
		if err != nil {
			return e.fail(ctx, rc, seq, state, node, fmt.Errorf("merge output of %s: %w", node, err))
		}
		e.emit(rc, step, node, emit.MsgNodeEnd, map[string]any{
			"duration_ms": elapsed.Milliseconds(),
			"fields":      partial.Keys(),
		})

		next, label, err := e.graph.routes[node].next(node, merged)
		if err != nil {
			return e.fail(ctx, rc, seq, merged, node, err)
		}
		if label != "" {
			e.emit(rc, step, node, emit.MsgRoute, map[string]any{"label": label, "next": next})
		}

		seq++
		if next == End {
			if err := e.save(ctx, Checkpoint{
				ThreadID: rc.ThreadID,
				UserID:   rc.UserID,
				Seq:      seq,
				Status:   StatusCompleted,
				State:    merged,
				Node:     node,
			}); err != nil {
				return Result{ThreadID: rc.ThreadID, Status: StatusRunning, State: state}, err
			}
			e.cfg.metrics.IncrementRuns(e.graph.name, StatusCompleted)
			e.emit(rc, step, node, emit.MsgRunComplete, map[string]any{"seq": seq})
			return Result{ThreadID: rc.ThreadID, Status: StatusCompleted, State: merged}, nil
		}

		if err := e.save(ctx, Checkpoint{
			ThreadID: rc.ThreadID,
			UserID:   rc.UserID,
			Seq:      seq,
			Status:   StatusRunning,
			State:    merged,
			Node:     node,
			Next:     next,
		}); err != nil {
			return Result{ThreadID: rc.ThreadID, Status: StatusRunning, State: state}, err
		}
		state, node = merged, next
	}
}

func stepStatus(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) && ee.Code == "NODE_TIMEOUT" {
		return "timeout"
	}
	return "error"
}

// suspend persists a Suspended checkpoint before ie.Node.
func (e *Engine) suspend(ctx context.Context, rc RunContext, seq int64, state State, ie *InterruptError) (Result, error) {
	seq++
	if err := e.save(ctx, Checkpoint{
		ThreadID:  rc.ThreadID,
		UserID:    rc.UserID,
		Seq:       seq,
		Status:    StatusSuspended,
		State:     state,
		Pending:   ie.Node,
		Interrupt: ie,
	}); err != nil {
		return Result{ThreadID: rc.ThreadID, Status: StatusRunning, State: state}, err
	}
	e.cfg.metrics.IncrementRuns(e.graph.name, StatusSuspended)
	e.cfg.metrics.IncrementInterrupts(e.graph.name, ie.Node)
	meta := map[string]any{"seq": seq, "reason": ie.Reason}
	if ie.ChildThreadID != "" {
		meta["child_thread_id"] = ie.ChildThreadID
		meta["child_pending"] = ie.ChildPending
	}
	e.emit(rc, rc.Step, ie.Node, emit.MsgInterrupt, meta)
	return Result{
		ThreadID:  rc.ThreadID,
		Status:    StatusSuspended,
		State:     state,
		Pending:   ie.Node,
		Interrupt: ie,
	}, nil
}

// fail persists a Failed checkpoint and returns the failure as a *RunError.
func (e *Engine) fail(ctx context.Context, rc RunContext, seq int64, state State, node string, cause error) (Result, error) {
	runErr := &RunError{ThreadID: rc.ThreadID, Node: node, Err: cause}
	seq++
	if err := e.save(ctx, Checkpoint{
		ThreadID: rc.ThreadID,
		UserID:   rc.UserID,
		Seq:      seq,
		Status:   StatusFailed,
		State:    state,
		Node:     node,
		Error:    cause.Error(),
	}); err != nil {
		e.cfg.logger.Error("failed to persist run failure", "thread", rc.ThreadID, "error", err)
		return Result{ThreadID: rc.ThreadID, Status: StatusRunning, State: state}, errors.Join(runErr, err)
	}
	e.cfg.metrics.IncrementRuns(e.graph.name, StatusFailed)
	e.emit(rc, rc.Step, node, emit.MsgRunFailed, map[string]any{"seq": seq, "error": cause.Error()})
	return Result{ThreadID: rc.ThreadID, Status: StatusFailed, State: state}, runErr
}

// Status returns the latest view of a thread. Threads without a checkpoint
// report StatusIdle.
func (e *Engine) Status(ctx context.Context, threadID string) (Status, error) {
	cp, err := e.latest(ctx, threadID)
	if errors.Is(err, ErrThreadNotFound) {
		return Status{ThreadID: threadID, Status: StatusIdle}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return statusOf(cp), nil
}

// Pending returns the pending node and status of a thread without decoding
// its state. Threads without a checkpoint report StatusIdle.
func (e *Engine) Pending(ctx context.Context, threadID string) (string, RunStatus, error) {
	pending, status, err := e.store.Pending(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return "", StatusIdle, nil
	}
	if err != nil {
		return "", "", e.storeError("read pending node", err)
	}
	return pending, RunStatus(status), nil
}

// ApplyPatch merges a patch into the thread's checkpointed state without
// advancing the run. Status and pending node are preserved. Hosts use it to
// inject human feedback before a later Resume.
func (e *Engine) ApplyPatch(ctx context.Context, threadID string, patch State) (Status, error) {
	unlock := e.lock(threadID)
	defer unlock()

	cp, err := e.latest(ctx, threadID)
	if err != nil {
		return Status{}, err
	}
	state, err := e.graph.schema.Apply(cp.State, patch)
	if err != nil {
		return Status{}, fmt.Errorf("invalid patch: %w", err)
	}
	cp.Seq++
	cp.State = state
	if err := e.save(ctx, cp); err != nil {
		return Status{}, err
	}

	rc := e.runContext(threadID, cp.UserID, nil)
	e.emit(rc, 0, cp.Pending, emit.MsgPatchApplied, map[string]any{"seq": cp.Seq, "fields": patch.Keys()})
	return statusOf(cp), nil
}

// History returns every checkpoint of the thread in sequence order.
func (e *Engine) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	records, err := e.store.History(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, e.storeError("load history", err)
	}
	out := make([]Checkpoint, 0, len(records))
	for _, rec := range records {
		cp, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (e *Engine) latest(ctx context.Context, threadID string) (Checkpoint, error) {
	rec, err := e.store.LoadLatest(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return Checkpoint{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return Checkpoint{}, e.storeError("load checkpoint", err)
	}
	return fromRecord(rec)
}

func (e *Engine) save(ctx context.Context, cp Checkpoint) error {
	cp.Graph = e.graph.name
	cp.CreatedAt = e.cfg.now().UTC()
	rec, err := cp.record()
	if err != nil {
		return err
	}
	if err := e.store.Save(ctx, rec); err != nil {
		return e.storeError("save checkpoint", err)
	}
	e.cfg.metrics.IncrementCheckpoints(e.graph.name)
	return nil
}

func (e *Engine) storeError(op string, err error) error {
	return &EngineError{Message: op + ": " + err.Error(), Code: "STORE_ERROR", Cause: err}
}

// runContext builds the context of one invocation. userID is the id recorded
// in the thread's checkpoints; a WithUserID or Inherit option overrides it.
func (e *Engine) runContext(threadID, userID string, opts []RunOption) RunContext {
	rc := RunContext{ThreadID: threadID, Graph: e.graph.name, UserID: userID}
	for _, opt := range opts {
		opt(&rc)
	}
	return rc
}

func (e *Engine) emit(rc RunContext, step int, node, msg string, meta map[string]any) {
	if rc.ParentThreadID != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["parent_thread_id"] = rc.ParentThreadID
	}
	e.cfg.emitter.Emit(emit.Event{
		ThreadID: rc.ThreadID,
		Graph:    e.graph.name,
		Step:     step,
		NodeID:   node,
		Msg:      msg,
		Meta:     meta,
	})
}
