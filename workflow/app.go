package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/graph/emit"
	"github.com/dshills/orcgraph/graph/model"
	"github.com/dshills/orcgraph/graph/store"
	"github.com/dshills/orcgraph/internal/sandbox"
)

// Host protocol errors.
var (
	// ErrNotAwaitingChoice is returned by Choose when the analysis run is
	// not suspended at its wait gate.
	ErrNotAwaitingChoice = errors.New("run is not waiting for an analysis choice")

	// ErrNotAwaitingReview is returned by Review when the run is not
	// suspended before review.
	ErrNotAwaitingReview = errors.New("run is not waiting for a report review")

	// ErrInvalidChoice is returned by Choose for choices without a route.
	ErrInvalidChoice = errors.New("invalid choice")
)

// Options configures an App.
type Options struct {
	// Store persists the checkpoints of every graph. Required.
	Store store.Store

	// Model answers every node prompt. Required.
	Model model.ChatModel

	// Pool provides the per-thread code sandboxes. Required.
	Pool *sandbox.Pool

	Settings Settings

	Emitter     emit.Emitter
	Metrics     *graph.PrometheusMetrics
	Logger      *slog.Logger
	MaxSteps    int
	NodeTimeout time.Duration

	// Usage records model token usage. Nil creates a private tracker.
	Usage *model.UsageTracker
}

// Input starts a run.
type Input struct {
	FilePath string
	Query    string

	// Formats overrides the configured report formats.
	Formats []string

	UserID string
}

// RunView is a run's status together with the nested run it waits on.
type RunView struct {
	graph.Status
	Child *graph.Status `json:"child,omitempty"`
}

// App owns the four engines of the workflow, their shared store and the
// sandbox pool.
//
// Safe for concurrent use across thread ids.
type App struct {
	main     *graph.Engine
	analysis *graph.Engine
	report   *graph.Engine
	document *graph.Engine

	pool     *sandbox.Pool
	usage    *model.UsageTracker
	logger   *slog.Logger
	settings Settings
}

// NewApp compiles the graphs and creates their engines.
func NewApp(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Model == nil {
		return nil, errors.New("chat model is required")
	}
	if opts.Pool == nil {
		return nil, errors.New("sandbox pool is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Usage == nil {
		opts.Usage = model.NewUsageTracker()
	}

	n := &nodes{
		model:    opts.Model,
		usage:    opts.Usage,
		logger:   opts.Logger,
		settings: opts.Settings.withDefaults(),
	}
	engineOpts := []graph.Option{
		graph.WithEmitter(opts.Emitter),
		graph.WithMetrics(opts.Metrics),
		graph.WithLogger(opts.Logger),
		graph.WithDefaultNodeTimeout(opts.NodeTimeout),
	}
	if opts.MaxSteps > 0 {
		engineOpts = append(engineOpts, graph.WithMaxSteps(opts.MaxSteps))
	}

	app := &App{
		pool:     opts.Pool,
		usage:    opts.Usage,
		logger:   opts.Logger,
		settings: n.settings,
	}
	var err error
	build := func(name string, compile func() (*graph.Compiled, error)) *graph.Engine {
		if err != nil {
			return nil
		}
		var c *graph.Compiled
		if c, err = compile(); err != nil {
			err = fmt.Errorf("compile %s graph: %w", name, err)
			return nil
		}
		var e *graph.Engine
		if e, err = graph.New(c, opts.Store, engineOpts...); err != nil {
			err = fmt.Errorf("create %s engine: %w", name, err)
		}
		return e
	}

	app.analysis = build(AnalysisGraph, func() (*graph.Compiled, error) { return newAnalysisGraph(n) })
	app.report = build(ReportGraph, func() (*graph.Compiled, error) { return newReportGraph(n) })
	app.document = build(DocumentGraph, func() (*graph.Compiled, error) { return newDocumentGraph(n) })
	app.main = build(MainGraph, func() (*graph.Compiled, error) {
		return newMainGraph(n, engines{analysis: app.analysis, report: app.report, document: app.document})
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) runOptions(userID string) []graph.RunOption {
	opts := []graph.RunOption{graph.WithResource(ResourceSandbox, a.pool)}
	if userID != "" {
		opts = append(opts, graph.WithUserID(userID))
	}
	return opts
}

// Start begins a run for a file.
func (a *App) Start(ctx context.Context, threadID string, in Input) (graph.Result, error) {
	if err := validThreadID(threadID); err != nil {
		return graph.Result{}, err
	}
	if in.FilePath == "" {
		return graph.Result{}, errors.New("file path is required")
	}
	formats := in.Formats
	if len(formats) == 0 {
		formats = a.settings.Formats
	}
	a.logger.Info("starting run", "thread", threadID, "file", in.FilePath, "user", in.UserID)
	return a.main.Start(ctx, threadID, graph.State{
		FieldFilePath:   in.FilePath,
		FieldUserQuery:  in.Query,
		FieldReportType: formats,
	}, a.runOptions(in.UserID)...)
}

// Resume continues a suspended run without changing it. Gates that still
// lack input suspend again.
func (a *App) Resume(ctx context.Context, threadID string) (graph.Result, error) {
	return a.main.Resume(ctx, threadID, nil, a.runOptions("")...)
}

// Status returns the run's status, and the nested run's status when the run
// is suspended on one.
func (a *App) Status(ctx context.Context, threadID string) (RunView, error) {
	st, err := a.main.Status(ctx, threadID)
	if err != nil {
		return RunView{}, err
	}
	view := RunView{Status: st}
	if st.Interrupt != nil && st.Interrupt.ChildThreadID != "" {
		child, err := a.engineFor(st.Interrupt.ChildThreadID).Status(ctx, st.Interrupt.ChildThreadID)
		if err != nil {
			return RunView{}, err
		}
		view.Child = &child
	}
	return view, nil
}

// Choose answers the analysis wait gate: refine the current cycle, start a
// new one, or finish. Feedback, when given, is appended to the analysis
// feedback before the run resumes.
func (a *App) Choose(ctx context.Context, threadID, choice, feedback string) (graph.Result, error) {
	if !ValidChoice(choice) {
		return graph.Result{}, fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}
	st, err := a.main.Status(ctx, threadID)
	if err != nil {
		return graph.Result{}, err
	}
	childID := graph.DeriveThreadID(threadID, AnalysisSuffix)
	if st.Status != graph.StatusSuspended || st.Interrupt == nil || st.Interrupt.ChildThreadID != childID {
		return graph.Result{}, fmt.Errorf("%w: %s is %s", ErrNotAwaitingChoice, threadID, st.Status)
	}

	patch := graph.State{FieldUserChoice: CanonicalChoice(choice)}
	if feedback = strings.TrimSpace(feedback); feedback != "" {
		patch[FieldFeedback] = []string{feedback}
	}
	if _, err := a.analysis.ApplyPatch(ctx, childID, patch); err != nil {
		return graph.Result{}, fmt.Errorf("patch analysis run: %w", err)
	}
	a.logger.Info("analysis choice", "thread", threadID, "choice", patch[FieldUserChoice])
	return a.Resume(ctx, threadID)
}

// Review answers the report review gate. A rejection sends the run back to
// analysis with the feedback.
func (a *App) Review(ctx context.Context, threadID string, approve bool, feedback string) (graph.Result, error) {
	st, err := a.main.Status(ctx, threadID)
	if err != nil {
		return graph.Result{}, err
	}
	if st.Status != graph.StatusSuspended || st.Pending != NodeReview {
		return graph.Result{}, fmt.Errorf("%w: %s is %s", ErrNotAwaitingReview, threadID, st.Status)
	}

	patch := graph.State{FieldHumanFeedback: VerdictApprove}
	if !approve {
		patch[FieldHumanFeedback] = VerdictReject
		var lines []string
		if feedback = strings.TrimSpace(feedback); feedback != "" {
			lines = append(lines, feedback)
		}
		patch[FieldFeedback] = lines
	}
	a.logger.Info("report review", "thread", threadID, "approved", approve)
	return a.main.Resume(ctx, threadID, patch, a.runOptions("")...)
}

// History returns the checkpoints of a thread. Nested thread ids are
// accepted.
func (a *App) History(ctx context.Context, threadID string) ([]graph.Checkpoint, error) {
	return a.engineFor(threadID).History(ctx, threadID)
}

// Usage aggregates model usage of a run and its nested runs.
func (a *App) Usage(threadID string) model.UsageSummary {
	return a.usage.Summary(
		threadID,
		graph.DeriveThreadID(threadID, AnalysisSuffix),
		graph.DeriveThreadID(threadID, ReportSuffix),
		graph.DeriveThreadID(threadID, DocumentSuffix),
	)
}

// Threads returns the sandbox threads alive in this process.
func (a *App) Threads() []string {
	return a.pool.Threads()
}

// engineFor picks the engine owning a thread id by its suffix.
func (a *App) engineFor(threadID string) *graph.Engine {
	switch {
	case strings.HasSuffix(threadID, AnalysisSuffix):
		return a.analysis
	case strings.HasSuffix(threadID, ReportSuffix):
		return a.report
	case strings.HasSuffix(threadID, DocumentSuffix):
		return a.document
	default:
		return a.main
	}
}

func validThreadID(id string) error {
	if id == "" {
		return errors.New("thread id is required")
	}
	for _, suffix := range []string{AnalysisSuffix, ReportSuffix, DocumentSuffix} {
		if strings.HasSuffix(id, suffix) {
			return fmt.Errorf("thread id %q ends with reserved suffix %q", id, suffix)
		}
	}
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("thread id %q must not contain a path separator", id)
	}
	// Thread ids name per-run directories, so they must stay inside them.
	if !filepath.IsLocal(id) || id == "." {
		return fmt.Errorf("thread id %q is not a valid directory name", id)
	}
	return nil
}
