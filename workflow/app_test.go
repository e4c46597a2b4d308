package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/graph/emit"
)

func TestApp_TabularRunCompletesAfterTwoSuspensions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.start(t, "T")

	child := f.child(t, "T")
	assert.Equal(t, graph.StatusSuspended, child.Status)
	assert.Equal(t, NodeWait, child.Pending)
	assert.Equal(t, 1, child.State.Int(FieldCycle))
	assert.Contains(t, child.State.Map(FieldInsights), "overall_1")
	assert.Len(t, child.State.Strings(FieldFigures), 1)

	res, err := f.app.Choose(ctx, "T", LabelFinish, "")
	require.NoError(t, err)
	require.Equal(t, graph.StatusSuspended, res.Status)
	assert.Equal(t, NodeReview, res.Pending)
	assert.NotEmpty(t, res.State.String(FieldFinalReport))

	res, err = f.app.Review(ctx, "T", true, "")
	require.NoError(t, err)
	require.Equal(t, graph.StatusCompleted, res.Status)

	final := res.State
	assert.Equal(t, "# Final Analysis Report\n\n## 1. Executive Summary\n\n- Search wins", final.String(FieldFinalReport))
	assert.Equal(t, LabelTabular, final.String(FieldFileType))
	assert.Contains(t, final.String(FieldCleanData), "Shape: 3 rows")
	assert.Equal(t, 1, final.Int(FieldReviewCycles))

	md, ok := final.Map(FieldArtifacts)["markdown"].(string)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.outDir, "T", "report.md"), md)
	assert.FileExists(t, md)

	usage := f.app.Usage("T")
	assert.Equal(t, 4, usage.Calls, "plan, code, insight and report; auto-approve skips the judge")
	assert.Greater(t, usage.CostUSD, 0.0)
}

func TestApp_StatusOfUnknownThreadIsIdle(t *testing.T) {
	f := newFixture(t)
	view, err := f.app.Status(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, graph.StatusIdle, view.Status.Status)
	assert.Nil(t, view.Child)
}

func TestApp_RetryRecoversWithinCeiling(t *testing.T) {
	f := newFixture(t, withScript(
		outcome{failed: true, output: "Traceback: KeyError 'clicks'"},
		outcome{failed: true, output: "Traceback: NameError 'plt'"},
	))
	ctx := context.Background()
	f.start(t, "T")

	history, err := f.app.History(ctx, "T"+AnalysisSuffix)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, valuesAt(history, NodeRun, FieldErrorCount))
	assert.Equal(t, 3, f.boxes.get("T"+AnalysisSuffix).Execs())

	child := f.child(t, "T")
	assert.Equal(t, 3, child.State.Int(FieldExecutions))
	assert.Empty(t, child.State.String(FieldLastError))

	coder := f.model.calls(coderSystem)
	require.Len(t, coder, 3)
	assert.Contains(t, coder[1], "KeyError 'clicks'")
	assert.Contains(t, coder[2], "NameError 'plt'")
}

func TestApp_RetryCeilingFailsRun(t *testing.T) {
	fail := outcome{failed: true, output: "Traceback: boom"}
	f := newFixture(t, withScript(fail, fail, fail, fail, fail))
	ctx := context.Background()

	res, err := f.app.Start(ctx, "T", Input{FilePath: f.dataset})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetryCeiling), "got %v", err)
	assert.Equal(t, graph.StatusFailed, res.Status)

	assert.Equal(t, 3, f.boxes.get("T"+AnalysisSuffix).Execs(), "no fourth attempt")

	view, err := f.app.Status(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, graph.StatusFailed, view.Status.Status)
	assert.Contains(t, view.Error, "retry ceiling")

	childHistory, err := f.app.History(ctx, "T"+AnalysisSuffix)
	require.NoError(t, err)
	last := childHistory[len(childHistory)-1]
	assert.Equal(t, graph.StatusFailed, last.Status)
	assert.Equal(t, 3, last.State.Int(FieldErrorCount))
}

func TestApp_LaunchErrorsCountAsAttempts(t *testing.T) {
	f := newFixture(t, withScript(outcome{err: errors.New("exec: python3 not found")}))
	f.start(t, "T")

	history, err := f.app.History(context.Background(), "T"+AnalysisSuffix)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, valuesAt(history, NodeRun, FieldErrorCount))
}

func TestApp_ApprovalLoopRevisesThenWaits(t *testing.T) {
	f := newFixture(t, withJudge("REJECT: CTR is computed on impressions", "APPROVE"))
	f.start(t, "T")

	child := f.child(t, "T")
	assert.True(t, child.State.Bool(FieldApproved))
	assert.Len(t, f.model.calls(judgeSystem), 2)

	coder := f.model.calls(coderSystem)
	require.Len(t, coder, 2)
	assert.Contains(t, coder[1], "CTR is computed on impressions")
}

func TestApp_RevisionCeilingEscalatesToUser(t *testing.T) {
	f := newFixture(t, withJudge("REJECT: wrong"))
	f.start(t, "T")

	child := f.child(t, "T")
	assert.False(t, child.State.Bool(FieldApproved))
	assert.Equal(t, DefaultMaxRevisions, child.State.Int(FieldRevisions))
	assert.Len(t, f.model.calls(judgeSystem), DefaultMaxRevisions)
	assert.Len(t, f.model.calls(coderSystem), DefaultMaxRevisions)
}

func TestApp_NewCycleAddsInsight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "T")

	res, err := f.app.Choose(ctx, "T", "추가", "Break it down by week")
	require.NoError(t, err)
	require.Equal(t, graph.StatusSuspended, res.Status)
	assert.Equal(t, NodeWait, res.Interrupt.ChildPending)

	child := f.child(t, "T")
	assert.Equal(t, 2, child.State.Int(FieldCycle))
	insights := child.State.Map(FieldInsights)
	assert.Contains(t, insights, "overall_1")
	assert.Contains(t, insights, "overall_2")
	assert.Len(t, child.State.Strings(FieldFigures), 2)
	assert.Equal(t, []string{"Break it down by week"}, child.State.Strings(FieldFeedback))

	plans := f.model.calls(plannerSystem)
	require.Len(t, plans, 2)
	assert.Contains(t, plans[1], "Break it down by week")
}

func TestApp_RefineRewritesCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "T")

	_, err := f.app.Choose(ctx, "T", "수정", "Use a line chart")
	require.NoError(t, err)

	child := f.child(t, "T")
	assert.Equal(t, 1, child.State.Int(FieldCycle))
	assert.Len(t, child.State.Strings(FieldFigures), 1, "same figure names are not duplicated")

	coder := f.model.calls(coderSystem)
	require.Len(t, coder, 2)
	assert.Contains(t, coder[1], "Use a line chart")
	assert.Len(t, f.model.calls(plannerSystem), 1)
}

func TestApp_ChooseRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.app.Choose(ctx, "T", "maybe", "")
	assert.ErrorIs(t, err, ErrInvalidChoice)

	_, err = f.app.Choose(ctx, "T", LabelFinish, "")
	assert.ErrorIs(t, err, ErrNotAwaitingChoice, "no run yet")

	f.start(t, "T")
	_, err = f.app.Review(ctx, "T", true, "")
	assert.ErrorIs(t, err, ErrNotAwaitingReview)

	_, err = f.app.Choose(ctx, "T", LabelFinish, "")
	require.NoError(t, err)
	_, err = f.app.Choose(ctx, "T", LabelFinish, "")
	assert.ErrorIs(t, err, ErrNotAwaitingChoice, "waiting for review now")
}

func TestApp_EmptyResumeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.start(t, "T")
	before := f.child(t, "T")

	for i := 0; i < 2; i++ {
		res, err := f.app.Resume(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, graph.StatusSuspended, res.Status)
		assert.Equal(t, first.Pending, res.Pending)
		assert.Equal(t, first.Interrupt.ChildPending, res.Interrupt.ChildPending)
	}
	after := f.child(t, "T")
	assert.Equal(t, before.State, after.State)
	assert.Len(t, f.model.calls(coderSystem), 1)

	_, err := f.app.Choose(ctx, "T", LabelFinish, "")
	require.NoError(t, err)
	res, err := f.app.Resume(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, NodeReview, res.Pending)
	assert.Len(t, f.model.calls(reporterSystem), 1)
}

func TestApp_ReviewRejectionReentersAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "T")

	_, err := f.app.Choose(ctx, "T", LabelFinish, "")
	require.NoError(t, err)

	res, err := f.app.Review(ctx, "T", false, "Add a conversion funnel")
	require.NoError(t, err)
	require.Equal(t, graph.StatusSuspended, res.Status)
	assert.Equal(t, NodeAnalysis, res.Pending)
	assert.Equal(t, NodeWait, res.Interrupt.ChildPending)

	plans := f.model.calls(plannerSystem)
	require.Len(t, plans, 2)
	assert.Contains(t, plans[1], "Add a conversion funnel")

	_, err = f.app.Choose(ctx, "T", "완료", "")
	require.NoError(t, err)
	res, err = f.app.Review(ctx, "T", true, "")
	require.NoError(t, err)
	require.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.State.Int(FieldReviewCycles))
	assert.Len(t, f.model.calls(reporterSystem), 2)
}

func TestApp_ReportFormats(t *testing.T) {
	f := newFixture(t, withFormats("markdown", "pdf", "html", "pptx"))
	ctx := context.Background()
	f.start(t, "T")

	res, err := f.app.Choose(ctx, "T", LabelFinish, "")
	require.NoError(t, err)
	require.Equal(t, NodeReview, res.Pending)

	artifacts := res.State.Map(FieldArtifacts)
	for _, format := range []string{"markdown", "pdf", "html"} {
		path, ok := artifacts[format].(string)
		if assert.True(t, ok, format) {
			assert.FileExists(t, path)
		}
	}
	assert.NotContains(t, artifacts, "pptx")

	steps := strings.Join(res.State.Strings(FieldStepsLog), "\n")
	assert.Contains(t, steps, "create_pptx: error: unsupported report format")

	report, err := f.app.History(ctx, "T"+ReportSuffix)
	require.NoError(t, err)
	final := report[len(report)-1]
	assert.Equal(t, graph.StatusCompleted, final.Status)
	assert.Equal(t, []string{"pdf", "html", "pptx"}, final.State.Strings(FieldGeneratedFormats))
}

func TestApp_DocumentRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memo.txt")
	require.NoError(t, os.WriteFile(path, []byte("Quarterly revenue grew 12% on search ads."), 0o644))

	res, err := f.app.Start(ctx, "D", Input{FilePath: path})
	require.NoError(t, err)
	require.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, LabelDocument, res.State.String(FieldFileType))
	assert.Equal(t, "A short summary of the document.", res.State.String(FieldDocumentSummary))

	prompts := f.model.calls(documentSystem)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Quarterly revenue grew 12%")

	history, err := f.app.History(ctx, "D"+DocumentSuffix)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, history[len(history)-1].Status)
	assert.Empty(t, f.app.Threads(), "documents never touch the sandbox")
}

func TestApp_EmptyDocumentSkipsModel(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "blank.md")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	res, err := f.app.Start(context.Background(), "D", Input{FilePath: path})
	require.NoError(t, err)
	require.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, "No text could be extracted from blank.md.", res.State.String(FieldDocumentSummary))
	assert.Empty(t, f.model.calls(documentSystem))
}

func TestApp_UnsupportedFileFails(t *testing.T) {
	f := newFixture(t)
	res, err := f.app.Start(context.Background(), "X", Input{FilePath: "archive.zip"})
	require.Error(t, err)
	assert.Equal(t, graph.StatusFailed, res.Status)

	var ne *graph.NodeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "UNSUPPORTED_FILE", ne.Code)
}

func TestApp_StartValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"", "T_sub", "T_report", "T_doc", "a/b", `a\b`, ".", ".."} {
		_, err := f.app.Start(ctx, id, Input{FilePath: f.dataset})
		assert.Error(t, err, id)
	}
	_, err := f.app.Start(ctx, "T", Input{})
	assert.Error(t, err)

	f.start(t, "T")
	_, err = f.app.Start(ctx, "T", Input{FilePath: f.dataset})
	assert.ErrorIs(t, err, graph.ErrThreadExists)
}

func TestApp_UserIDRecordedAcrossResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.app.Start(ctx, "T", Input{FilePath: f.dataset, UserID: "marketer-7"})
	require.NoError(t, err)
	require.Equal(t, graph.StatusSuspended, res.Status)
	_, err = f.app.Choose(ctx, "T", LabelFinish, "")
	require.NoError(t, err)
	res, err = f.app.Review(ctx, "T", true, "")
	require.NoError(t, err)
	require.Equal(t, graph.StatusCompleted, res.Status)

	for _, id := range []string{"T", "T" + AnalysisSuffix, "T" + ReportSuffix} {
		history, err := f.app.History(ctx, id)
		require.NoError(t, err, id)
		for _, cp := range history {
			assert.Equal(t, "marketer-7", cp.UserID, "%s seq %d", id, cp.Seq)
		}
	}
}

func TestApp_ConcurrentThreadsAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := []string{"alpha", "beta", "gamma"}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			res, err := f.app.Start(gctx, id, Input{FilePath: f.dataset})
			if err != nil {
				return err
			}
			if res.Status != graph.StatusSuspended {
				return fmt.Errorf("%s ended %s", id, res.Status)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	dirs := make(map[string]bool)
	for _, id := range ids {
		child := f.child(t, id)
		figures := child.State.Strings(FieldFigures)
		require.Len(t, figures, 1)
		dir := filepath.Dir(figures[0])
		assert.Equal(t, id+AnalysisSuffix, filepath.Base(dir))
		dirs[dir] = true
	}
	assert.Len(t, dirs, len(ids))
	assert.Len(t, f.app.Threads(), len(ids))

	for _, id := range ids {
		_, err := f.app.Choose(ctx, id, LabelFinish, "")
		require.NoError(t, err)
		res, err := f.app.Review(ctx, id, true, "")
		require.NoError(t, err)
		assert.Equal(t, graph.StatusCompleted, res.Status)
		assert.FileExists(t, filepath.Join(f.outDir, id, "report.md"))
	}
}

func TestApp_EventsCarryParentThread(t *testing.T) {
	f := newFixture(t)
	f.start(t, "T")

	childEvents := f.events.GetHistoryWithFilter("T"+AnalysisSuffix, emit.HistoryFilter{Msg: emit.MsgRunStart})
	require.Len(t, childEvents, 1)
	assert.Equal(t, "T", childEvents[0].Meta["parent_thread_id"])

	interrupts := f.events.GetHistoryWithFilter("T", emit.HistoryFilter{Msg: emit.MsgInterrupt})
	require.Len(t, interrupts, 1)
	assert.Equal(t, NodeAnalysis, interrupts[0].NodeID)
	assert.Equal(t, "T"+AnalysisSuffix, interrupts[0].Meta["child_thread_id"])
}

func TestNewApp_RequiresDependencies(t *testing.T) {
	_, err := NewApp(Options{})
	assert.Error(t, err)
}
