package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/internal/profile"
	"github.com/dshills/orcgraph/internal/sandbox"
)

// Analysis node names.
const (
	NodePlan    = "plan"
	NodeMake    = "make"
	NodeRun     = "run"
	NodeInsight = "insight"
	NodeEval    = "eval"
	NodeWait    = "wait"
)

// newAnalysisGraph builds the iterative analysis graph: plan, write code,
// execute it with bounded retries, derive insight, evaluate it, and wait for
// the user's choice to refine, start a new cycle or finish.
func newAnalysisGraph(n *nodes) (*graph.Compiled, error) {
	g := graph.NewGraph(AnalysisGraph, AnalysisSchema())
	err := errors.Join(
		g.AddNode(NodePlan, graph.NodeFunc(n.plan)),
		g.AddNode(NodeMake, graph.NodeFunc(n.makeCode), graph.OnError(attemptFailed(NodeMake))),
		g.AddNode(NodeRun, graph.NodeFunc(n.runCode), graph.OnError(attemptFailed(NodeRun))),
		g.AddNode(NodeInsight, graph.NodeFunc(n.insight)),
		g.AddNode(NodeEval, graph.NodeFunc(n.eval)),
		g.AddNode(NodeWait, graph.NodeFunc(waitForChoice)),
		g.SetEntry(NodePlan),
		g.AddEdge(NodePlan, NodeMake),
		g.AddConditionalEdges(NodeMake, routeAttempt, map[string]string{
			LabelRetry:   NodeMake,
			LabelAdvance: NodeRun,
		}),
		g.AddConditionalEdges(NodeRun, routeAttempt, map[string]string{
			LabelRetry:   NodeMake,
			LabelAdvance: NodeInsight,
		}),
		g.AddEdge(NodeInsight, NodeEval),
		g.AddConditionalEdges(NodeEval, routeEval(n.settings.MaxRevisions), map[string]string{
			LabelApproved: NodeWait,
			LabelRevise:   NodeMake,
			LabelEscalate: NodeWait,
		}),
		g.AddConditionalEdges(NodeWait, routeChoice, map[string]string{
			LabelRefine: NodeMake,
			LabelNew:    NodePlan,
			LabelFinish: graph.End,
		}),
		g.MarkInterruptBefore(NodeWait),
	)
	if err != nil {
		return nil, err
	}
	return g.Compile()
}

// attemptFailed turns an error of make or run into the retry flag read by
// routeAttempt.
func attemptFailed(node string) graph.ErrorHandler {
	return func(s graph.State, err error) (graph.State, error) {
		return graph.State{
			FieldErrorCount: s.Int(FieldErrorCount) + 1,
			FieldLastError:  err.Error(),
			FieldLogs:       logLine(node, "error: %v", err),
		}, nil
	}
}

func (n *nodes) plan(ctx context.Context, s graph.State, rc graph.RunContext) (graph.State, error) {
	cycle := s.Int(FieldCycle)
	if cycle == 0 || s.String(FieldDecision) == LabelNew {
		cycle++
	}
	if cycle == 1 {
		pool, _, err := sandboxFor(rc)
		if err != nil {
			return nil, err
		}
		if err := pool.Reset(rc.ThreadID); err != nil {
			return nil, fmt.Errorf("reset sandbox: %w", err)
		}
	}

	out := graph.State{}
	summary := s.String(FieldProfile)
	if summary == "" {
		p, err := profile.File(s.String(FieldDatasetPath))
		switch {
		case errors.Is(err, profile.ErrUnsupportedFormat):
			out[FieldLogs] = logLine(NodePlan, "%v", err)
		case err != nil:
			return nil, &graph.NodeError{Message: err.Error(), Code: "PROFILE_FAILED", NodeID: NodePlan, Cause: err}
		default:
			summary = p.String()
			out[FieldProfile] = summary
		}
	}

	text, err := n.chat(ctx, rc, plannerSystem, planPrompt(summary, s.String(FieldUserQuery), s.Strings(FieldFeedback)))
	if err != nil {
		return nil, err
	}
	out[FieldPlan] = text
	out[FieldCycle] = cycle
	out[FieldErrorCount] = 0
	out[FieldLastError] = ""
	out[FieldRevisions] = 0
	out[FieldDecision] = ""
	return out, nil
}

func (n *nodes) makeCode(ctx context.Context, s graph.State, rc graph.RunContext) (graph.State, error) {
	_, box, err := sandboxFor(rc)
	if err != nil {
		return nil, err
	}
	text, err := n.chat(ctx, rc, coderSystem, codePrompt(
		s.String(FieldPlan),
		s.String(FieldProfile),
		s.String(FieldDatasetPath),
		box.Dir(),
		s.Int(FieldCycle),
		revisionNotes(s),
	))
	if err != nil {
		return nil, err
	}
	code := stripFences(text)
	if code == "" {
		return nil, errors.New("model returned no code")
	}
	return graph.State{
		FieldCode:      code,
		FieldLastError: "",
	}, nil
}

// revisionNotes tells the coder why the previous code is being replaced.
func revisionNotes(s graph.State) string {
	var b strings.Builder
	if e := s.String(FieldLastError); e != "" {
		fmt.Fprintf(&b, "[Previous attempt failed]\n%s\n\n[Previous code]\n%s\n\nFix the error.\n", e, s.String(FieldCode))
	}
	if notes := s.String(FieldEvalNotes); notes != "" && !s.Bool(FieldApproved) {
		fmt.Fprintf(&b, "[Reviewer notes]\n%s\n", notes)
	}
	if s.String(FieldDecision) == LabelRefine {
		if fb := s.Strings(FieldFeedback); len(fb) > 0 {
			fmt.Fprintf(&b, "[User request]\n%s\n", fb[len(fb)-1])
		}
	}
	return b.String()
}

func (n *nodes) runCode(ctx context.Context, s graph.State, rc graph.RunContext) (graph.State, error) {
	_, box, err := sandboxFor(rc)
	if err != nil {
		return nil, err
	}
	cycle := s.Int(FieldCycle)
	if err := sandbox.ClearFigures(box.Dir(), cycle); err != nil {
		return nil, fmt.Errorf("clear figures: %w", err)
	}

	res, err := box.Exec(ctx, s.String(FieldCode))
	if err != nil {
		return nil, err
	}
	if res.Failed {
		return graph.State{
			FieldErrorCount: s.Int(FieldErrorCount) + 1,
			FieldLastError:  res.Output,
			FieldLogs:       logLine(NodeRun, "failed after %s: %s", res.Duration.Round(time.Millisecond), res.Output),
			FieldExecutions: 1,
		}, nil
	}

	figures, err := sandbox.Figures(box.Dir(), cycle)
	if err != nil {
		return nil, fmt.Errorf("collect figures: %w", err)
	}
	seen := make(map[string]bool)
	for _, f := range s.Strings(FieldFigures) {
		seen[f] = true
	}
	var added []string
	for _, f := range figures {
		if !seen[f] {
			added = append(added, f)
		}
	}

	return graph.State{
		FieldResultSummary: res.Output,
		FieldFigures:       added,
		FieldLogs:          logLine(NodeRun, "ok in %s, %d figures", res.Duration.Round(time.Millisecond), len(figures)),
		FieldExecutions:    1,
		FieldErrorCount:    0,
		FieldLastError:     "",
	}, nil
}

func (n *nodes) insight(ctx context.Context, s graph.State, rc graph.RunContext) (graph.State, error) {
	cycle := s.Int(FieldCycle)
	var names []string
	prefix := fmt.Sprintf("figure_%d_", cycle)
	for _, f := range s.Strings(FieldFigures) {
		if base := filepath.Base(f); strings.HasPrefix(base, prefix) {
			names = append(names, base)
		}
	}

	text, err := n.chat(ctx, rc, analystSystem, insightPrompt(
		s.String(FieldPlan),
		s.String(FieldProfile),
		s.String(FieldResultSummary),
		names,
		cycle,
	))
	if err != nil {
		return nil, err
	}
	return graph.State{
		FieldInsights: map[string]any{insightKey(cycle): text},
		FieldLogs:     logLine(NodeInsight, "cycle %d insight written", cycle),
	}, nil
}

func insightKey(cycle int) string {
	return fmt.Sprintf("overall_%d", cycle)
}

func (n *nodes) eval(ctx context.Context, s graph.State, rc graph.RunContext) (graph.State, error) {
	if n.settings.AutoApprove {
		return graph.State{
			FieldApproved:  true,
			FieldEvalNotes: "",
		}, nil
	}

	insight, _ := s.Map(FieldInsights)[insightKey(s.Int(FieldCycle))].(string)
	text, err := n.chat(ctx, rc, judgeSystem, evalPrompt(s.String(FieldPlan), insight))
	if err != nil {
		return nil, err
	}
	verdict := strings.ToUpper(text)
	if strings.Contains(verdict, "APPROVE") && !strings.Contains(verdict, "REJECT") {
		return graph.State{
			FieldApproved:  true,
			FieldEvalNotes: "",
			FieldLogs:      logLine(NodeEval, "approved"),
		}, nil
	}
	revisions := s.Int(FieldRevisions) + 1
	return graph.State{
		FieldApproved:  false,
		FieldRevisions: revisions,
		FieldEvalNotes: strings.TrimSpace(text),
		FieldLogs:      logLine(NodeEval, "rejected (revision %d)", revisions),
	}, nil
}

// waitForChoice is the user gate. It suspends again until a choice is
// patched in, so resuming without one changes nothing.
func waitForChoice(_ context.Context, s graph.State, _ graph.RunContext) (graph.State, error) {
	choice := s.String(FieldUserChoice)
	if strings.TrimSpace(choice) == "" {
		return nil, graph.Interrupt("waiting for user choice")
	}
	return graph.State{
		FieldDecision:   CanonicalChoice(choice),
		FieldUserChoice: "",
		FieldRevisions:  0,
		FieldApproved:   false,
	}, nil
}
