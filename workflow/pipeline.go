package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/internal/profile"
)

// Main node names.
const (
	NodeClassify   = "classify"
	NodePreprocess = "preprocess"
	NodeAnalysis   = "analysis"
	NodeReport     = "report"
	NodeReview     = "review"
	NodeDocument   = "document"
)

// Review verdicts written to human_feedback.
const (
	VerdictApprove = "APPROVE"
	VerdictReject  = "REJECT"
)

var fileTypes = map[string]string{
	".csv":  LabelTabular,
	".tsv":  LabelTabular,
	".xlsx": LabelTabular,
	".xls":  LabelTabular,
	".pdf":  LabelDocument,
	".docx": LabelDocument,
	".txt":  LabelDocument,
	".md":   LabelDocument,
}

// engines are the nested graphs the main graph delegates to.
type engines struct {
	analysis *graph.Engine
	report   *graph.Engine
	document *graph.Engine
}

// newMainGraph builds the orchestrating graph. Tabular files go through
// preprocessing, the nested analysis run, the nested report run and a human
// review; documents go through the nested document run.
func newMainGraph(n *nodes, sub engines) (*graph.Compiled, error) {
	g := graph.NewGraph(MainGraph, MainSchema())
	err := errors.Join(
		g.AddNode(NodeClassify, graph.NodeFunc(classify)),
		g.AddNode(NodePreprocess, graph.NodeFunc(preprocess)),
		g.AddNode(NodeAnalysis, analysisAdapter(sub.analysis)),
		g.AddNode(NodeReport, reportAdapter(sub.report, n.settings.Formats)),
		g.AddNode(NodeReview, graph.NodeFunc(review)),
		g.AddNode(NodeDocument, documentAdapter(sub.document)),
		g.SetEntry(NodeClassify),
		g.AddConditionalEdges(NodeClassify, routeFileType, map[string]string{
			LabelTabular:  NodePreprocess,
			LabelDocument: NodeDocument,
		}),
		g.AddEdge(NodePreprocess, NodeAnalysis),
		g.AddEdge(NodeAnalysis, NodeReport),
		g.AddEdge(NodeReport, NodeReview),
		g.AddConditionalEdges(NodeReview, routeReview, map[string]string{
			LabelApprove: graph.End,
			LabelReject:  NodeAnalysis,
		}),
		g.AddEdge(NodeDocument, graph.End),
		g.MarkInterruptBefore(NodeReview),
	)
	if err != nil {
		return nil, err
	}
	return g.Compile()
}

// FileType classifies a path by extension. It returns "" for unsupported
// files.
func FileType(path string) string {
	return fileTypes[strings.ToLower(filepath.Ext(path))]
}

func classify(_ context.Context, s graph.State, _ graph.RunContext) (graph.State, error) {
	path := s.String(FieldFilePath)
	kind := FileType(path)
	if kind == "" {
		return nil, &graph.NodeError{
			Message: fmt.Sprintf("unsupported file %q", filepath.Base(path)),
			Code:    "UNSUPPORTED_FILE",
			NodeID:  NodeClassify,
		}
	}
	return graph.State{
		FieldFileType: kind,
		FieldStepsLog: logLine(NodeClassify, "%s is %s", filepath.Base(path), kind),
	}, nil
}

func preprocess(_ context.Context, s graph.State, _ graph.RunContext) (graph.State, error) {
	summary, err := profile.File(s.String(FieldFilePath))
	if errors.Is(err, profile.ErrUnsupportedFormat) {
		return graph.State{FieldStepsLog: logLine(NodePreprocess, "%v, profiling skipped", err)}, nil
	}
	if err != nil {
		return nil, &graph.NodeError{Message: err.Error(), Code: "PROFILE_FAILED", NodeID: NodePreprocess, Cause: err}
	}
	return graph.State{
		FieldCleanData: summary.String(),
		FieldStepsLog:  logLine(NodePreprocess, "%d rows, %d columns", summary.Rows, len(summary.Columns)),
	}, nil
}

func analysisAdapter(e *graph.Engine) *graph.Subgraph {
	return &graph.Subgraph{
		Engine: e,
		Suffix: AnalysisSuffix,
		Input: func(p graph.State) (graph.State, error) {
			return graph.State{
				FieldDatasetPath: p.String(FieldFilePath),
				FieldUserQuery:   p.String(FieldUserQuery),
				FieldProfile:     p.String(FieldCleanData),
				FieldFeedback:    p.Strings(FieldFeedback),
			}, nil
		},
		Output: func(_, c graph.State) (graph.State, error) {
			return graph.State{
				FieldAnalysisResults: c.Map(FieldInsights),
				FieldFigureList:      c.Strings(FieldFigures),
				FieldStepsLog: logLine(NodeAnalysis, "%d cycles, %d code executions",
					c.Int(FieldCycle), c.Int(FieldExecutions)),
			}, nil
		},
	}
}

func reportAdapter(e *graph.Engine, defaults []string) *graph.Subgraph {
	return &graph.Subgraph{
		Engine: e,
		Suffix: ReportSuffix,
		Input: func(p graph.State) (graph.State, error) {
			formats := p.Strings(FieldReportType)
			if len(formats) == 0 {
				formats = defaults
			}
			return graph.State{
				FieldAnalysisResults: p.Map(FieldAnalysisResults),
				FieldFigureList:      p.Strings(FieldFigureList),
				FieldFilePath:        p.String(FieldFilePath),
				FieldCleanData:       p.String(FieldCleanData),
				FieldReportFormat:    formats,
			}, nil
		},
		Output: func(_, c graph.State) (graph.State, error) {
			return graph.State{
				FieldFinalReport: c.String(FieldFinalReport),
				FieldArtifacts:   c.Map(FieldArtifacts),
				FieldStepsLog:    c.Strings(FieldStepsLog),
			}, nil
		},
	}
}

func documentAdapter(e *graph.Engine) *graph.Subgraph {
	return &graph.Subgraph{
		Engine: e,
		Suffix: DocumentSuffix,
		Input: func(p graph.State) (graph.State, error) {
			return graph.State{FieldFilePath: p.String(FieldFilePath)}, nil
		},
		Output: func(_, c graph.State) (graph.State, error) {
			return graph.State{
				FieldDocumentSummary: c.String(FieldAnalysisSummary),
				FieldStepsLog:        c.Strings(FieldStepsLog),
			}, nil
		},
	}
}

// review is the human gate on the finished report. It suspends again until
// a verdict is patched in.
func review(_ context.Context, s graph.State, _ graph.RunContext) (graph.State, error) {
	verdict := strings.ToUpper(strings.TrimSpace(s.String(FieldHumanFeedback)))
	if verdict == "" {
		return nil, graph.Interrupt("waiting for report review")
	}
	decision := LabelReject
	if strings.HasPrefix(verdict, VerdictApprove) {
		decision = LabelApprove
	}
	return graph.State{
		FieldReviewDecision: decision,
		FieldHumanFeedback:  "",
		FieldReviewCycles:   1,
		FieldStepsLog:       logLine(NodeReview, "%s", decision),
	}, nil
}
