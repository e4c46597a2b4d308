package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/internal/render"
)

// Report node names.
const (
	NodeSupervisor      = "supervisor"
	NodeGenerateContent = "generate_content"
	NodeCreatePDF       = "create_pdf"
	NodeCreateHTML      = "create_html"
	NodeCreatePPTX      = "create_pptx"
)

// workerFormats lists the file renderers in dispatch order.
var workerFormats = []struct {
	format string
	node   string
}{
	{render.PDF, NodeCreatePDF},
	{render.HTML, NodeCreateHTML},
	{render.PPTX, NodeCreatePPTX},
}

// newReportGraph builds the supervisor/worker report graph. The supervisor
// dispatches one worker per step and every worker returns to it.
func newReportGraph(n *nodes) (*graph.Compiled, error) {
	g := graph.NewGraph(ReportGraph, ReportSchema())
	labels := map[string]string{
		NodeGenerateContent: NodeGenerateContent,
		LabelFinish:         graph.End,
	}
	errs := []error{
		g.AddNode(NodeSupervisor, graph.NodeFunc(supervise)),
		g.AddNode(NodeGenerateContent, graph.NodeFunc(n.generateContent)),
		g.AddEdge(NodeGenerateContent, NodeSupervisor),
		g.SetEntry(NodeSupervisor),
	}
	for _, w := range workerFormats {
		labels[w.node] = w.node
		errs = append(errs,
			g.AddNode(w.node, graph.NodeFunc(n.renderWorker(w.node, w.format))),
			g.AddEdge(w.node, NodeSupervisor),
		)
	}
	errs = append(errs, g.AddConditionalEdges(NodeSupervisor, routeWorker, labels))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return g.Compile()
}

// supervise picks the next worker: content first, then each requested file
// format not yet dispatched, then finish.
func supervise(_ context.Context, s graph.State, _ graph.RunContext) (graph.State, error) {
	if s.String(FieldFinalReport) == "" {
		return graph.State{FieldNextWorker: NodeGenerateContent}, nil
	}
	requested := lowerAll(s.Strings(FieldReportFormat))
	done := s.Strings(FieldGeneratedFormats)
	for _, w := range workerFormats {
		if slices.Contains(requested, w.format) && !slices.Contains(done, w.format) {
			return graph.State{
				FieldNextWorker:       w.node,
				FieldGeneratedFormats: []string{w.format},
			}, nil
		}
	}
	return graph.State{FieldNextWorker: LabelFinish}, nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func (n *nodes) generateContent(ctx context.Context, s graph.State, rc graph.RunContext) (graph.State, error) {
	results := s.Map(FieldAnalysisResults)
	texts := make([]string, 0, len(results))
	for _, key := range graph.State(results).Keys() {
		if text, ok := results[key].(string); ok {
			texts = append(texts, text)
		}
	}
	figures := s.Strings(FieldFigureList)

	text, err := n.chat(ctx, rc, reporterSystem, reportPrompt(s.String(FieldCleanData), texts, figures))
	if err != nil {
		return nil, err
	}

	dir := n.outputDir(rc)
	out := graph.State{
		FieldFinalReport: text,
		FieldOutputDir:   dir,
	}
	path, err := render.Write(dir, render.Markdown, reportFor(s, text))
	if err != nil {
		out[FieldStepsLog] = logLine(NodeGenerateContent, "error: %v", err)
		return out, nil
	}
	out[FieldArtifacts] = map[string]any{render.Markdown: path}
	out[FieldStepsLog] = logLine(NodeGenerateContent, "wrote %s", path)
	return out, nil
}

// renderWorker writes the report in one file format. Render failures are
// logged and the supervisor moves on.
func (n *nodes) renderWorker(node, format string) graph.NodeFunc {
	return func(_ context.Context, s graph.State, rc graph.RunContext) (graph.State, error) {
		dir := s.String(FieldOutputDir)
		if dir == "" {
			dir = n.outputDir(rc)
		}
		path, err := render.Write(dir, format, reportFor(s, s.String(FieldFinalReport)))
		if err != nil {
			n.logger.Warn("report format skipped", "thread", rc.ThreadID, "format", format, "err", err)
			return graph.State{FieldStepsLog: logLine(node, "error: %v", err)}, nil
		}
		return graph.State{
			FieldArtifacts: map[string]any{format: path},
			FieldStepsLog:  logLine(node, "wrote %s", path),
		}, nil
	}
}

func reportFor(s graph.State, markdown string) render.Report {
	title := "Final Analysis Report"
	if p := s.String(FieldFilePath); p != "" {
		title = fmt.Sprintf("%s: %s", title, filepath.Base(p))
	}
	return render.Report{
		Title:    title,
		Markdown: markdown,
		Figures:  s.Strings(FieldFigureList),
	}
}
