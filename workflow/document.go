package workflow

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/internal/extract"
)

// Document node names.
const (
	NodeRead    = "read"
	NodeAnalyze = "analyze"
)

// newDocumentGraph builds the read -> analyze document graph.
func newDocumentGraph(n *nodes) (*graph.Compiled, error) {
	g := graph.NewGraph(DocumentGraph, DocumentSchema())
	err := errors.Join(
		g.AddNode(NodeRead, graph.NodeFunc(readDocument)),
		g.AddNode(NodeAnalyze, graph.NodeFunc(n.analyzeDocument)),
		g.SetEntry(NodeRead),
		g.AddEdge(NodeRead, NodeAnalyze),
		g.AddEdge(NodeAnalyze, graph.End),
	)
	if err != nil {
		return nil, err
	}
	return g.Compile()
}

func readDocument(_ context.Context, s graph.State, _ graph.RunContext) (graph.State, error) {
	doc, err := extract.File(s.String(FieldFilePath))
	if err != nil {
		return graph.State{
			FieldFileText: "",
			FieldStepsLog: logLine(NodeRead, "error: %v", err),
		}, nil
	}
	steps := logLine(NodeRead, "%s: %d characters", filepath.Base(doc.Path), len([]rune(doc.Text)))
	if doc.Scanned {
		steps = append(steps, logLine(NodeRead,
			"warning: %d pages but little text, the PDF is probably scanned and needs OCR", doc.Pages)...)
	}
	return graph.State{
		FieldFileText: doc.Text,
		FieldPages:    doc.Pages,
		FieldScanned:  doc.Scanned,
		FieldStepsLog: steps,
	}, nil
}

func (n *nodes) analyzeDocument(ctx context.Context, s graph.State, rc graph.RunContext) (graph.State, error) {
	text := s.String(FieldFileText)
	if text == "" {
		return graph.State{
			FieldAnalysisSummary: "No text could be extracted from " + filepath.Base(s.String(FieldFilePath)) + ".",
			FieldStepsLog:        logLine(NodeAnalyze, "no text to analyze"),
		}, nil
	}
	summary, err := n.chat(ctx, rc, documentSystem, documentPrompt(extract.Truncate(text, extract.PromptLimit)))
	if err != nil {
		return nil, err
	}
	return graph.State{
		FieldAnalysisSummary: summary,
		FieldStepsLog:        logLine(NodeAnalyze, "summary written"),
	}, nil
}
