package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orcgraph/graph"
)

func TestRouteAttempt(t *testing.T) {
	tests := []struct {
		name  string
		state graph.State
		want  string
	}{
		{"clean", graph.State{}, LabelAdvance},
		{"first failure", graph.State{FieldErrorCount: 1, FieldLastError: "boom"}, LabelRetry},
		{"second failure", graph.State{FieldErrorCount: 2, FieldLastError: "boom"}, LabelRetry},
		{"recovered", graph.State{FieldErrorCount: 2, FieldLastError: ""}, LabelAdvance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := routeAttempt(tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := routeAttempt(graph.State{FieldErrorCount: float64(MaxAttempts), FieldLastError: "boom"})
	assert.True(t, errors.Is(err, ErrRetryCeiling))
	assert.Contains(t, err.Error(), "boom")
}

func TestRouteEval(t *testing.T) {
	route := routeEval(3)
	tests := []struct {
		state graph.State
		want  string
	}{
		{graph.State{FieldApproved: true}, LabelApproved},
		{graph.State{FieldApproved: true, FieldRevisions: 3}, LabelApproved},
		{graph.State{FieldRevisions: 1}, LabelRevise},
		{graph.State{FieldRevisions: 2}, LabelRevise},
		{graph.State{FieldRevisions: 3}, LabelEscalate},
	}
	for _, tt := range tests {
		got, err := route(tt.state)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.state)
	}
}

func TestCanonicalChoice(t *testing.T) {
	tests := map[string]string{
		"refine":   LabelRefine,
		" New ":    LabelNew,
		"FINISH":   LabelFinish,
		"수정":       LabelRefine,
		"추가":       LabelNew,
		"완료":       LabelFinish,
		"whatever": "whatever",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalChoice(in), in)
	}
	assert.True(t, ValidChoice("완료"))
	assert.False(t, ValidChoice(""))
	assert.False(t, ValidChoice("later"))
}

func TestWaitForChoice(t *testing.T) {
	_, err := waitForChoice(context.Background(), graph.State{}, graph.RunContext{})
	assert.True(t, graph.IsInterrupt(err))

	out, err := waitForChoice(context.Background(), graph.State{FieldUserChoice: "수정", FieldRevisions: 3}, graph.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, LabelRefine, out[FieldDecision])
	assert.Equal(t, "", out[FieldUserChoice])
	assert.Equal(t, 0, out[FieldRevisions])
}

func TestFileType(t *testing.T) {
	tests := map[string]string{
		"ads.csv":      LabelTabular,
		"ads.TSV":      LabelTabular,
		"book.xlsx":    LabelTabular,
		"old.xls":      LabelTabular,
		"memo.pdf":     LabelDocument,
		"memo.docx":    LabelDocument,
		"notes.txt":    LabelDocument,
		"README.md":    LabelDocument,
		"archive.zip":  "",
		"no_extension": "",
	}
	for path, want := range tests {
		assert.Equal(t, want, FileType(path), path)
	}
}

func TestReview(t *testing.T) {
	_, err := review(context.Background(), graph.State{}, graph.RunContext{})
	assert.True(t, graph.IsInterrupt(err))

	out, err := review(context.Background(), graph.State{FieldHumanFeedback: "approve"}, graph.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, LabelApprove, out[FieldReviewDecision])

	out, err = review(context.Background(), graph.State{FieldHumanFeedback: VerdictReject}, graph.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, LabelReject, out[FieldReviewDecision])
	assert.Equal(t, "", out[FieldHumanFeedback])
}

func TestSupervise(t *testing.T) {
	next := func(s graph.State) graph.State {
		out, err := supervise(context.Background(), s, graph.RunContext{})
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, NodeGenerateContent, next(graph.State{})[FieldNextWorker])

	s := graph.State{FieldFinalReport: "# r", FieldReportFormat: []any{"HTML", "pdf"}}
	out := next(s)
	assert.Equal(t, NodeCreatePDF, out[FieldNextWorker])
	assert.Equal(t, []string{"pdf"}, out[FieldGeneratedFormats])

	s[FieldGeneratedFormats] = []any{"pdf"}
	assert.Equal(t, NodeCreateHTML, next(s)[FieldNextWorker])

	s[FieldGeneratedFormats] = []any{"pdf", "html"}
	assert.Equal(t, LabelFinish, next(s)[FieldNextWorker])
}

func TestGraphsCompile(t *testing.T) {
	n := &nodes{settings: Settings{}.withDefaults()}
	for name, build := range map[string]func(*nodes) (*graph.Compiled, error){
		AnalysisGraph: newAnalysisGraph,
		ReportGraph:   newReportGraph,
		DocumentGraph: newDocumentGraph,
	} {
		c, err := build(n)
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}

	c, err := newAnalysisGraph(n)
	require.NoError(t, err)
	assert.True(t, c.InterruptBefore(NodeWait))
	assert.Equal(t, map[string]string{
		LabelRefine: NodeMake,
		LabelNew:    NodePlan,
		LabelFinish: graph.End,
	}, c.Labels(NodeWait))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "print(1)", stripFences("```python\nprint(1)\n```"))
	assert.Equal(t, "print(1)", stripFences("  print(1)\n"))
	assert.Equal(t, "a\nb", stripFences("```\na\nb\n```"))
}

func TestCodePrompt_LoadStatement(t *testing.T) {
	tests := map[string]string{
		"/d/ads.csv":   "df = pd.read_csv(r'/d/ads.csv')",
		"/d/ads.tsv":   `df = pd.read_csv(r'/d/ads.tsv', sep='\t')`,
		"/d/Book.XLSX": "df = pd.read_excel(r'/d/Book.XLSX')",
	}
	for dataset, want := range tests {
		assert.Contains(t, codePrompt("plan", "profile", dataset, "/figs", 1, ""), want, dataset)
	}
}
