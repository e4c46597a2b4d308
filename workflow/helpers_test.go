package workflow

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/graph/emit"
	"github.com/dshills/orcgraph/graph/model"
	"github.com/dshills/orcgraph/graph/store"
	"github.com/dshills/orcgraph/internal/sandbox"
)

var figureRef = regexp.MustCompile(`figure_(\d+)_0\.png`)

// outcome scripts one sandbox execution.
type outcome struct {
	failed bool
	output string
	err    error
}

// fakeBox is a sandbox that follows a script instead of running Python. A
// successful execution writes one figure for the cycle named in the code.
type fakeBox struct {
	dir string

	mu       sync.Mutex
	script   []outcome
	execs    int
	executed []string
}

func (b *fakeBox) Exec(_ context.Context, code string) (sandbox.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.executed = append(b.executed, code)
	var o outcome
	if b.execs < len(b.script) {
		o = b.script[b.execs]
	}
	b.execs++
	if o.err != nil {
		return sandbox.Result{}, o.err
	}
	if o.failed {
		return sandbox.Result{Output: o.output, Failed: true}, nil
	}
	if m := figureRef.FindStringSubmatch(code); m != nil {
		cycle, _ := strconv.Atoi(m[1])
		if err := writePNG(filepath.Join(b.dir, sandbox.FigureName(cycle, 0))); err != nil {
			return sandbox.Result{}, err
		}
	}
	out := o.output
	if out == "" {
		out = "Success"
	}
	return sandbox.Result{Output: out}, nil
}

func (b *fakeBox) Dir() string { return b.dir }

func (b *fakeBox) Reset() error {
	if err := os.RemoveAll(b.dir); err != nil {
		return err
	}
	return os.MkdirAll(b.dir, 0o755)
}

func (b *fakeBox) Execs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.execs
}

func writePNG(path string) error {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		img.SetGray(x, x, color.Gray{Y: 200})
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// boxes hands out fakeBoxes and remembers them by thread id.
type boxes struct {
	mu     sync.Mutex
	script []outcome
	byDir  map[string]*fakeBox
}

func (bs *boxes) factory(dir string) sandbox.Sandbox {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	box := &fakeBox{dir: dir, script: bs.script}
	bs.byDir[filepath.Base(dir)] = box
	return box
}

func (bs *boxes) get(threadID string) *fakeBox {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.byDir[threadID]
}

// scripted answers every prompt by its system prompt.
type scripted struct {
	mu      sync.Mutex
	judge   []string
	judged  int
	prompts map[string][]string
}

func newScripted() *scripted {
	return &scripted{prompts: make(map[string][]string)}
}

func (s *scripted) respond(msgs []model.Message) (model.ChatOut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	system, conv := model.SplitSystem(msgs)
	user := conv[len(conv)-1].Content
	s.prompts[system] = append(s.prompts[system], user)

	out := model.ChatOut{Model: "gpt-4o-mini", Usage: model.Usage{InputTokens: 100, OutputTokens: 50}}
	switch system {
	case plannerSystem:
		out.Text = "1. Compute CTR per channel\n2. Plot it"
	case coderSystem:
		out.Text = "```python\nimport pandas as pd\nplt.savefig(r'" + figureRef.FindString(user) + "')\n```"
	case analystSystem:
		out.Text = "Search has the highest CTR."
	case judgeSystem:
		out.Text = "APPROVE"
		if s.judged < len(s.judge) {
			out.Text = s.judge[s.judged]
		} else if len(s.judge) > 0 {
			out.Text = s.judge[len(s.judge)-1]
		}
		s.judged++
	case reporterSystem:
		out.Text = "# Final Analysis Report\n\n## 1. Executive Summary\n\n- Search wins"
	case documentSystem:
		out.Text = "A short summary of the document."
	}
	return out, nil
}

func (s *scripted) calls(system string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[system]...)
}

type fixture struct {
	app     *App
	store   *store.MemStore
	boxes   *boxes
	model   *scripted
	mock    *model.MockChatModel
	usage   *model.UsageTracker
	events  *emit.BufferedEmitter
	outDir  string
	dataset string
}

type fixtureOption func(*Options, *boxes, *scripted)

func withScript(script ...outcome) fixtureOption {
	return func(_ *Options, b *boxes, _ *scripted) { b.script = script }
}

func withJudge(verdicts ...string) fixtureOption {
	return func(o *Options, _ *boxes, s *scripted) {
		o.Settings.AutoApprove = false
		s.judge = verdicts
	}
}

func withFormats(formats ...string) fixtureOption {
	return func(o *Options, _ *boxes, _ *scripted) { o.Settings.Formats = formats }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		store:   store.NewMemStore(),
		boxes:   &boxes{byDir: make(map[string]*fakeBox)},
		model:   newScripted(),
		usage:   model.NewUsageTracker(),
		events:  emit.NewBufferedEmitter(),
		outDir:  filepath.Join(dir, "output"),
		dataset: filepath.Join(dir, "ads.csv"),
	}
	require.NoError(t, os.WriteFile(f.dataset, []byte("channel,clicks\nsearch,10\nsocial,3\nemail,7\n"), 0o644))
	f.mock = &model.MockChatModel{Respond: f.model.respond}

	o := Options{
		Store: f.store,
		Model: f.mock,
		Settings: Settings{
			AutoApprove: true,
			OutputDir:   f.outDir,
		},
		Emitter:  f.events,
		Usage:    f.usage,
		MaxSteps: 100,
	}
	for _, opt := range opts {
		opt(&o, f.boxes, f.model)
	}
	o.Pool = sandbox.NewPool(filepath.Join(dir, "img"), f.boxes.factory)

	app, err := NewApp(o)
	require.NoError(t, err)
	f.app = app
	return f
}

// start begins a tabular run and expects it to suspend at the wait gate.
func (f *fixture) start(t *testing.T, id string) graph.Result {
	t.Helper()
	res, err := f.app.Start(context.Background(), id, Input{FilePath: f.dataset, Query: "Which channel performs best?"})
	require.NoError(t, err)
	require.Equal(t, graph.StatusSuspended, res.Status)
	require.NotNil(t, res.Interrupt)
	require.Equal(t, id+AnalysisSuffix, res.Interrupt.ChildThreadID)
	require.Equal(t, NodeWait, res.Interrupt.ChildPending)
	return res
}

func (f *fixture) child(t *testing.T, id string) graph.Status {
	t.Helper()
	view, err := f.app.Status(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, view.Child)
	return *view.Child
}

// valuesAt collects a field from the checkpoints written after node ran.
func valuesAt(history []graph.Checkpoint, node, field string) []int {
	var out []int
	for _, cp := range history {
		if cp.Node == node && cp.Status == graph.StatusRunning {
			out = append(out, cp.State.Int(field))
		}
	}
	return out
}
