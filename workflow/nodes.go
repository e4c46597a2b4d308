package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/graph/model"
	"github.com/dshills/orcgraph/internal/sandbox"
)

// ResourceSandbox is the run-context key of the *sandbox.Pool.
const ResourceSandbox = "sandbox"

// Settings tunes the workflow behavior.
type Settings struct {
	// AutoApprove makes eval accept every insight without asking the model.
	AutoApprove bool

	// MaxRevisions bounds automatic rejections before a human decides.
	MaxRevisions int

	// OutputDir receives report artifacts under one directory per thread.
	OutputDir string

	// Formats are the report formats used when a run names none.
	Formats []string
}

// Defaults applied by NewApp to zero settings.
const (
	DefaultMaxRevisions = 3
	DefaultOutputDir    = "output"
)

func (s Settings) withDefaults() Settings {
	if s.MaxRevisions <= 0 {
		s.MaxRevisions = DefaultMaxRevisions
	}
	if s.OutputDir == "" {
		s.OutputDir = DefaultOutputDir
	}
	if len(s.Formats) == 0 {
		s.Formats = []string{"markdown"}
	}
	return s
}

// nodes holds the dependencies shared by every node function.
type nodes struct {
	model    model.ChatModel
	usage    *model.UsageTracker
	logger   *slog.Logger
	settings Settings
}

// chat sends one system/user exchange and records its usage.
func (n *nodes) chat(ctx context.Context, rc graph.RunContext, system, user string) (string, error) {
	out, err := n.model.Chat(ctx, model.Prompt(system, user))
	if err != nil {
		return "", fmt.Errorf("%s: chat: %w", rc.Node, err)
	}
	n.usage.Record(rc.ThreadID, rc.Node, out)
	n.logger.Debug("model call",
		"thread", rc.ThreadID,
		"node", rc.Node,
		"model", out.Model,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens)
	return out.Text, nil
}

// sandbox returns the thread's sandbox from the pool in the run context.
func sandboxFor(rc graph.RunContext) (*sandbox.Pool, sandbox.Sandbox, error) {
	v, ok := rc.Resource(ResourceSandbox)
	pool, _ := v.(*sandbox.Pool)
	if !ok || pool == nil {
		return nil, nil, &graph.NodeError{
			Message: "no sandbox pool in run context",
			Code:    "NO_SANDBOX",
			NodeID:  rc.Node,
		}
	}
	box, err := pool.Get(rc.ThreadID)
	if err != nil {
		return nil, nil, &graph.NodeError{
			Message: err.Error(),
			Code:    "NO_SANDBOX",
			NodeID:  rc.Node,
			Cause:   err,
		}
	}
	return pool, box, nil
}

// rootThread is the thread id of the outermost run.
func rootThread(rc graph.RunContext) string {
	if rc.Nested() {
		return rc.ParentThreadID
	}
	return rc.ThreadID
}

// outputDir is where report artifacts of the run are written.
func (n *nodes) outputDir(rc graph.RunContext) string {
	return filepath.Join(n.settings.OutputDir, rootThread(rc))
}

func logLine(node, format string, args ...any) []string {
	return []string{node + ": " + fmt.Sprintf(format, args...)}
}
