package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/internal/config"
	"github.com/dshills/orcgraph/internal/logging"
	"github.com/dshills/orcgraph/workflow"
)

const testConfig = `store:
  driver: %DRIVER%
  dsn: %DSN%
  redis_addr: %REDIS%
model:
  provider: mock
workflow:
  auto_approve: true
  python: "true"
  workdir: %DIR%/work
  output_dir: %DIR%/out
log:
  level: error
`

type cli struct {
	t      *testing.T
	dir    string
	config string
	data   string
}

func newCLI(t *testing.T, driver, dsn, redisAddr string) *cli {
	t.Helper()
	dir := t.TempDir()
	cfg := strings.NewReplacer(
		"%DRIVER%", driver,
		"%DSN%", dsn,
		"%REDIS%", redisAddr,
		"%DIR%", dir,
	).Replace(testConfig)
	path := filepath.Join(dir, "orcagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	data := filepath.Join(dir, "ads.csv")
	require.NoError(t, os.WriteFile(data, []byte("channel,spend,clicks\nsearch,100,40\nsocial,80,25\ndisplay,50,5\n"), 0o644))
	return &cli{t: t, dir: dir, config: path, data: data}
}

// run executes one command in a fresh root command, as a new process would.
func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", c.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) runJSON(v any, args ...string) {
	c.t.Helper()
	out, err := c.run(append(args, "--json")...)
	require.NoError(c.t, err, out)
	require.NoError(c.t, json.Unmarshal([]byte(out), v), out)
}

func TestCLI_FullRunAcrossInvocations(t *testing.T) {
	dir := t.TempDir()
	c := newCLI(t, "sqlite", filepath.Join(dir, "runs.db"), "")

	var started runOutput
	c.runJSON(&started, "start", c.data, "--thread", "t1", "--query", "Which channel wins?", "--format", "markdown,html")
	assert.Equal(t, graph.StatusSuspended, started.Status)
	assert.Equal(t, workflow.NodeAnalysis, started.Pending)
	require.NotNil(t, started.Interrupt)
	assert.Equal(t, "t1"+workflow.AnalysisSuffix, started.Interrupt.ChildThreadID)
	assert.Equal(t, workflow.NodeWait, started.Interrupt.ChildPending)

	var view workflow.RunView
	c.runJSON(&view, "status", "t1")
	assert.Equal(t, graph.StatusSuspended, view.Status.Status)
	require.NotNil(t, view.Child)
	assert.Equal(t, workflow.NodeWait, view.Child.Pending)

	var chosen runOutput
	c.runJSON(&chosen, "choose", "t1", "finish")
	assert.Equal(t, graph.StatusSuspended, chosen.Status)
	assert.Equal(t, workflow.NodeReview, chosen.Pending)

	var done runOutput
	c.runJSON(&done, "review", "t1", "--approve")
	assert.Equal(t, graph.StatusCompleted, done.Status)
	artifacts := done.State.Map(workflow.FieldArtifacts)
	for _, format := range []string{"markdown", "html"} {
		path, ok := artifacts[format].(string)
		require.True(t, ok, format)
		assert.FileExists(t, path)
		assert.Equal(t, filepath.Join(c.dir, "out", "t1"), filepath.Dir(path))
	}

	out, err := c.run("history", "t1")
	require.NoError(t, err)
	assert.Contains(t, out, "before "+workflow.NodeReview)
	assert.Contains(t, out, string(graph.StatusCompleted))

	out, err = c.run("status", "t1")
	require.NoError(t, err)
	assert.Contains(t, out, "status:  completed")
	assert.Contains(t, out, "markdown:")
}

func TestCLI_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newCLI(t, "redis", `""`, mr.Addr())

	var started runOutput
	c.runJSON(&started, "start", c.data, "-t", "r1")
	assert.Equal(t, graph.StatusSuspended, started.Status)

	out, err := c.run("status", "r1")
	require.NoError(t, err)
	assert.Contains(t, out, "pending: "+workflow.NodeAnalysis)
	assert.Contains(t, out, "orcagent choose r1")
	assert.NotEmpty(t, mr.Keys())
}

func TestCLI_RedisPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")
	c := newCLI(t, "redis", "s3cret-in-the-wrong-key", mr.Addr())

	_, err := c.run("start", c.data, "-t", "r1")
	require.Error(t, err)

	t.Setenv(config.EnvRedisPassword, "s3cret")
	var started runOutput
	c.runJSON(&started, "start", c.data, "-t", "r1")
	assert.Equal(t, graph.StatusSuspended, started.Status)
	assert.NotEmpty(t, mr.Keys())
}

func TestCLI_Errors(t *testing.T) {
	c := newCLI(t, "memory", `""`, "")

	_, err := c.run("review", "t1", "--approve", "--reject")
	require.Error(t, err)

	_, err = c.run("choose", "missing", "sideways")
	require.ErrorIs(t, err, workflow.ErrInvalidChoice)

	_, err = c.run("resume", "missing")
	require.ErrorIs(t, err, graph.ErrThreadNotFound)

	_, err = c.run("start", filepath.Join(c.dir, "deck.key"), "-t", "bad")
	require.Error(t, err)
}

func newTestRuntime(t *testing.T) *runtime {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Store: config.StoreConfig{Driver: "memory"},
		Model: config.ModelConfig{Provider: "mock"},
		Workflow: config.WorkflowConfig{
			AutoApprove: true,
			Python:      "true",
			Workdir:     filepath.Join(dir, "work"),
			OutputDir:   filepath.Join(dir, "out"),
		},
	}
	require.NoError(t, cfg.Finalize())
	rt, err := newRuntime(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func TestServe_RunLifecycle(t *testing.T) {
	rt := newTestRuntime(t)
	srv := httptest.NewServer(newHandler(rt))
	t.Cleanup(srv.Close)

	data := filepath.Join(t.TempDir(), "ads.csv")
	require.NoError(t, os.WriteFile(data, []byte("channel,spend\nsearch,100\nsocial,80\n"), 0o644))

	post := func(path, body string, v any) int {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		if v != nil {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
		}
		return resp.StatusCode
	}
	get := func(path string, v any) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		if v != nil {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
		}
		return resp.StatusCode
	}

	body, err := json.Marshal(startRequest{ThreadID: "h1", FilePath: data})
	require.NoError(t, err)
	var started runOutput
	require.Equal(t, http.StatusOK, post("/runs", string(body), &started))
	assert.Equal(t, graph.StatusSuspended, started.Status)

	var view workflow.RunView
	require.Equal(t, http.StatusOK, get("/runs/h1", &view))
	require.NotNil(t, view.Child)
	assert.Equal(t, workflow.NodeWait, view.Child.Pending)

	assert.Equal(t, http.StatusBadRequest, post("/runs/h1/choice", `{"choice":"sideways"}`, nil))
	assert.Equal(t, http.StatusConflict, post("/runs/h1/review", `{"approve":true}`, nil))

	var chosen runOutput
	require.Equal(t, http.StatusOK, post("/runs/h1/choice", `{"choice":"finish"}`, &chosen))
	assert.Equal(t, workflow.NodeReview, chosen.Pending)

	var done runOutput
	require.Equal(t, http.StatusOK, post("/runs/h1/review", `{"approve":true}`, &done))
	assert.Equal(t, graph.StatusCompleted, done.Status)
	assert.Positive(t, done.Usage.Calls)

	var history []graph.Checkpoint
	require.Equal(t, http.StatusOK, get("/runs/h1/history", &history))
	assert.NotEmpty(t, history)

	assert.Equal(t, http.StatusNotFound, get("/runs/nobody", nil))
	assert.Equal(t, http.StatusBadRequest, post("/runs", `{`, nil))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var metrics bytes.Buffer
	_, err = metrics.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, metrics.String(), "orcgraph_")
}
