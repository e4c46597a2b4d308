package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/dshills/orcgraph/graph/store"
)

// counter records how many times each node ran.
type counter struct {
	mu   sync.Mutex
	runs map[string]int
}

func newCounter() *counter {
	return &counter{runs: make(map[string]int)}
}

func (c *counter) hit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[name]++
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[name]
}

// step returns a node that counts its runs, appends its name to "trail" and
// applies out.
func (c *counter) step(name string, out State) NodeFunc {
	return func(ctx context.Context, s State, rc RunContext) (State, error) {
		c.hit(name)
		partial := State{"trail": []string{name}}
		for k, v := range out {
			partial[k] = v
		}
		return partial, nil
	}
}

func testSchema() *Schema {
	return NewSchema().
		Field("trail", Append).
		Field("value", Replace).
		Field("input", Replace).
		Field("answer", Replace).
		Field("count", Sum).
		Field("notes", Merge).
		Field("last_error", Replace)
}

// mustCompile compiles g or fails the test.
func mustCompile(t *testing.T, g *Graph) *Compiled {
	t.Helper()
	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	return c
}

// mustEngine builds an engine over a fresh memory store.
func mustEngine(t *testing.T, c *Compiled, opts ...Option) (*Engine, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	e, err := New(c, st, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return e, st
}

// linearGraph is a -> b -> c -> End.
func linearGraph(t *testing.T, c *counter) *Compiled {
	t.Helper()
	g := NewGraph("linear", testSchema())
	_ = g.AddNode("a", c.step("a", nil))
	_ = g.AddNode("b", c.step("b", State{"count": 1}))
	_ = g.AddNode("c", c.step("c", State{"value": "done"}))
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "c")
	_ = g.AddEdge("c", End)
	_ = g.SetEntry("a")
	return mustCompile(t, g)
}

// gateGraph is prepare -> gate* -> finish -> End. gate re-interrupts until
// "input" is set and then copies it to "answer".
func gateGraph(t *testing.T, c *counter) *Compiled {
	t.Helper()
	g := NewGraph("gate", testSchema())
	_ = g.AddNode("prepare", c.step("prepare", State{"value": "prepared"}))
	_ = g.AddNode("gate", NodeFunc(func(ctx context.Context, s State, rc RunContext) (State, error) {
		c.hit("gate")
		if s.String("input") == "" {
			return State{"trail": []string{"gate-waiting"}}, Interrupt("input required")
		}
		return State{"answer": s.String("input"), "input": "", "trail": []string{"gate"}}, nil
	}))
	_ = g.AddNode("finish", c.step("finish", nil))
	_ = g.AddEdge("prepare", "gate")
	_ = g.AddEdge("gate", "finish")
	_ = g.AddEdge("finish", End)
	_ = g.SetEntry("prepare")
	_ = g.MarkInterruptBefore("gate")
	return mustCompile(t, g)
}
