package graph

import (
	"errors"
	"fmt"
	"sort"
)

// Graph is the builder for a workflow definition.
//
// Register nodes and edges, choose the entry, flag interrupt-before nodes,
// then call Compile. Builder methods record problems and return them, and
// Compile reports every problem found, so a misconfigured graph can never
// be executed.
//
// Example:
//
//	g := graph.NewGraph("review", schema)
//	_ = g.AddNode("draft", draftNode)
//	_ = g.AddNode("approve", approveNode)
//	_ = g.AddEdge("draft", "approve")
//	_ = g.AddConditionalEdges("approve", decide, map[string]string{
//	    "ok":    graph.End,
//	    "retry": "draft",
//	})
//	_ = g.SetEntry("draft")
//	_ = g.MarkInterruptBefore("approve")
//	compiled, err := g.Compile()
type Graph struct {
	name       string
	schema     *Schema
	nodes      map[string]*nodeSpec
	order      []string
	routes     map[string]route
	entry      string
	interrupts map[string]struct{}
	errs       []error
	compiled   bool
}

// NewGraph creates an empty graph builder for the given state schema.
func NewGraph(name string, schema *Schema) *Graph {
	if schema == nil {
		schema = NewSchema()
	}
	return &Graph{
		name:       name,
		schema:     schema,
		nodes:      make(map[string]*nodeSpec),
		routes:     make(map[string]route),
		interrupts: make(map[string]struct{}),
	}
}

func (g *Graph) fail(err error) error {
	g.errs = append(g.errs, err)
	return err
}

// AddNode registers a node. Registering the same name twice fails with
// ErrDuplicateNode.
func (g *Graph) AddNode(name string, node Node, opts ...NodeOption) error {
	if g.compiled {
		return ErrCompiled
	}
	if name == "" || name == End || node == nil {
		return g.fail(&DefinitionError{Err: ErrInvalidNode, Node: name})
	}
	if _, exists := g.nodes[name]; exists {
		return g.fail(&DefinitionError{Err: ErrDuplicateNode, Node: name})
	}
	spec := &nodeSpec{name: name, node: node}
	for _, opt := range opts {
		opt(spec)
	}
	g.nodes[name] = spec
	g.order = append(g.order, name)
	return nil
}

// AddEdge adds an unconditional edge. Destinations are resolved at Compile
// time, so edges may be declared before their target nodes.
func (g *Graph) AddEdge(from, to string) error {
	return g.addRoute(from, route{to: to})
}

// AddConditionalEdges attaches a router to from. labels is the closed set of
// labels the router may return, each mapped to a node name or End.
func (g *Graph) AddConditionalEdges(from string, router Router, labels map[string]string) error {
	if router == nil || len(labels) == 0 {
		return g.fail(&DefinitionError{Err: ErrInvalidNode, Node: from, Detail: "conditional edge needs a router and labels"})
	}
	table := make(map[string]string, len(labels))
	for k, v := range labels {
		table[k] = v
	}
	return g.addRoute(from, route{router: router, labels: table})
}

func (g *Graph) addRoute(from string, r route) error {
	if g.compiled {
		return ErrCompiled
	}
	if _, exists := g.routes[from]; exists {
		return g.fail(&DefinitionError{Err: ErrConflictingEdges, Node: from})
	}
	g.routes[from] = r
	return nil
}

// SetEntry selects the node execution starts from.
func (g *Graph) SetEntry(name string) error {
	if g.compiled {
		return ErrCompiled
	}
	g.entry = name
	return nil
}

// MarkInterruptBefore flags nodes so the engine suspends immediately before
// executing them, however they were reached.
func (g *Graph) MarkInterruptBefore(names ...string) error {
	if g.compiled {
		return ErrCompiled
	}
	for _, name := range names {
		g.interrupts[name] = struct{}{}
	}
	return nil
}

// Compile validates the definition and returns an immutable, reusable graph.
//
// Validation covers duplicate nodes, edges or labels pointing at unregistered
// nodes, nodes without an outgoing route, reachability of every node from
// the entry, and the existence of at least one path reaching End.
func (g *Graph) Compile() (*Compiled, error) {
	if g.compiled {
		return nil, ErrCompiled
	}
	errs := append([]error(nil), g.errs...)
	for _, err := range g.schema.errs {
		errs = append(errs, &DefinitionError{Err: ErrInvalidSchema, Detail: err.Error()})
	}

	if g.entry == "" {
		errs = append(errs, &DefinitionError{Err: ErrNoEntry})
	} else if _, ok := g.nodes[g.entry]; !ok {
		errs = append(errs, &DefinitionError{Err: ErrUnknownDestination, Node: g.entry, Detail: "entry"})
	}

	for _, from := range sortedKeys(g.routes) {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, &DefinitionError{Err: ErrUnknownDestination, Node: from, Detail: "edge source"})
		}
		r := g.routes[from]
		if r.conditional() {
			for _, label := range sortedKeys(r.labels) {
				if !g.resolvable(r.labels[label]) {
					errs = append(errs, &DefinitionError{
						Err:    ErrUnknownDestination,
						Node:   r.labels[label],
						Detail: fmt.Sprintf("label %q from %s", label, from),
					})
				}
			}
		} else if !g.resolvable(r.to) {
			errs = append(errs, &DefinitionError{Err: ErrUnknownDestination, Node: r.to, Detail: "edge from " + from})
		}
	}

	for _, name := range g.order {
		if _, ok := g.routes[name]; !ok {
			errs = append(errs, &DefinitionError{Err: ErrDeadEnd, Node: name})
		}
	}
	for _, name := range sortedKeys(g.interrupts) {
		if _, ok := g.nodes[name]; !ok {
			errs = append(errs, &DefinitionError{Err: ErrUnknownDestination, Node: name, Detail: "interrupt-before"})
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Reachability and terminal path only make sense on a well-formed graph.
	reached := g.reachable()
	for _, name := range g.order {
		if !reached[name] {
			errs = append(errs, &DefinitionError{Err: ErrUnreachableNode, Node: name})
		}
	}
	if !reached[End] {
		errs = append(errs, &DefinitionError{Err: ErrNoTerminalPath, Node: g.entry})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g.compiled = true
	c := &Compiled{
		name:       g.name,
		schema:     g.schema,
		nodes:      make(map[string]*nodeSpec, len(g.nodes)),
		routes:     make(map[string]route, len(g.routes)),
		entry:      g.entry,
		interrupts: make(map[string]struct{}, len(g.interrupts)),
	}
	for k, v := range g.nodes {
		c.nodes[k] = v
	}
	for k, v := range g.routes {
		c.routes[k] = v
	}
	for k := range g.interrupts {
		c.interrupts[k] = struct{}{}
	}
	return c, nil
}

func (g *Graph) resolvable(name string) bool {
	if name == End {
		return true
	}
	_, ok := g.nodes[name]
	return ok
}

// reachable walks both edge kinds from the entry.
func (g *Graph) reachable() map[string]bool {
	seen := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == End {
			continue
		}
		for _, dst := range g.routes[cur].destinations() {
			if !seen[dst] {
				seen[dst] = true
				queue = append(queue, dst)
			}
		}
	}
	return seen
}

// Compiled is an immutable, validated graph definition. It is safe for
// concurrent use by any number of engines and runs.
type Compiled struct {
	name       string
	schema     *Schema
	nodes      map[string]*nodeSpec
	routes     map[string]route
	entry      string
	interrupts map[string]struct{}
}

// Name returns the graph name.
func (c *Compiled) Name() string { return c.name }

// Entry returns the entry node.
func (c *Compiled) Entry() string { return c.entry }

// Schema returns the state schema.
func (c *Compiled) Schema() *Schema { return c.schema }

// Nodes returns the node names in sorted order.
func (c *Compiled) Nodes() []string { return sortedKeys(c.nodes) }

// InterruptBefore reports whether the node is flagged interrupt-before.
func (c *Compiled) InterruptBefore(name string) bool {
	_, ok := c.interrupts[name]
	return ok
}

// Labels returns the label table of a node's conditional edge, or nil when
// the node's outgoing edge is unconditional.
func (c *Compiled) Labels(from string) map[string]string {
	r, ok := c.routes[from]
	if !ok || !r.conditional() {
		return nil
	}
	out := make(map[string]string, len(r.labels))
	for k, v := range r.labels {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
