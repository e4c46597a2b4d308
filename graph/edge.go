package graph

import (
	"fmt"
	"sort"
)

// End is the terminal marker. Edges and labels pointing at End complete the run.
const End = "__end__"

// Router inspects state and returns a label selecting the next node.
//
// The label must be a key of the conditional edge's label map; an unmapped
// label fails the run with ErrUnmappedLabel. Routers should be pure. A router
// returning an error fails the run, which is how bounded retry loops stop at
// their ceiling.
type Router func(state State) (string, error)

// route is the outgoing transition of one node: either a fixed destination
// or a router with its closed label table.
type route struct {
	to     string
	router Router
	labels map[string]string
}

func (r route) conditional() bool {
	return r.router != nil
}

// destinations returns every node the route can lead to, sorted.
func (r route) destinations() []string {
	if !r.conditional() {
		return []string{r.to}
	}
	seen := make(map[string]struct{}, len(r.labels))
	out := make([]string, 0, len(r.labels))
	for _, dst := range r.labels {
		if _, ok := seen[dst]; ok {
			continue
		}
		seen[dst] = struct{}{}
		out = append(out, dst)
	}
	sort.Strings(out)
	return out
}

// next resolves the destination for the given state.
func (r route) next(from string, state State) (string, string, error) {
	if !r.conditional() {
		return r.to, "", nil
	}
	label, err := r.router(state)
	if err != nil {
		return "", "", err
	}
	dst, ok := r.labels[label]
	if !ok {
		return "", label, fmt.Errorf("%w: %q from node %s", ErrUnmappedLabel, label, from)
	}
	return dst, label, nil
}
