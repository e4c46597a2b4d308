// Package graph provides the hierarchical workflow execution engine for orcgraph.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
)

// State is the field mapping a graph operates on.
//
// Node functions receive the current State and return a partial State that
// holds only the fields they change. The engine merges partials field by field
// using the policies declared in the graph's Schema.
//
// A State must stay serializable to JSON: plain scalars, slices and maps.
// After every merge the engine normalizes state through a JSON round trip, so
// numbers read back as float64. Use the typed accessors (Int, String, ...)
// instead of raw type assertions.
type State map[string]any

// Clone returns a deep copy of the state.
func (s State) Clone() (State, error) {
	return normalize(s)
}

// String returns the field as a string, or "" when absent or not a string.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Bool returns the field as a bool, or false when absent.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Float returns the field as a float64, or 0 when absent or not numeric.
func (s State) Float(key string) float64 {
	f, _ := toFloat(s[key])
	return f
}

// Int returns the field as an int, or 0 when absent or not numeric.
func (s State) Int(key string) int {
	f, _ := toFloat(s[key])
	return int(f)
}

// Slice returns the field as a []any, or nil when absent.
func (s State) Slice(key string) []any {
	switch v := s[key].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	}
	return nil
}

// Strings returns the string elements of a sequence field.
func (s State) Strings(key string) []string {
	switch v := s[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Map returns the field as a map, or nil when absent.
func (s State) Map(key string) map[string]any {
	switch v := s[key].(type) {
	case map[string]any:
		return v
	case State:
		return v
	}
	return nil
}

// Keys returns the field names in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalize deep-copies state through JSON serialization.
//
// This keeps the in-memory state identical to what a checkpoint round trip
// produces, and rejects values that cannot be persisted (channels, funcs).
func normalize(s State) (State, error) {
	if s == nil {
		return State{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, &EngineError{Message: fmt.Sprintf("state is not serializable: %v", err), Code: "ENCODE_ERROR"}
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &EngineError{Message: fmt.Sprintf("state decode failed: %v", err), Code: "ENCODE_ERROR"}
	}
	if out == nil {
		out = State{}
	}
	return out, nil
}

// Schema declares the fields of one graph's state and their merge policies.
//
// Every field has exactly one policy, fixed when the schema is built:
//
//	schema := graph.NewSchema().
//	    Field("query", graph.Replace).
//	    Field("logs", graph.Append).
//	    Field("results", graph.Merge).
//	    Field("attempts", graph.Sum)
//
// A partial output naming a field the schema does not declare is rejected
// with ErrUnknownField.
type Schema struct {
	fields map[string]Policy
	errs   []error
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]Policy)}
}

// Field declares a field with its merge policy. Declaring the same field twice
// is recorded as an error and reported by Graph.Compile.
func (s *Schema) Field(name string, policy Policy) *Schema {
	if _, exists := s.fields[name]; exists {
		s.errs = append(s.errs, fmt.Errorf("field %q declared twice", name))
		return s
	}
	if !policy.valid() {
		s.errs = append(s.errs, fmt.Errorf("field %q: unknown policy %d", name, policy))
		return s
	}
	s.fields[name] = policy
	return s
}

// Policy returns the merge policy for a field.
func (s *Schema) Policy(name string) (Policy, bool) {
	p, ok := s.fields[name]
	return p, ok
}

// Fields returns the declared field names in sorted order.
func (s *Schema) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge combines a partial output into old using each field's reducer.
//
// old is never mutated. Fields absent from partial, or present with a nil
// value, are left untouched. The result is normalized so it matches what a
// checkpoint round trip would produce.
func (s *Schema) Merge(old, partial State) (State, error) {
	merged := make(State, len(old)+len(partial))
	for k, v := range old {
		merged[k] = v
	}
	for _, key := range partial.Keys() {
		value := partial[key]
		if value == nil {
			continue
		}
		policy, ok := s.fields[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
		out, err := policy.Reducer()(merged[key], value)
		if err != nil {
			return nil, fmt.Errorf("field %q (%s): %w", key, policy, err)
		}
		merged[key] = out
	}
	return normalize(merged)
}

// Apply merges an externally supplied patch. An empty patch returns a copy of
// state unchanged.
func (s *Schema) Apply(state, patch State) (State, error) {
	if len(patch) == 0 {
		return normalize(state)
	}
	return s.Merge(state, patch)
}
