package graph

import (
	"errors"
	"fmt"
	"reflect"
)

// Policy selects how a field's new value combines with its old value.
type Policy int

const (
	// Replace keeps the newest present value (last write wins).
	Replace Policy = iota

	// Append concatenates ordered sequences. A missing side yields the other.
	Append

	// Merge performs a shallow key-wise union of two mappings; keys from the
	// new side override on collision.
	Merge

	// Sum accumulates numbers. A missing side counts as 0.
	Sum
)

// ErrReducerType is returned when a value cannot be combined under a policy.
var ErrReducerType = errors.New("value type not supported by merge policy")

// Reducer combines an old and a new field value. nil means absent.
// Reducers are pure: they never mutate their inputs.
type Reducer func(old, new any) (any, error)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Replace:
		return "replace"
	case Append:
		return "append"
	case Merge:
		return "merge"
	case Sum:
		return "sum"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func (p Policy) valid() bool {
	return p >= Replace && p <= Sum
}

// Reducer returns the merge function for the policy.
func (p Policy) Reducer() Reducer {
	switch p {
	case Append:
		return appendValues
	case Merge:
		return mergeMaps
	case Sum:
		return sumValues
	default:
		return replaceValue
	}
}

func replaceValue(old, new any) (any, error) {
	if new == nil {
		return old, nil
	}
	return new, nil
}

func appendValues(old, new any) (any, error) {
	if new == nil {
		return old, nil
	}
	if old == nil {
		return asSlice(new), nil
	}
	left, right := asSlice(old), asSlice(new)
	out := make([]any, 0, len(left)+len(right))
	out = append(out, left...)
	return append(out, right...), nil
}

// asSlice views a sequence value as []any. Scalars become one-element slices.
func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

func mergeMaps(old, new any) (any, error) {
	if new == nil {
		return old, nil
	}
	right, ok := asMap(new)
	if !ok {
		return nil, fmt.Errorf("%w: merge expects a mapping, got %T", ErrReducerType, new)
	}
	if old == nil {
		return copyMap(right), nil
	}
	left, ok := asMap(old)
	if !ok {
		return nil, fmt.Errorf("%w: merge expects a mapping, got %T", ErrReducerType, old)
	}
	out := copyMap(left)
	for k, v := range right {
		out[k] = v
	}
	return out, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case State:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	}
	return nil, false
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sumValues(old, new any) (any, error) {
	if new == nil {
		new = 0
	}
	if old == nil {
		old = 0
	}
	a, ok := toFloat(old)
	if !ok {
		return nil, fmt.Errorf("%w: sum expects a number, got %T", ErrReducerType, old)
	}
	b, ok := toFloat(new)
	if !ok {
		return nil, fmt.Errorf("%w: sum expects a number, got %T", ErrReducerType, new)
	}
	return a + b, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
