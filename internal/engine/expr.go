package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/plan"
)

// resolveBinding produces the concrete value for a binding: the literal, or
// the referenced context value.
func resolveBinding(ec *ExecContext, b plan.Binding) (any, error) {
	if b.IsRef() {
		return ec.Resolve(b.From)
	}
	return b.Value, nil
}

// resolveInputs materializes a binding map into concrete input values.
func resolveInputs(ec *ExecContext, bindings map[string]plan.Binding) (map[string]any, error) {
	out := make(map[string]any, len(bindings))
	for name, b := range bindings {
		v, err := resolveBinding(ec, b)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// evalPredicate evaluates a predicate against the execution context.
// Resolution failures abort the run (they are not treated as false), with
// the single exception of OpExists, whose purpose is presence testing.
func evalPredicate(ec *ExecContext, p *plan.Predicate) (bool, error) {
	left, err := resolveBinding(ec, p.Left)
	if err != nil {
		if p.Op == plan.OpExists && errors.Is(err, domain.ErrUnresolvedReference) {
			return false, nil
		}
		return false, err
	}
	if p.Op == plan.OpExists {
		return left != nil, nil
	}

	right, err := resolveBinding(ec, p.Right)
	if err != nil {
		return false, err
	}

	switch p.Op {
	case plan.OpEq:
		return valuesEqual(left, right), nil
	case plan.OpNe:
		return !valuesEqual(left, right), nil
	case plan.OpGt, plan.OpGte, plan.OpLt, plan.OpLte:
		return compareOrdered(left, right, p.Op)
	case plan.OpContains:
		return contains(left, right)
	}
	return false, fmt.Errorf("%w: unknown operator %q", domain.ErrMalformedPayload, p.Op)
}

// valuesEqual compares with numeric normalization: JSON decoding yields
// float64 while literals built in Go may be int.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compareOrdered(a, b any, op plan.Op) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		as, asok := a.(string)
		bs, bsok := b.(string)
		if !asok || !bsok {
			return false, fmt.Errorf("%w: %q needs two numbers or two strings", domain.ErrMalformedPayload, op)
		}
		return orderedHolds(strings.Compare(as, bs), op), nil
	}
	switch {
	case af < bf:
		return orderedHolds(-1, op), nil
	case af > bf:
		return orderedHolds(1, op), nil
	default:
		return orderedHolds(0, op), nil
	}
}

func orderedHolds(cmp int, op plan.Op) bool {
	switch op {
	case plan.OpGt:
		return cmp > 0
	case plan.OpGte:
		return cmp >= 0
	case plan.OpLt:
		return cmp < 0
	case plan.OpLte:
		return cmp <= 0
	}
	return false
}

// contains handles string substring, sequence membership, and map key tests.
func contains(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("%w: contains on a string needs a string needle", domain.ErrMalformedPayload)
		}
		return strings.Contains(h, s), nil
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("%w: contains on a map needs a string key", domain.ErrMalformedPayload)
		}
		_, found := h[s]
		return found, nil
	}

	items, err := asSequence(haystack)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if valuesEqual(item, needle) {
			return true, nil
		}
	}
	return false, nil
}

// asSequence normalizes a value to []any. JSON decoding already produces
// []any; typed Go slices from local task outputs are handled via reflection.
func asSequence(v any) ([]any, error) {
	if items, ok := v.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("%w: value of type %T is not a sequence", domain.ErrMalformedPayload, v)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

// toFloat coerces the numeric types a binding can carry.
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
	case uint64:
		return float64(n), true
	}
	return 0, false
}
