/*
condition.go - Evaluating a single attribute condition

OPERATOR SEMANTICS:
  equals / notEquals      deep equality; numbers compare by value across
                          Go numeric types (int 5 == float64 5.0)
  greaterThan, lessThan,  numbers (numeric strings accepted) or dates
  ...OrEqual              (time.Time or RFC 3339 / YYYY-MM-DD strings);
                          anything else is false
  in / notIn              Value must be a sequence. A scalar attribute is
                          tested for membership; an array attribute matches
                          in when any element is a member and notIn when
                          none are
  contains / notContains  substring for strings, element membership for
                          arrays (every element when Value is a sequence)
  startsWith / endsWith   strings only

  A path that does not resolve is false for every operator, notEquals and
  notIn included. Unknown operators are false.
*/
package abac

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EvaluateCondition applies c to the attribute bag. It never panics.
func EvaluateCondition(c Condition, bag map[string]any) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()

	attr, ok := Resolve(bag, c.Path)
	if !ok {
		return false
	}
	return apply(c.Operator, attr, c.Value)
}

func apply(op Operator, attr, value any) bool {
	switch op {
	case OpEquals:
		return equal(attr, value)
	case OpNotEquals:
		return !equal(attr, value)

	case OpGreaterThan:
		n, ok := compare(attr, value)
		return ok && n > 0
	case OpGreaterThanOrEqual:
		n, ok := compare(attr, value)
		return ok && n >= 0
	case OpLessThan:
		n, ok := compare(attr, value)
		return ok && n < 0
	case OpLessThanOrEqual:
		n, ok := compare(attr, value)
		return ok && n <= 0

	case OpIn, OpNotIn:
		set, ok := sequence(value)
		if !ok {
			return false
		}
		hit := false
		if elems, isSeq := sequence(attr); isSeq {
			for _, e := range elems {
				if member(e, set) {
					hit = true
					break
				}
			}
		} else {
			hit = member(attr, set)
		}
		if op == OpIn {
			return hit
		}
		return !hit

	case OpContains:
		hit, ok := contains(attr, value)
		return ok && hit
	case OpNotContains:
		hit, ok := contains(attr, value)
		return ok && !hit

	case OpStartsWith, OpEndsWith:
		s, ok1 := attr.(string)
		v, ok2 := value.(string)
		if !ok1 || !ok2 {
			return false
		}
		if op == OpStartsWith {
			return strings.HasPrefix(s, v)
		}
		return strings.HasSuffix(s, v)
	}
	return false
}

// contains reports the contains result and whether the operand types
// support it at all.
func contains(attr, value any) (hit bool, ok bool) {
	if s, isStr := attr.(string); isStr {
		v, vStr := value.(string)
		if !vStr {
			return false, false
		}
		return strings.Contains(s, v), true
	}

	elems, isSeq := sequence(attr)
	if !isSeq {
		return false, false
	}
	if want, many := sequence(value); many {
		if len(want) == 0 {
			return false, false
		}
		for _, w := range want {
			if !member(w, elems) {
				return false, true
			}
		}
		return true, true
	}
	return member(value, elems), true
}

func member(v any, set []any) bool {
	for _, s := range set {
		if equal(v, s) {
			return true
		}
	}
	return false
}

// =============================================================================
// EQUALITY & ORDERING
// =============================================================================

func equal(a, b any) bool {
	if x, ok := number(a, false); ok {
		if y, ok := number(b, false); ok {
			return x.Equal(y)
		}
		return false
	}
	if isTime(a) || isTime(b) {
		x, okA := date(a)
		y, okB := date(b)
		return okA && okB && x.Equal(y)
	}
	if xs, ok := sequence(a); ok {
		ys, ok := sequence(b)
		if !ok || len(xs) != len(ys) {
			return false
		}
		for i := range xs {
			if !equal(xs[i], ys[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two numbers or two dates. ok is false for anything else.
func compare(a, b any) (int, bool) {
	if x, ok := number(a, true); ok {
		if y, ok := number(b, true); ok {
			return x.Cmp(y), true
		}
		return 0, false
	}
	if x, ok := date(a); ok {
		if y, ok := date(b); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

// number converts Go numeric types to a decimal. Numeric strings are only
// accepted when lenient is set.
func number(v any, lenient bool) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromUint64(uint64(n)), true
	case uint8:
		return decimal.NewFromUint64(uint64(n)), true
	case uint16:
		return decimal.NewFromUint64(uint64(n)), true
	case uint32:
		return decimal.NewFromUint64(uint64(n)), true
	case uint64:
		return decimal.NewFromUint64(n), true
	case float32:
		return floatNumber(float64(n))
	case float64:
		return floatNumber(n)
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		if !lenient {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Zero, false
}

func floatNumber(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func isTime(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case *time.Time:
		return t != nil
	}
	return false
}

func date(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// sequence flattens any slice or array (except strings and byte slices)
// into []any.
func sequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []byte:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
