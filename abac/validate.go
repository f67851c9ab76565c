/*
validate.go - Checking policies before they are saved

A condition is valid when:
  - its path is in the catalog
  - its operator is allowed for that attribute
  - its value is non-empty and fits the attribute's data type
    (in/notIn need a non-empty sequence of fitting elements)

A policy is valid when it has an ID and a name, a known effect, an
effective window that isn't inverted, known logical operators, a rule no
deeper than maxDepth, and only valid conditions. ValidatePolicy reports
every problem at once in a PolicyError.
*/
package abac

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateCondition checks one condition against the catalog.
func ValidateCondition(cat *Catalog, c Condition) error {
	fail := func(reason string) error {
		return &ConditionError{Path: c.Path, Operator: c.Operator, Reason: reason}
	}

	if strings.TrimSpace(c.Path) == "" {
		return fail("attribute path is required")
	}
	def, ok := cat.Lookup(c.Path)
	if !ok {
		return fail("unknown attribute")
	}
	if !c.Operator.Valid() {
		return fail("unknown operator")
	}
	if !def.Allows(c.Operator) {
		return fail(fmt.Sprintf("operator not allowed for %s attribute", def.DataType))
	}
	if isEmpty(c.Value) {
		return fail("value is required")
	}

	switch c.Operator {
	case OpIn, OpNotIn:
		elems, ok := sequence(c.Value)
		if !ok {
			return fail("value must be a list")
		}
		for _, e := range elems {
			if !fits(elementType(def.DataType), e) {
				return fail(fmt.Sprintf("list element %v is not a %s", e, elementType(def.DataType)))
			}
		}
	case OpContains, OpNotContains:
		if def.DataType == TypeArray {
			return nil
		}
		if _, ok := c.Value.(string); !ok {
			return fail("value must be a string")
		}
	default:
		if !fits(def.DataType, c.Value) {
			return fail(fmt.Sprintf("value %v is not a %s", c.Value, def.DataType))
		}
	}
	return nil
}

// ValidateRule checks depth, logical operators and every condition.
func ValidateRule(cat *Catalog, r Rule, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	var problems []error
	if d := r.Depth(); d > maxDepth {
		problems = append(problems, fmt.Errorf("%w: %d levels, limit %d", ErrRuleTooDeep, d, maxDepth))
	}
	walkRule(r, func(node Rule) {
		if node.Logic != "" && node.Logic != LogicAnd && node.Logic != LogicOr {
			problems = append(problems, fmt.Errorf("%w: unknown logical operator %q", ErrInvalidPolicy, node.Logic))
		}
		for _, c := range node.Conditions {
			if err := ValidateCondition(cat, c); err != nil {
				problems = append(problems, err)
			}
		}
	})
	return errors.Join(problems...)
}

// ValidatePolicy checks a whole policy and returns a *PolicyError listing
// every problem, or nil.
func ValidatePolicy(cat *Catalog, p Policy, maxDepth int) error {
	var problems []error
	if strings.TrimSpace(p.ID) == "" {
		problems = append(problems, fmt.Errorf("%w: id is required", ErrInvalidPolicy))
	}
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, fmt.Errorf("%w: name is required", ErrInvalidPolicy))
	}
	if !p.Effect.Valid() {
		problems = append(problems, fmt.Errorf("%w: unknown effect %q", ErrInvalidPolicy, p.Effect))
	}
	if p.EffectiveFrom != nil && p.EffectiveTo != nil && p.EffectiveTo.Before(*p.EffectiveFrom) {
		problems = append(problems, fmt.Errorf("%w: effective window ends before it starts", ErrInvalidPolicy))
	}
	if err := ValidateRule(cat, p.Rule, maxDepth); err != nil {
		problems = append(problems, unjoin(err)...)
	}

	if len(problems) == 0 {
		return nil
	}
	return &PolicyError{PolicyID: p.ID, Problems: problems}
}

func walkRule(r Rule, visit func(Rule)) {
	visit(r)
	for _, c := range r.Children {
		walkRule(c, visit)
	}
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// =============================================================================
// TYPE FIT
// =============================================================================

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	if elems, ok := sequence(v); ok {
		return len(elems) == 0
	}
	return false
}

// elementType is the type of the members of a list value. Array
// attributes hold strings.
func elementType(t DataType) DataType {
	if t == TypeArray {
		return TypeString
	}
	return t
}

func fits(t DataType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := number(v, true)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeDate:
		_, ok := date(v)
		return ok
	case TypeArray:
		_, ok := sequence(v)
		return ok
	}
	return false
}
