/*
Package abac provides the attribute-based access control policy evaluator.

PURPOSE:
  Decides whether a request is permitted by evaluating a set of policies
  against the request's attribute bag. A policy is a tree of typed
  conditions (attribute path, operator, value) joined by AND/OR. Each
  matching policy votes with its effect; a combining algorithm turns the
  votes into one decision.

KEY CONCEPTS IN THIS FILE (types.go):
  - Condition: attribute path + operator + literal value
  - Rule: conditions joined by AND/OR, with optional nested child rules
  - Policy: effect (permit/deny), priority, validity window, root rule
  - Request: the attribute bag (subject, resource, action, environment)
  - PolicyTrace / EvaluationResult: per-policy outcome and the decision

DESIGN PRINCIPLES:
  1. Total evaluation: a missing attribute, a bad operator or an
     incomparable value is a non-match, never a panic or an error
  2. Deny by default: no votes means the caller's default effect, which
     is deny unless explicitly overridden
  3. Traceable: every decision carries the full per-policy trace in the
     caller's policy order
  4. Validation is separate: Validate* report problems before a policy is
     saved; evaluation never depends on validation having run

USAGE:
  req := abac.NewRequest(subject, resource, "approve", env, time.Now())
  result := abac.EvaluateAll(policies, req, abac.EffectDeny)
  if !result.Allowed {
      // result.Reason, result.Trace
  }

SEE ALSO:
  - condition.go: EvaluateCondition (operators)
  - rule.go: EvaluateRule (AND/OR, depth)
  - engine.go: EvaluatePolicy, EvaluateAll, combining algorithms
  - attributes.go: Catalog of known attributes
  - validate.go: ValidateCondition / ValidatePolicy
*/
package abac

import "time"

// =============================================================================
// ENUMS
// =============================================================================

// Effect is a policy's vote when it matches.
type Effect string

const (
	EffectPermit Effect = "permit"
	EffectDeny   Effect = "deny"
)

func (e Effect) Valid() bool {
	return e == EffectPermit || e == EffectDeny
}

// Operator compares a resolved attribute with a condition value.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpGreaterThan        Operator = "greaterThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThan           Operator = "lessThan"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "notIn"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "notContains"
	OpStartsWith         Operator = "startsWith"
	OpEndsWith           Operator = "endsWith"
)

// AllOperators lists every operator the evaluator understands.
var AllOperators = []Operator{
	OpEquals, OpNotEquals,
	OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual,
	OpIn, OpNotIn,
	OpContains, OpNotContains, OpStartsWith, OpEndsWith,
}

func (o Operator) Valid() bool {
	for _, known := range AllOperators {
		if o == known {
			return true
		}
	}
	return false
}

// DataType is the declared type of a catalog attribute.
type DataType string

const (
	TypeString  DataType = "string"
	TypeNumber  DataType = "number"
	TypeBoolean DataType = "boolean"
	TypeDate    DataType = "date"
	TypeArray   DataType = "array"
)

func (t DataType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate, TypeArray:
		return true
	}
	return false
}

// LogicalOperator joins the conditions and children of a rule.
type LogicalOperator string

const (
	LogicAnd LogicalOperator = "AND"
	LogicOr  LogicalOperator = "OR"
)

// =============================================================================
// CONDITIONS, RULES, POLICIES
// =============================================================================

// Condition tests one attribute. Value is a literal: string, number, bool,
// time, or a slice of those for in/notIn.
type Condition struct {
	Path     string
	Operator Operator
	Value    any
}

// Rule joins conditions and child rules. An empty Logic means AND.
// A rule with no conditions and no children matches everything.
type Rule struct {
	Logic      LogicalOperator
	Conditions []Condition
	Children   []Rule
}

// Depth is the number of rule levels, counting r itself.
func (r Rule) Depth() int {
	deepest := 0
	for _, c := range r.Children {
		if d := c.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// Policy votes Effect when its Rule matches a request.
//
// Priority only matters to the priority-based combining algorithm; higher
// wins. A disabled policy or one outside its effective window abstains.
type Policy struct {
	ID            string
	Name          string
	Description   string
	Effect        Effect
	Priority      int
	Enabled       bool
	Rule          Rule
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	Tags          []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActiveAt reports whether the policy is enabled and inside its window.
func (p Policy) ActiveAt(at time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.EffectiveFrom != nil && at.Before(*p.EffectiveFrom) {
		return false
	}
	if p.EffectiveTo != nil && at.After(*p.EffectiveTo) {
		return false
	}
	return true
}

// =============================================================================
// REQUEST & RESULT
// =============================================================================

// Request is what is being decided. Attributes is a nested bag addressed
// by dotted paths such as "subject.department.name".
type Request struct {
	Attributes map[string]any
	At         time.Time
}

// NewRequest builds the standard four-part bag. The action is stored as
// "action.name".
func NewRequest(subject, resource map[string]any, action string, environment map[string]any, at time.Time) Request {
	return Request{
		Attributes: map[string]any{
			"subject":     orEmpty(subject),
			"resource":    orEmpty(resource),
			"action":      map[string]any{"name": action},
			"environment": orEmpty(environment),
		},
		At: at,
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// PolicyTrace is one policy's outcome.
// Matched is true only when the policy voted: active and its rule matched.
type PolicyTrace struct {
	PolicyID   string
	PolicyName string
	Effect     Effect
	Priority   int
	Matched    bool
	Reason     string
}

// EvaluationResult is the combined decision plus the full trace.
type EvaluationResult struct {
	Allowed        bool
	FinalEffect    Effect
	Algorithm      Algorithm
	DecidingPolicy string // empty when the default effect applied
	Reason         string
	Trace          []PolicyTrace
}
