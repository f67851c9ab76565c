/*
Package factory provides JSON/YAML to Go policy conversion.

PURPOSE:
  Converts policy definitions written as JSON (API, database) or YAML
  (fixture bundles, files on disk) into abac.Policy values and back. Policy
  authors change access rules without code changes; the factory produces
  the Go structs the evaluator runs.

JSON SCHEMA:
  {
    "id": "count-during-hours",
    "name": "Counters may count during business hours",
    "effect": "permit",
    "priority": 500,
    "enabled": true,
    "effective_from": "2025-01-01T00:00:00Z",
    "rule": {
      "logic": "AND",
      "conditions": [
        {"attribute": "subject.role.name", "operator": "in", "value": ["counter", "store-keeper"]},
        {"attribute": "action.name", "operator": "equals", "value": "conduct_count"}
      ],
      "rules": [
        {"logic": "OR", "conditions": [...]}
      ]
    }
  }

KEY FEATURES:
  - enabled defaults to true, priority to 500, logic to AND
  - numbers in JSON keep their exact text (json.Number), so 0.1 stays 0.1
  - bundles: {"policies": [...]} in JSON or YAML
  - no validation against the catalog here; see abac.ValidatePolicy

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(jsonString)
  policies, err := f.ParseBundleYAML(yamlBytes)

SEE ALSO:
  - abac/types.go: Policy type definition
  - fixtures/policies.yaml: shipped sample policies
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/ops-engine/abac"
)

// DefaultPriority is used when a definition omits priority.
const DefaultPriority = 500

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON/YAML representation of a policy.
type PolicyJSON struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Effect        string   `json:"effect" yaml:"effect"`
	Priority      *int     `json:"priority,omitempty" yaml:"priority,omitempty"`
	Enabled       *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	EffectiveFrom string   `json:"effective_from,omitempty" yaml:"effective_from,omitempty"` // RFC 3339 or YYYY-MM-DD
	EffectiveTo   string   `json:"effective_to,omitempty" yaml:"effective_to,omitempty"`
	Tags          []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Rule          RuleJSON `json:"rule" yaml:"rule"`
}

// RuleJSON represents a rule and its nested rules.
type RuleJSON struct {
	Logic      string          `json:"logic,omitempty" yaml:"logic,omitempty"` // AND, OR
	Conditions []ConditionJSON `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Rules      []RuleJSON      `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// ConditionJSON represents one attribute condition.
type ConditionJSON struct {
	Attribute string `json:"attribute" yaml:"attribute"`
	Operator  string `json:"operator" yaml:"operator"`
	Value     any    `json:"value" yaml:"value"`
}

// BundleJSON is a list of policies.
type BundleJSON struct {
	Policies []PolicyJSON `json:"policies" yaml:"policies"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts policy definitions to Go structs.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a Policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (abac.Policy, error) {
	var pj PolicyJSON
	if err := decodeJSON([]byte(jsonStr), &pj); err != nil {
		return abac.Policy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// ParseBundleJSON parses {"policies": [...]}.
func (f *PolicyFactory) ParseBundleJSON(data []byte) ([]abac.Policy, error) {
	var b BundleJSON
	if err := decodeJSON(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse policy bundle: %w", err)
	}
	return f.fromBundle(b)
}

// ParseBundleYAML parses a YAML document with a top-level policies list.
func (f *PolicyFactory) ParseBundleYAML(data []byte) ([]abac.Policy, error) {
	var b BundleJSON
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse policy bundle: %w", err)
	}
	return f.fromBundle(b)
}

func (f *PolicyFactory) fromBundle(b BundleJSON) ([]abac.Policy, error) {
	policies := make([]abac.Policy, 0, len(b.Policies))
	for i, pj := range b.Policies {
		p, err := f.FromJSON(pj)
		if err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, pj.ID, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// FromJSON converts PolicyJSON to abac.Policy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (abac.Policy, error) {
	p := abac.Policy{
		ID:          strings.TrimSpace(pj.ID),
		Name:        pj.Name,
		Description: pj.Description,
		Effect:      abac.Effect(strings.ToLower(pj.Effect)),
		Priority:    DefaultPriority,
		Enabled:     true,
		Tags:        pj.Tags,
		Rule:        parseRule(pj.Rule),
	}
	if pj.Priority != nil {
		p.Priority = *pj.Priority
	}
	if pj.Enabled != nil {
		p.Enabled = *pj.Enabled
	}

	var err error
	if p.EffectiveFrom, err = parseTime(pj.EffectiveFrom); err != nil {
		return abac.Policy{}, fmt.Errorf("invalid effective_from: %w", err)
	}
	if p.EffectiveTo, err = parseTime(pj.EffectiveTo); err != nil {
		return abac.Policy{}, fmt.Errorf("invalid effective_to: %w", err)
	}
	return p, nil
}

// ToJSON converts a Policy to PolicyJSON.
func (f *PolicyFactory) ToJSON(p abac.Policy) PolicyJSON {
	priority := p.Priority
	enabled := p.Enabled
	pj := PolicyJSON{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Effect:      string(p.Effect),
		Priority:    &priority,
		Enabled:     &enabled,
		Tags:        p.Tags,
		Rule:        ruleToJSON(p.Rule),
	}
	if p.EffectiveFrom != nil {
		pj.EffectiveFrom = p.EffectiveFrom.UTC().Format(time.RFC3339)
	}
	if p.EffectiveTo != nil {
		pj.EffectiveTo = p.EffectiveTo.UTC().Format(time.RFC3339)
	}
	return pj
}

// Marshal encodes a policy as its JSON definition.
func (f *PolicyFactory) Marshal(p abac.Policy) ([]byte, error) {
	return json.Marshal(f.ToJSON(p))
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// decodeJSON keeps numbers as json.Number so decimal comparisons are exact.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func parseRule(rj RuleJSON) abac.Rule {
	r := abac.Rule{Logic: parseLogic(rj.Logic)}
	for _, cj := range rj.Conditions {
		r.Conditions = append(r.Conditions, abac.Condition{
			Path:     strings.TrimSpace(cj.Attribute),
			Operator: parseOperator(cj.Operator),
			Value:    cj.Value,
		})
	}
	for _, child := range rj.Rules {
		r.Children = append(r.Children, parseRule(child))
	}
	return r
}

func ruleToJSON(r abac.Rule) RuleJSON {
	rj := RuleJSON{Logic: string(r.Logic)}
	for _, c := range r.Conditions {
		rj.Conditions = append(rj.Conditions, ConditionJSON{
			Attribute: c.Path,
			Operator:  string(c.Operator),
			Value:     c.Value,
		})
	}
	for _, child := range r.Children {
		rj.Rules = append(rj.Rules, ruleToJSON(child))
	}
	return rj
}

func parseLogic(s string) abac.LogicalOperator {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return abac.LogicAnd
	case "OR":
		return abac.LogicOr
	default:
		// kept as written so validation can report it
		return abac.LogicalOperator(s)
	}
}

// parseOperator accepts camelCase ("greaterThan") and the upper snake case
// used by older exports ("GREATER_THAN").
func parseOperator(s string) abac.Operator {
	s = strings.TrimSpace(s)
	if abac.Operator(s).Valid() {
		return abac.Operator(s)
	}
	parts := strings.Split(strings.ToLower(s), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return abac.Operator(strings.Join(parts, ""))
}

func parseTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised time %q", s)
}
