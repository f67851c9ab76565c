/*
abac_test.go - Behaviour tests for the policy evaluator

ORGANIZATION:
  1. Resolve
  2. EvaluateCondition - operators, missing attributes, type mismatch
  3. EvaluateRule - AND/OR, vacuous match, depth
  4. Engine - combining algorithms, windows, parallel trace order
*/
package abac_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ops-engine/abac"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func request() abac.Request {
	return abac.NewRequest(
		map[string]any{
			"userId":        "u-42",
			"role":          map[string]any{"name": "store-keeper"},
			"roles":         []any{"store-keeper", "counter"},
			"department":    map[string]any{"name": "stores"},
			"seniority":     4,
			"approvalLimit": map[string]any{"amount": 2500.0},
			"onDuty":        true,
			"email":         "amina@example.com",
		},
		map[string]any{
			"resourceId":   "sc-001",
			"resourceType": "spot_check",
			"totalValue":   map[string]any{"amount": "1200.50"},
			"createdAt":    "2025-05-01",
		},
		"conduct_count",
		map[string]any{
			"isBusinessHours": true,
			"currentTime":     now,
		},
		now,
	)
}

func cond(path string, op abac.Operator, v any) abac.Condition {
	return abac.Condition{Path: path, Operator: op, Value: v}
}

func policy(id string, eff abac.Effect, conds ...abac.Condition) abac.Policy {
	return abac.Policy{
		ID:      id,
		Name:    id,
		Effect:  eff,
		Enabled: true,
		Rule:    abac.Rule{Logic: abac.LogicAnd, Conditions: conds},
	}
}

// =============================================================================
// RESOLVE
// =============================================================================

func TestResolve(t *testing.T) {
	bag := request().Attributes

	v, ok := abac.Resolve(bag, "subject.department.name")
	assert.True(t, ok)
	assert.Equal(t, "stores", v)

	v, ok = abac.Resolve(bag, "action.name")
	assert.True(t, ok)
	assert.Equal(t, "conduct_count", v)

	_, ok = abac.Resolve(bag, "subject.department.code")
	assert.False(t, ok)
	_, ok = abac.Resolve(bag, "subject.userId.length")
	assert.False(t, ok, "walking into a string is not a match")
	_, ok = abac.Resolve(bag, "subject..userId")
	assert.False(t, ok)
	_, ok = abac.Resolve(nil, "subject")
	assert.False(t, ok)

	typed := map[string]any{"env": map[string]string{"zone": "eu"}}
	v, ok = abac.Resolve(typed, "env.zone")
	assert.True(t, ok)
	assert.Equal(t, "eu", v)
}

// =============================================================================
// CONDITIONS
// =============================================================================

func TestEvaluateCondition_Operators(t *testing.T) {
	bag := request().Attributes
	cases := []struct {
		name string
		c    abac.Condition
		want bool
	}{
		{"equals string", cond("subject.role.name", abac.OpEquals, "store-keeper"), true},
		{"equals is case sensitive", cond("subject.role.name", abac.OpEquals, "Store-Keeper"), false},
		{"equals across numeric types", cond("subject.seniority", abac.OpEquals, 4.0), true},
		{"equals decimal", cond("subject.seniority", abac.OpEquals, decimal.NewFromInt(4)), true},
		{"equals bool", cond("subject.onDuty", abac.OpEquals, true), true},
		{"equals array deep", cond("subject.roles", abac.OpEquals, []string{"store-keeper", "counter"}), true},
		{"notEquals", cond("subject.department.name", abac.OpNotEquals, "finance"), true},
		{"greaterThan", cond("subject.approvalLimit.amount", abac.OpGreaterThan, 1000), true},
		{"greaterThan numeric string", cond("resource.totalValue.amount", abac.OpGreaterThan, 1200), true},
		{"greaterThanOrEqual edge", cond("subject.seniority", abac.OpGreaterThanOrEqual, 4), true},
		{"lessThan", cond("subject.seniority", abac.OpLessThan, 4), false},
		{"lessThanOrEqual", cond("subject.seniority", abac.OpLessThanOrEqual, 4), true},
		{"lessThan dates", cond("resource.createdAt", abac.OpLessThan, "2025-06-01"), true},
		{"greaterThan time value", cond("environment.currentTime", abac.OpGreaterThan, "2025-06-02T09:00:00Z"), true},
		{"greaterThan on plain strings", cond("subject.role.name", abac.OpGreaterThan, "a"), false},
		{"in", cond("subject.department.name", abac.OpIn, []any{"finance", "stores"}), true},
		{"in not a list", cond("subject.department.name", abac.OpIn, "stores"), false},
		{"in array attribute overlap", cond("subject.roles", abac.OpIn, []string{"counter", "auditor"}), true},
		{"notIn", cond("subject.department.name", abac.OpNotIn, []string{"finance"}), true},
		{"notIn member", cond("subject.department.name", abac.OpNotIn, []string{"stores"}), false},
		{"in numbers", cond("subject.seniority", abac.OpIn, []int{1, 4, 9}), true},
		{"contains substring", cond("subject.email", abac.OpContains, "@example"), true},
		{"contains element", cond("subject.roles", abac.OpContains, "counter"), true},
		{"contains all elements", cond("subject.roles", abac.OpContains, []string{"counter", "auditor"}), false},
		{"notContains element", cond("subject.roles", abac.OpNotContains, "auditor"), true},
		{"notContains on number", cond("subject.seniority", abac.OpNotContains, "4"), false},
		{"startsWith", cond("subject.email", abac.OpStartsWith, "amina"), true},
		{"endsWith", cond("subject.email", abac.OpEndsWith, ".org"), false},
		{"endsWith non-string", cond("subject.seniority", abac.OpEndsWith, "4"), false},
		{"unknown operator", cond("subject.userId", abac.Operator("matches"), "u-.*"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, abac.EvaluateCondition(tc.c, bag))
		})
	}
}

func TestEvaluateCondition_DateEqualityBothWays(t *testing.T) {
	// GIVEN: A date held as a string and a date held as a time.Time
	bag := request().Attributes
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// THEN: Equality holds whichever side carries the time.Time
	assert.True(t, abac.EvaluateCondition(cond("resource.createdAt", abac.OpEquals, created), bag))
	assert.True(t, abac.EvaluateCondition(cond("resource.createdAt", abac.OpEquals, &created), bag))
	assert.True(t, abac.EvaluateCondition(cond("environment.currentTime", abac.OpEquals, "2025-06-02T10:00:00Z"), bag))
	assert.True(t, abac.EvaluateCondition(cond("resource.createdAt", abac.OpIn, []any{now, created}), bag))

	assert.False(t, abac.EvaluateCondition(cond("resource.createdAt", abac.OpEquals, now), bag))
	assert.True(t, abac.EvaluateCondition(cond("resource.createdAt", abac.OpNotEquals, now), bag))
	assert.False(t, abac.EvaluateCondition(cond("subject.role.name", abac.OpEquals, created), bag))
}

func TestEvaluateCondition_MissingAttributeNeverMatches(t *testing.T) {
	// GIVEN: A path that is not in the bag
	// WHEN: Any operator is applied, negative ones included
	// THEN: The condition is false and nothing panics

	bag := request().Attributes
	for _, op := range abac.AllOperators {
		c := cond("subject.clearanceLevel", op, []any{"public"})
		assert.NotPanics(t, func() {
			assert.False(t, abac.EvaluateCondition(c, bag), "operator %s", op)
		})
	}
}

func TestEvaluateCondition_NeverPanics(t *testing.T) {
	bag := map[string]any{
		"weird": map[string]any{
			"nan":   func() {},
			"ch":    make(chan int),
			"slice": []any{nil, map[string]any{}},
		},
	}
	for _, op := range abac.AllOperators {
		for _, path := range []string{"weird.nan", "weird.ch", "weird.slice"} {
			assert.NotPanics(t, func() {
				abac.EvaluateCondition(cond(path, op, []any{1, "x", nil}), bag)
			})
		}
	}
}

// =============================================================================
// RULES
// =============================================================================

func TestEvaluateRule_VacuousMatch(t *testing.T) {
	assert.True(t, abac.EvaluateRule(abac.Rule{}, nil))
	assert.True(t, abac.EvaluateRule(abac.Rule{Logic: abac.LogicOr}, request().Attributes))
}

func TestEvaluateRule_AndOr(t *testing.T) {
	bag := request().Attributes
	yes := cond("subject.department.name", abac.OpEquals, "stores")
	no := cond("subject.department.name", abac.OpEquals, "finance")

	assert.True(t, abac.EvaluateRule(abac.Rule{Logic: abac.LogicAnd, Conditions: []abac.Condition{yes, yes}}, bag))
	assert.False(t, abac.EvaluateRule(abac.Rule{Logic: abac.LogicAnd, Conditions: []abac.Condition{yes, no}}, bag))
	assert.True(t, abac.EvaluateRule(abac.Rule{Logic: abac.LogicOr, Conditions: []abac.Condition{no, yes}}, bag))
	assert.False(t, abac.EvaluateRule(abac.Rule{Logic: abac.LogicOr, Conditions: []abac.Condition{no, no}}, bag))
	assert.False(t, abac.EvaluateRule(abac.Rule{Logic: "XOR", Conditions: []abac.Condition{yes}}, bag))

	// (no OR (yes AND yes))
	nested := abac.Rule{
		Logic:      abac.LogicOr,
		Conditions: []abac.Condition{no},
		Children:   []abac.Rule{{Conditions: []abac.Condition{yes, yes}}},
	}
	assert.True(t, abac.EvaluateRule(nested, bag))
}

func TestEvaluateRule_DepthBound(t *testing.T) {
	// GIVEN: Four levels, the deepest one empty (would match)
	deep := abac.Rule{Children: []abac.Rule{{Children: []abac.Rule{{Children: []abac.Rule{{}}}}}}}
	require.Equal(t, 4, deep.Depth())

	// THEN: Beyond the default of three levels the branch fails closed
	assert.False(t, abac.EvaluateRule(deep, nil))
	assert.True(t, abac.EvaluateRuleDepth(deep, nil, 4))
}

// =============================================================================
// ENGINE
// =============================================================================

func TestEvaluateAll_DenyOverrides(t *testing.T) {
	// GIVEN: A permit and a deny policy that both match
	req := request()
	policies := []abac.Policy{
		policy("allow-stores", abac.EffectPermit, cond("subject.department.name", abac.OpEquals, "stores")),
		policy("block-counts", abac.EffectDeny, cond("action.name", abac.OpEquals, "conduct_count")),
	}

	// WHEN
	res := abac.EvaluateAll(policies, req, abac.EffectPermit)

	// THEN
	assert.False(t, res.Allowed)
	assert.Equal(t, abac.EffectDeny, res.FinalEffect)
	assert.Equal(t, "block-counts", res.DecidingPolicy)
	require.Len(t, res.Trace, 2)
	assert.True(t, res.Trace[0].Matched)
	assert.True(t, res.Trace[1].Matched)
}

func TestEvaluateAll_DefaultEffect(t *testing.T) {
	req := request()
	policies := []abac.Policy{
		policy("finance-only", abac.EffectPermit, cond("subject.department.name", abac.OpEquals, "finance")),
	}

	denied := abac.EvaluateAll(policies, req, abac.EffectDeny)
	assert.Equal(t, abac.EffectDeny, denied.FinalEffect)
	assert.Empty(t, denied.DecidingPolicy)

	permitted := abac.EvaluateAll(nil, req, abac.EffectPermit)
	assert.True(t, permitted.Allowed)

	// anything that isn't permit falls back to deny
	unset := abac.EvaluateAll(nil, req, "")
	assert.Equal(t, abac.EffectDeny, unset.FinalEffect)
}

func TestEvaluateAll_PermitWhenOnlyPermitMatches(t *testing.T) {
	req := request()
	policies := []abac.Policy{
		policy("allow-stores", abac.EffectPermit, cond("subject.department.name", abac.OpEquals, "stores")),
		policy("deny-finance", abac.EffectDeny, cond("subject.department.name", abac.OpEquals, "finance")),
	}
	res := abac.EvaluateAll(policies, req, abac.EffectDeny)
	assert.True(t, res.Allowed)
	assert.Equal(t, "allow-stores", res.DecidingPolicy)
	assert.False(t, res.Trace[1].Matched)
}

func TestEngine_Algorithms(t *testing.T) {
	req := request()
	low := policy("low-permit", abac.EffectPermit)
	low.Priority = 100
	high := policy("high-deny", abac.EffectDeny)
	high.Priority = 900
	mid := policy("mid-permit", abac.EffectPermit)
	mid.Priority = 500
	policies := []abac.Policy{low, high, mid}

	cases := []struct {
		alg      abac.Algorithm
		effect   abac.Effect
		deciding string
	}{
		{abac.DenyOverrides, abac.EffectDeny, "high-deny"},
		{abac.PermitOverrides, abac.EffectPermit, "low-permit"},
		{abac.FirstApplicable, abac.EffectPermit, "low-permit"},
		{abac.PriorityBased, abac.EffectDeny, "high-deny"},
	}
	for _, tc := range cases {
		e := abac.NewEngine(abac.EffectDeny)
		e.Algorithm = tc.alg
		res, err := e.Evaluate(context.Background(), policies, req)
		require.NoError(t, err)
		assert.Equal(t, tc.effect, res.FinalEffect, "algorithm %s", tc.alg)
		assert.Equal(t, tc.deciding, res.DecidingPolicy, "algorithm %s", tc.alg)
		assert.Equal(t, tc.alg, res.Algorithm)
	}

	e := abac.NewEngine(abac.EffectPermit)
	e.Algorithm = "majority"
	res, err := e.Evaluate(context.Background(), policies, req)
	require.NoError(t, err)
	assert.Equal(t, abac.EffectPermit, res.FinalEffect)
	assert.Empty(t, res.DecidingPolicy)
}

func TestEvaluatePolicy_AbstainsWhenInactive(t *testing.T) {
	req := request()
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	disabled := policy("disabled", abac.EffectDeny)
	disabled.Enabled = false
	notYet := policy("not-yet", abac.EffectDeny)
	notYet.EffectiveFrom = &future
	expired := policy("expired", abac.EffectDeny)
	expired.EffectiveTo = &past
	active := policy("active", abac.EffectDeny)
	active.EffectiveFrom = &past
	active.EffectiveTo = &future

	for _, p := range []abac.Policy{disabled, notYet, expired} {
		tr := abac.EvaluatePolicy(p, req)
		assert.False(t, tr.Matched, p.ID)
		assert.NotEmpty(t, tr.Reason)
	}
	assert.True(t, abac.EvaluatePolicy(active, req).Matched)
	assert.True(t, active.ActiveAt(now))
	assert.False(t, expired.ActiveAt(now))

	res := abac.EvaluateAll([]abac.Policy{disabled, notYet, expired}, req, abac.EffectPermit)
	assert.True(t, res.Allowed, "inactive deny policies do not vote")
}

func TestEngine_ParallelKeepsPolicyOrder(t *testing.T) {
	// GIVEN: Many policies with alternating outcomes
	req := request()
	var policies []abac.Policy
	for i := 0; i < 64; i++ {
		dept := "stores"
		if i%3 == 0 {
			dept = "finance"
		}
		eff := abac.EffectPermit
		if i%5 == 0 {
			eff = abac.EffectDeny
		}
		policies = append(policies, policy(fmt.Sprintf("p-%02d", i), eff,
			cond("subject.department.name", abac.OpEquals, dept)))
	}

	seq := abac.NewEngine(abac.EffectDeny)
	par := abac.NewEngine(abac.EffectDeny)
	par.Parallel = true

	// WHEN
	want, err := seq.Evaluate(context.Background(), policies, req)
	require.NoError(t, err)
	got, err := par.Evaluate(context.Background(), policies, req)
	require.NoError(t, err)

	// THEN: Identical result, trace included
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parallel result differs (-seq +par):\n%s", diff)
	}
	for i, tr := range got.Trace {
		assert.Equal(t, policies[i].ID, tr.PolicyID)
	}
}

func TestEngine_ParallelHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := abac.NewEngine(abac.EffectDeny)
	e.Parallel = true
	_, err := e.Evaluate(ctx, []abac.Policy{policy("a", abac.EffectPermit), policy("b", abac.EffectPermit)}, request())
	assert.ErrorIs(t, err, context.Canceled)
}
