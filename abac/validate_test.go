package abac_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ops-engine/abac"
)

func testCatalog(t *testing.T) *abac.Catalog {
	t.Helper()
	cat, err := abac.NewCatalog(
		abac.AttributeDefinition{Path: "subject.department.name", DataType: abac.TypeString,
			ValidOperators: []abac.Operator{abac.OpEquals, abac.OpNotEquals, abac.OpIn, abac.OpNotIn}},
		abac.AttributeDefinition{Path: "subject.roles", DataType: abac.TypeArray, Tags: []string{"authorization"}},
		abac.AttributeDefinition{Path: "subject.approvalLimit.amount", DataType: abac.TypeNumber, DisplayName: "Approval Limit"},
		abac.AttributeDefinition{Path: "subject.onDuty", DataType: abac.TypeBoolean},
		abac.AttributeDefinition{Path: "environment.currentTime", DataType: abac.TypeDate},
		abac.AttributeDefinition{Path: "action.name", DataType: abac.TypeString},
	)
	require.NoError(t, err)
	return cat
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_DefaultsAndLookup(t *testing.T) {
	cat := testCatalog(t)

	def, ok := cat.Lookup("subject.onDuty")
	require.True(t, ok)
	assert.Equal(t, "subject", def.Category)
	assert.Equal(t, "onDuty", def.Name)
	assert.Equal(t, abac.DefaultOperators(abac.TypeBoolean), def.ValidOperators)

	_, ok = cat.Lookup("subject.nope")
	assert.False(t, ok)

	all := cat.List()
	require.Len(t, all, 6)
	assert.Equal(t, "action.name", all[0].Path)
	assert.Len(t, cat.ListByCategory("subject"), 4)
	assert.Len(t, cat.Search("approval"), 1)
	assert.Len(t, cat.Search("authoriz"), 1)
}

func TestCatalog_RejectsBadDefinitions(t *testing.T) {
	_, err := abac.NewCatalog(abac.AttributeDefinition{Path: "subject.x", DataType: "blob"})
	assert.ErrorIs(t, err, abac.ErrUnknownAttribute)

	_, err = abac.NewCatalog(abac.AttributeDefinition{Path: "subject.x", DataType: abac.TypeString,
		ValidOperators: []abac.Operator{"like"}})
	assert.ErrorIs(t, err, abac.ErrUnknownAttribute)

	_, err = abac.NewCatalog(abac.AttributeDefinition{DataType: abac.TypeString})
	assert.ErrorIs(t, err, abac.ErrUnknownAttribute)
}

// =============================================================================
// CONDITION VALIDATION
// =============================================================================

func TestValidateCondition(t *testing.T) {
	cat := testCatalog(t)
	cases := []struct {
		name  string
		c     abac.Condition
		valid bool
	}{
		{"ok string", cond("subject.department.name", abac.OpEquals, "stores"), true},
		{"ok in list", cond("subject.department.name", abac.OpIn, []any{"stores", "finance"}), true},
		{"ok number", cond("subject.approvalLimit.amount", abac.OpGreaterThan, 1000), true},
		{"ok numeric string", cond("subject.approvalLimit.amount", abac.OpLessThan, "5000"), true},
		{"ok bool false", cond("subject.onDuty", abac.OpEquals, false), true},
		{"ok date", cond("environment.currentTime", abac.OpLessThan, "2025-12-31"), true},
		{"ok array contains", cond("subject.roles", abac.OpContains, "counter"), true},
		{"unknown path", cond("subject.shoeSize", abac.OpEquals, "42"), false},
		{"empty path", cond("", abac.OpEquals, "x"), false},
		{"operator not allowed", cond("subject.department.name", abac.OpStartsWith, "st"), false},
		{"unknown operator", cond("subject.department.name", "like", "st"), false},
		{"empty value", cond("subject.department.name", abac.OpEquals, "  "), false},
		{"nil value", cond("subject.department.name", abac.OpEquals, nil), false},
		{"empty list", cond("subject.department.name", abac.OpIn, []string{}), false},
		{"in needs list", cond("subject.department.name", abac.OpIn, "stores"), false},
		{"list element wrong type", cond("subject.department.name", abac.OpIn, []any{"stores", 7}), false},
		{"number wrong type", cond("subject.approvalLimit.amount", abac.OpGreaterThan, "lots"), false},
		{"bool wrong type", cond("subject.onDuty", abac.OpEquals, "yes"), false},
		{"date wrong type", cond("environment.currentTime", abac.OpLessThan, "tomorrow"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := abac.ValidateCondition(cat, tc.c)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, abac.ErrInvalidCondition)
			var ce *abac.ConditionError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

// =============================================================================
// POLICY VALIDATION
// =============================================================================

func TestValidatePolicy_Valid(t *testing.T) {
	p := policy("count-in-hours", abac.EffectPermit,
		cond("action.name", abac.OpEquals, "conduct_count"),
		cond("subject.onDuty", abac.OpEquals, true),
	)
	assert.NoError(t, abac.ValidatePolicy(testCatalog(t), p, 0))
}

func TestValidatePolicy_CollectsEveryProblem(t *testing.T) {
	// GIVEN: A policy wrong in several ways at once
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	p := abac.Policy{
		ID:            "broken",
		Effect:        "maybe",
		EffectiveFrom: &from,
		EffectiveTo:   &to,
		Rule: abac.Rule{
			Logic:      "XOR",
			Conditions: []abac.Condition{cond("subject.shoeSize", abac.OpEquals, "42")},
			Children:   []abac.Rule{{Children: []abac.Rule{{Children: []abac.Rule{{}}}}}},
		},
	}

	// WHEN
	err := abac.ValidatePolicy(testCatalog(t), p, abac.DefaultMaxDepth)

	// THEN: One PolicyError, every cause reachable with errors.Is
	var pe *abac.PolicyError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "broken", pe.PolicyID)
	assert.Len(t, pe.Problems, 6) // name, effect, window, depth, logic, condition
	assert.ErrorIs(t, err, abac.ErrInvalidPolicy)
	assert.ErrorIs(t, err, abac.ErrRuleTooDeep)
	assert.ErrorIs(t, err, abac.ErrInvalidCondition)
	assert.True(t, abac.IsClientError(err))
	assert.False(t, abac.IsNotFound(err))
}
