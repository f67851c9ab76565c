package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nightShiftPolicy = `{
	"id": "night-shift-counts",
	"name": "Night shift counters",
	"effect": "permit",
	"rule": {
		"conditions": [
			{"attribute": "subject.role.name", "operator": "equals", "value": "counter"},
			{"attribute": "subject.onDuty", "operator": "equals", "value": true}
		]
	}
}`

// =============================================================================
// POLICY CRUD
// =============================================================================

func TestPolicies_CreateGetDelete(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h)

	// WHEN: Creating a policy without priority or enabled
	rec := do(t, router, "POST", "/api/policies", nightShiftPolicy)

	// THEN: Defaults are applied and timestamps set
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[PolicyDTO](t, rec)
	assert.Equal(t, "night-shift-counts", created.ID)
	require.NotNil(t, created.Priority)
	assert.Equal(t, 500, *created.Priority)
	require.NotNil(t, created.Enabled)
	assert.True(t, *created.Enabled)
	assert.False(t, created.CreatedAt.IsZero())
	require.Len(t, created.Rule.Conditions, 2)

	got := decode[PolicyDTO](t, do(t, router, "GET", "/api/policies/night-shift-counts", nil))
	assert.Equal(t, "Night shift counters", got.Name)

	list := decode[[]PolicyDTO](t, do(t, router, "GET", "/api/policies", nil))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNoContent, do(t, router, "DELETE", "/api/policies/night-shift-counts", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "DELETE", "/api/policies/night-shift-counts", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/policies/night-shift-counts", nil).Code)
}

func TestPolicies_CreateAssignsID(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h)

	rec := do(t, router, "POST", "/api/policies", `{"name": "Anyone may view", "effect": "permit",
		"rule": {"conditions": [{"attribute": "action.name", "operator": "equals", "value": "view_count"}]}}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, decode[PolicyDTO](t, rec).ID, 36)
}

func TestPolicies_CreateRejectsInvalid(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h)

	// GIVEN: An unknown attribute and an ordering operator on a string
	rec := do(t, router, "POST", "/api/policies", `{
		"id": "bad",
		"name": "Bad",
		"effect": "permit",
		"rule": {"conditions": [
			{"attribute": "subject.shoeSize", "operator": "equals", "value": "42"},
			{"attribute": "subject.department.name", "operator": "greaterThan", "value": "Kitchen"}
		]}
	}`)

	// THEN: Both problems are reported and nothing is stored
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_policy", resp.Code)
	problems, ok := resp.Details.([]any)
	require.True(t, ok)
	assert.Len(t, problems, 2)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/policies/bad", nil).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/api/policies", `{"id": `).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, router, "POST", "/api/policies", `{"id": "x", "name": "X", "effect": "permit", "effective_from": "next tuesday"}`).Code)
}

func TestPolicies_Validate(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h)

	rec := do(t, router, "POST", "/api/policies/validate", nightShiftPolicy)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ValidationResultDTO{Valid: true}, decode[ValidationResultDTO](t, rec))

	rec = do(t, router, "POST", "/api/policies/validate", `{"id": "p", "name": "", "effect": "maybe",
		"rule": {"conditions": [{"attribute": "subject.onDuty", "operator": "equals", "value": "yes"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[ValidationResultDTO](t, rec)
	assert.False(t, res.Valid)
	assert.GreaterOrEqual(t, len(res.Problems), 2)

	// validation never saves
	assert.Empty(t, decode[[]PolicyDTO](t, do(t, router, "GET", "/api/policies", nil)))
}

// =============================================================================
// EVALUATION & DECISIONS
// =============================================================================

func counterRequest(status string) map[string]any {
	return map[string]any{
		"subject": map[string]any{
			"userId":        "lena",
			"role":          map[string]any{"name": "counter"},
			"accountStatus": status,
		},
		"resource":    map[string]any{"resourceId": "sc-1"},
		"action":      "conduct_count",
		"environment": map[string]any{"isBusinessHours": true},
		"at":          testNow,
	}
}

func TestEvaluate_SamplePolicies(t *testing.T) {
	// GIVEN: The sample policies
	h := setupTestHandler(t)
	router := NewRouter(h)
	require.NoError(t, h.installSamplePolicies(context.Background()))

	// WHEN: An active counter asks to count in business hours
	rec := do(t, router, "POST", "/api/evaluate", counterRequest("active"))

	// THEN: Permitted by the counters policy, with every policy traced
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[EvaluationDTO](t, rec)
	assert.True(t, res.Allowed)
	assert.Equal(t, "permit", res.FinalEffect)
	assert.Equal(t, "deny-overrides", res.Algorithm)
	assert.Equal(t, "counters-count-in-hours", res.DecidingPolicy)
	assert.NotEmpty(t, res.DecisionID)
	assert.Len(t, res.Trace, len(h.Fixtures.Policies()))

	// WHEN: The same counter is suspended
	rec = do(t, router, "POST", "/api/evaluate", counterRequest("suspended"))

	// THEN: The deny wins
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[EvaluationDTO](t, rec)
	assert.False(t, res.Allowed)
	assert.Equal(t, "deny-suspended-accounts", res.DecidingPolicy)

	// Both decisions are logged, newest first
	decisions := decode[[]DecisionDTO](t, do(t, router, "GET", "/api/decisions", nil))
	require.Len(t, decisions, 2)
	assert.Equal(t, res.DecisionID, decisions[0].ID)
	assert.Equal(t, "deny", decisions[0].FinalEffect)
	assert.Equal(t, "conduct_count", decisions[0].Action)
	assert.Equal(t, "lena", decisions[0].SubjectID)
	assert.Equal(t, "sc-1", decisions[0].ResourceID)

	limited := decode[[]DecisionDTO](t, do(t, router, "GET", "/api/decisions?limit=1", nil))
	assert.Len(t, limited, 1)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/api/decisions?limit=0", nil).Code)

	stats := decode[DecisionStatsDTO](t, do(t, router, "GET", "/api/decisions/stats", nil))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Permits)
	assert.Equal(t, 1, stats.Denies)
	assert.InDelta(t, 0.5, stats.PermitRate, 1e-9)
}

func TestEvaluate_Overrides(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h)
	require.NoError(t, h.installSamplePolicies(context.Background()))

	// GIVEN: Only the counters policy and the suspension policy, permit-overrides
	body := counterRequest("suspended")
	body["policy_ids"] = []string{"counters-count-in-hours", "deny-suspended-accounts"}
	body["algorithm"] = "permit-overrides"

	rec := do(t, router, "POST", "/api/evaluate", body)

	// THEN: The permit wins and only the listed policies are traced
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[EvaluationDTO](t, rec)
	assert.True(t, res.Allowed)
	assert.Equal(t, "permit-overrides", res.Algorithm)
	assert.Len(t, res.Trace, 2)

	// Nothing applies: the default effect decides
	rec = do(t, router, "POST", "/api/evaluate", map[string]any{
		"action":         "delete_everything",
		"default_effect": "permit",
		"policy_ids":     []string{"counters-count-in-hours"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[EvaluationDTO](t, rec)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.DecidingPolicy)

	body["policy_ids"] = []string{"no-such-policy"}
	assert.Equal(t, http.StatusNotFound, do(t, router, "POST", "/api/evaluate", body).Code)

	body["policy_ids"] = nil
	body["algorithm"] = "majority-vote"
	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/api/evaluate", body).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/api/evaluate", map[string]any{"subject": map[string]any{}}).Code)
}

func TestEvaluate_NumericAttributes(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h)
	require.NoError(t, h.installSamplePolicies(context.Background()))

	manager := func(amount any) map[string]any {
		return map[string]any{
			"subject":  map[string]any{"role": map[string]any{"name": "inventory-manager"}, "clearanceLevel": "standard"},
			"resource": map[string]any{"totalValue": map[string]any{"amount": amount}},
			"action":   "adjust_stock",
			"at":       testNow,
		}
	}

	res := decode[EvaluationDTO](t, do(t, router, "POST", "/api/evaluate", manager(4999.5)))
	assert.True(t, res.Allowed)
	assert.Equal(t, "managers-adjust-within-limit", res.DecidingPolicy)

	res = decode[EvaluationDTO](t, do(t, router, "POST", "/api/evaluate", manager(12500)))
	assert.False(t, res.Allowed)
	assert.Equal(t, "high-value-needs-clearance", res.DecidingPolicy)
}
