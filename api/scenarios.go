/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario installs the sample policies
	and creates spot checks in the state it wants to demonstrate.

AVAILABLE SCENARIOS:

	fresh-count:        Two pending spot checks, nothing counted yet
	count-in-progress:  A started spot check with matches, a variance,
	                    a damaged item and a skip
	overdue-checks:     Open spot checks past their due date, one on time
	                    and one closed late (not overdue)
	policy-playground:  Sample policies plus a decision log from a handful
	                    of evaluations

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Save the sample policies from the fixtures
 3. Create spot checks through counting.Service
 4. Optionally count, skip and transition them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "count-in-progress"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Spot check handlers
  - fixtures/data: Sample products, attributes and policies
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ops-engine/abac"
	"github.com/warp/ops-engine/counting"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-count",
		Name:        "Fresh Count",
		Description: "A random spot check and a high-value check, both waiting to start",
		Category:    "counting",
	},
	{
		ID:          "count-in-progress",
		Name:        "Count In Progress",
		Description: "Six items: two matched, one variance, one skipped, two still pending",
		Category:    "counting",
	},
	{
		ID:          "overdue-checks",
		Name:        "Overdue Checks",
		Description: "Open spot checks past their due date next to on-time and closed ones",
		Category:    "counting",
	},
	{
		ID:          "policy-playground",
		Name:        "Policy Playground",
		Description: "Sample inventory policies with a decision log to explore",
		Category:    "policies",
	},
}

// ListScenarios returns available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id" validate:"required"`
	}
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "fresh-count":
		load = h.loadFreshCountScenario
	case "count-in-progress":
		load = h.loadCountInProgressScenario
	case "overdue-checks":
		load = h.loadOverdueChecksScenario
	case "policy-playground":
		load = h.loadPolicyPlaygroundScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, "LoadScenario", "reset store", req.ScenarioID, err)
		return
	}
	if err := load(ctx); err != nil {
		h.fail(w, "LoadScenario", "load scenario", req.ScenarioID, fmt.Errorf("failed to load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.WithField("scenario", req.ScenarioID).Info("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all spot checks, policies and decisions.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, "ResetDatabase", "reset store", nil, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadFreshCountScenario creates two pending spot checks.
func (h *Handler) loadFreshCountScenario(ctx context.Context) error {
	if err := h.installSamplePolicies(ctx); err != nil {
		return err
	}
	now := h.now()
	due := now.Add(48 * time.Hour)

	if _, err := h.Batches.Create(ctx, counting.BatchInput{
		ID:           "sc-weekly-random",
		Reference:    "SC-WEEKLY-01",
		CheckType:    counting.CheckRandom,
		LocationID:   "main-kitchen",
		DepartmentID: "food-and-beverage",
		AssignedTo:   "amina.store-keeper",
		Reason:       "Weekly random spot check",
		DueDate:      &due,
		CreatedBy:    "scenario",
		Selection: counting.SelectionCriteria{
			Method:     counting.SelectManual,
			ProductIDs: []string{"item-001", "item-003", "item-005", "item-007", "item-008"},
		},
	}); err != nil {
		return err
	}

	minValue := decimal.NewFromInt(400)
	_, err := h.Batches.Create(ctx, counting.BatchInput{
		ID:           "sc-high-value",
		Reference:    "SC-HV-01",
		CheckType:    counting.CheckHighValue,
		Priority:     counting.PriorityHigh,
		LocationID:   "main-kitchen",
		DepartmentID: "food-and-beverage",
		AssignedTo:   "omar.inventory-manager",
		Reason:       "Items worth 400 or more",
		DueDate:      &due,
		CreatedBy:    "scenario",
		Selection: counting.SelectionCriteria{
			Method:       counting.SelectValueBased,
			MinimumValue: &minValue,
		},
	})
	return err
}

// loadCountInProgressScenario creates a started spot check with a mix of outcomes.
func (h *Handler) loadCountInProgressScenario(ctx context.Context) error {
	if err := h.installSamplePolicies(ctx); err != nil {
		return err
	}
	due := h.now().Add(24 * time.Hour)

	b, err := h.Batches.Create(ctx, counting.BatchInput{
		ID:           "sc-in-progress",
		Reference:    "SC-CYCLE-07",
		CheckType:    counting.CheckCycleCount,
		LocationID:   "main-kitchen",
		DepartmentID: "food-and-beverage",
		AssignedTo:   "amina.store-keeper",
		Reason:       "Monthly cycle count",
		DueDate:      &due,
		CreatedBy:    "scenario",
		Selection: counting.SelectionCriteria{
			Method:     counting.SelectManual,
			ProductIDs: []string{"item-001", "item-002", "item-004", "item-008", "item-012", "item-013"},
		},
	})
	if err != nil {
		return err
	}
	if _, err := h.Batches.Start(ctx, b.ID); err != nil {
		return err
	}

	counts := []struct {
		index     int
		quantity  int64
		condition counting.ItemCondition
		notes     string
	}{
		{0, 48, counting.ConditionGood, ""},
		{1, 22, counting.ConditionGood, "Two litres short"},
		{2, 32, counting.ConditionDamaged, "Bags torn, contents intact"},
	}
	for _, c := range counts {
		in := counting.CountInput{
			Quantity:  decimal.NewFromInt(c.quantity),
			Condition: c.condition,
			Notes:     c.notes,
			Actor:     "amina.store-keeper",
		}
		if _, _, err := h.Batches.Count(ctx, b.ID, c.index, in, fmt.Sprintf("scenario-%s-%d", b.ID, c.index)); err != nil {
			return err
		}
	}
	_, _, err = h.Batches.Skip(ctx, b.ID, 3, "Cold room locked", "amina.store-keeper", "")
	return err
}

// loadOverdueChecksScenario creates spot checks on both sides of their due date.
func (h *Handler) loadOverdueChecksScenario(ctx context.Context) error {
	if err := h.installSamplePolicies(ctx); err != nil {
		return err
	}
	now := h.now()

	checks := []struct {
		id        string
		scheduled time.Duration
		due       time.Duration
		products  []string
		start     bool
		complete  bool
	}{
		{"sc-overdue-started", -72 * time.Hour, -24 * time.Hour, []string{"item-006", "item-009"}, true, false},
		{"sc-overdue-pending", -10 * 24 * time.Hour, -3 * 24 * time.Hour, []string{"item-010", "item-014"}, false, false},
		{"sc-on-time", 0, 48 * time.Hour, []string{"item-011"}, false, false},
		{"sc-closed-late", -5 * 24 * time.Hour, -2 * 24 * time.Hour, []string{"item-016"}, true, true},
	}
	for _, c := range checks {
		due := now.Add(c.due)
		b, err := h.Batches.Create(ctx, counting.BatchInput{
			ID:            c.id,
			CheckType:     counting.CheckTargeted,
			LocationID:    "bar",
			DepartmentID:  "food-and-beverage",
			AssignedTo:    "lena.counter",
			Reason:        "Follow-up on last month's variances",
			ScheduledDate: now.Add(c.scheduled),
			DueDate:       &due,
			CreatedBy:     "scenario",
			Selection: counting.SelectionCriteria{
				Method:     counting.SelectManual,
				ProductIDs: c.products,
			},
		})
		if err != nil {
			return err
		}
		if c.start {
			if _, err := h.Batches.Start(ctx, b.ID); err != nil {
				return err
			}
		}
		if c.complete {
			if _, _, err := h.Batches.Complete(ctx, b.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadPolicyPlaygroundScenario installs the sample policies and records a
// few decisions so the log and stats have something to show.
func (h *Handler) loadPolicyPlaygroundScenario(ctx context.Context) error {
	if err := h.installSamplePolicies(ctx); err != nil {
		return err
	}

	auditors, err := h.PolicyFactory.ParsePolicy(`{
		"id": "auditors-view-counts",
		"name": "Auditors may view counts on the internal network",
		"effect": "permit",
		"priority": 400,
		"tags": ["audit"],
		"rule": {
			"logic": "AND",
			"conditions": [
				{"attribute": "subject.roles", "operator": "contains", "value": "auditor"},
				{"attribute": "action.name", "operator": "equals", "value": "view_count"},
				{"attribute": "environment.isInternalNetwork", "operator": "equals", "value": true}
			]
		}
	}`)
	if err != nil {
		return err
	}
	if err := abac.ValidatePolicy(h.Fixtures.Catalog(), auditors, h.Engine.MaxDepth); err != nil {
		return err
	}
	if err := h.Store.SavePolicy(ctx, auditors); err != nil {
		return err
	}

	policies, err := h.Store.ListPolicies(ctx)
	if err != nil {
		return err
	}

	at := h.now()
	requests := []abac.Request{
		abac.NewRequest(
			map[string]any{"userId": "amina", "role": map[string]any{"name": "store-keeper"}, "accountStatus": "active"},
			map[string]any{"resourceId": "sc-weekly-random"},
			"conduct_count",
			map[string]any{"isBusinessHours": true},
			at),
		abac.NewRequest(
			map[string]any{"userId": "omar", "role": map[string]any{"name": "inventory-manager"}, "clearanceLevel": "standard"},
			map[string]any{"resourceId": "adj-118", "totalValue": map[string]any{"amount": 12500}},
			"adjust_stock",
			nil,
			at),
		abac.NewRequest(
			map[string]any{"userId": "lena", "role": map[string]any{"name": "counter"}, "accountStatus": "suspended"},
			nil,
			"conduct_count",
			map[string]any{"isBusinessHours": true},
			at),
		abac.NewRequest(
			map[string]any{"userId": "sam", "roles": []any{"auditor"}},
			nil,
			"view_count",
			map[string]any{"isInternalNetwork": true},
			at),
	}
	for _, req := range requests {
		if _, _, err := h.decide(ctx, h.Engine, policies, req); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) installSamplePolicies(ctx context.Context) error {
	for _, p := range h.Fixtures.Policies() {
		if err := h.Store.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("failed to save policy %s: %w", p.ID, err)
		}
	}
	return nil
}
