/*
policies.go - HTTP handlers for policies, evaluation and the decision log

ENDPOINTS:
  GET    /api/policies             List stored policies
  POST   /api/policies             Create or replace a policy from JSON
  GET    /api/policies/{id}        Get one policy
  DELETE /api/policies/{id}        Delete a policy
  POST   /api/policies/validate    Check a policy against the attribute catalog
  POST   /api/evaluate             Evaluate a request, with the full trace
  GET    /api/decisions?limit=n    Recent decisions, newest first
  GET    /api/decisions/stats      Permit/deny totals

Policies are validated against the attribute catalog before they are
saved, so the store never holds a condition the engine can't evaluate
meaningfully. Every evaluation is appended to the decision log.
*/
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/ops-engine/abac"
	"github.com/warp/ops-engine/config"
)

// DefaultDecisionLimit is how many decisions GET /api/decisions returns
// without a limit parameter.
const DefaultDecisionLimit = 50

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns all stored policies.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		h.fail(w, "ListPolicies", "list policies", nil, err)
		return
	}
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = h.toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy validates and saves a policy. Saving an existing ID replaces it.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := h.readPolicy(w, r)
	if !ok {
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := abac.ValidatePolicy(h.Fixtures.Catalog(), p, h.Engine.MaxDepth); err != nil {
		h.writePolicyError(w, err)
		return
	}

	ctx := r.Context()
	if err := h.Store.SavePolicy(ctx, p); err != nil {
		h.fail(w, "CreatePolicy", "save policy", p.ID, err)
		return
	}
	saved, err := h.Store.GetPolicy(ctx, p.ID)
	if err != nil {
		h.fail(w, "CreatePolicy", "reload policy", p.ID, err)
		return
	}
	h.Logger.WithField("policy", p.ID).Info("policy saved")
	writeJSON(w, http.StatusCreated, h.toPolicyDTO(saved))
}

// GetPolicy returns a policy by ID.
// GET /api/policies/{id}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.Store.GetPolicy(r.Context(), id)
	if err != nil {
		h.fail(w, "GetPolicy", "get policy", id, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPolicyDTO(p))
}

// DeletePolicy removes a policy.
// DELETE /api/policies/{id}
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeletePolicy(r.Context(), id); err != nil {
		h.fail(w, "DeletePolicy", "delete policy", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidatePolicy reports every problem with a policy without saving it.
// POST /api/policies/validate
func (h *Handler) ValidatePolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := h.readPolicy(w, r)
	if !ok {
		return
	}
	err := abac.ValidatePolicy(h.Fixtures.Catalog(), p, h.Engine.MaxDepth)
	if err == nil {
		writeJSON(w, http.StatusOK, ValidationResultDTO{Valid: true})
		return
	}
	writeJSON(w, http.StatusOK, ValidationResultDTO{Valid: false, Problems: problems(err)})
}

func (h *Handler) readPolicy(w http.ResponseWriter, r *http.Request) (abac.Policy, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return abac.Policy{}, false
	}
	p, err := h.PolicyFactory.ParsePolicy(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy JSON", err)
		return abac.Policy{}, false
	}
	return p, true
}

func (h *Handler) writePolicyError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "invalid policy",
		Code:    "invalid_policy",
		Details: problems(err),
	})
}

func problems(err error) []string {
	var pe *abac.PolicyError
	if !errors.As(err, &pe) {
		return []string{err.Error()}
	}
	out := make([]string, len(pe.Problems))
	for i, p := range pe.Problems {
		out[i] = p.Error()
	}
	return out
}

func (h *Handler) toPolicyDTO(p abac.Policy) PolicyDTO {
	return PolicyDTO{
		PolicyJSON: h.PolicyFactory.ToJSON(p),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluate decides a request against the stored policies (or the listed ones).
// POST /api/evaluate
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}
	ctx := r.Context()

	policies, err := h.policiesFor(r, req.PolicyIDs)
	if err != nil {
		h.fail(w, "Evaluate", "load policies", req.PolicyIDs, err)
		return
	}

	engine := *h.Engine
	if req.Algorithm != "" {
		engine.Algorithm = abac.Algorithm(req.Algorithm)
	}
	if req.DefaultEffect != "" {
		engine.DefaultEffect = abac.Effect(req.DefaultEffect)
	}

	at := time.Now().UTC()
	if req.At != nil {
		at = *req.At
	}
	areq := abac.NewRequest(req.Subject, req.Resource, req.Action, req.Environment, at)

	res, rec, err := h.decide(ctx, &engine, policies, areq)
	if err != nil {
		h.fail(w, "Evaluate", "evaluate", req.Action, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationDTO(rec.ID, res, rec.Duration))
}

// decide evaluates req and appends the decision to the log.
func (h *Handler) decide(ctx context.Context, engine *abac.Engine, policies []abac.Policy, req abac.Request) (abac.EvaluationResult, abac.DecisionRecord, error) {
	start := time.Now()
	res, err := engine.Evaluate(ctx, policies, req)
	took := time.Since(start)
	if err != nil {
		return abac.EvaluationResult{}, abac.DecisionRecord{}, err
	}

	rec := abac.RecordFor(req, res, took)
	rec.ID = uuid.NewString()
	if err := h.Store.AppendDecision(ctx, rec); err != nil {
		// the decision stands even if the audit write fails
		config.LogError(h.Logger, moduleName, "decide", "append decision", rec.ID, err)
	}
	h.Metrics.ObserveDecision(string(res.FinalEffect), string(res.Algorithm), took)
	return res, rec, nil
}

func (h *Handler) policiesFor(r *http.Request, ids []string) ([]abac.Policy, error) {
	if len(ids) == 0 {
		return h.Store.ListPolicies(r.Context())
	}
	out := make([]abac.Policy, 0, len(ids))
	for _, id := range ids {
		p, err := h.Store.GetPolicy(r.Context(), id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// =============================================================================
// DECISION LOG
// =============================================================================

// ListDecisions returns recent decisions, newest first.
// GET /api/decisions?limit=n
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	limit := DefaultDecisionLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	records, err := h.Store.RecentDecisions(r.Context(), limit)
	if err != nil {
		h.fail(w, "ListDecisions", "list decisions", limit, err)
		return
	}
	dtos := make([]DecisionDTO, len(records))
	for i, d := range records {
		dtos[i] = toDecisionDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DecisionStats summarises the decision log.
// GET /api/decisions/stats
func (h *Handler) DecisionStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.DecisionStats(r.Context())
	if err != nil {
		h.fail(w, "DecisionStats", "decision stats", nil, err)
		return
	}
	dto := DecisionStatsDTO{
		Total:                 st.Total,
		Permits:               st.Permits,
		Denies:                st.Denies,
		AverageDurationMicros: st.AverageDuration.Microseconds(),
	}
	if st.Total > 0 {
		dto.PermitRate = float64(st.Permits) / float64(st.Total)
	}
	writeJSON(w, http.StatusOK, dto)
}
