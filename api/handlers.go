/*
handlers.go - HTTP API handlers for spot checks and the product catalog

PURPOSE:
  Exposes the counting engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to counting.Service.

ENDPOINTS:
  Spot checks:
    GET    /api/spot-checks                       List (status, location_id, assigned_to)
    POST   /api/spot-checks                       Create from a product selection
    GET    /api/spot-checks/{id}                  Detail with items and aggregates
    POST   /api/spot-checks/{id}/start            Pending -> in-progress
    POST   /api/spot-checks/{id}/hold             In-progress -> on-hold
    POST   /api/spot-checks/{id}/resume           On-hold -> in-progress
    POST   /api/spot-checks/{id}/complete         Close (warns on pending items)
    POST   /api/spot-checks/{id}/cancel           Close with a reason
    GET    /api/spot-checks/{id}/next?from=i      Next pending item after i
    POST   /api/spot-checks/{id}/items/{index}/count
    POST   /api/spot-checks/{id}/items/{index}/skip
    GET    /api/spot-checks/{id}/entries          Count entry ledger
    GET    /api/spot-checks/{id}/export           Variance report (xlsx)

  Catalog:
    GET    /api/products                          Candidate products
    GET    /api/attributes                        Policy attribute catalog

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: batches, entries, policies and decisions
  - Batches: the count session service
  - Fixtures: products, attribute catalog, sample policies
  - Engine / PolicyFactory: policy evaluation and JSON conversion
  - Metrics, Logger

REQUEST FLOW:
  1. Parse HTTP request (h.bind decodes and validates)
  2. Call domain logic
  3. Serialize response
  4. Map errors through h.fail

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Spot check or policy not found
  - 409: Lifecycle conflict, repeated idempotency key
  - 500: Internal errors (logged with module/funcName)

IDEMPOTENCY:
  Count and skip accept an Idempotency-Key header (or idempotency_key in
  the body). A repeated key returns 409 and the spot check is unchanged.

SEE ALSO:
  - dto.go: Request/response data structures
  - policies.go: Policy, evaluation and decision handlers
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/ops-engine/abac"
	"github.com/warp/ops-engine/config"
	"github.com/warp/ops-engine/counting"
	"github.com/warp/ops-engine/factory"
	"github.com/warp/ops-engine/fixtures"
	"github.com/warp/ops-engine/metrics"
	"github.com/warp/ops-engine/report"
)

const moduleName = "api"

// IdempotencyHeader carries the idempotency key for count and skip.
const IdempotencyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API persists.
type Store interface {
	counting.TxStore
	abac.PolicyStore
	abac.DecisionLog
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         Store
	Batches       *counting.Service
	Fixtures      *fixtures.Provider
	Engine        *abac.Engine
	PolicyFactory *factory.PolicyFactory
	Metrics       *metrics.Metrics
	Logger        logrus.FieldLogger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. A nil engine evaluates deny-overrides
// with a deny default; a nil logger discards output.
func NewHandler(store Store, fx *fixtures.Provider, engine *abac.Engine, m *metrics.Metrics, logger logrus.FieldLogger) *Handler {
	if engine == nil {
		engine = abac.NewEngine(abac.EffectDeny)
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Handler{
		Store:         store,
		Batches:       counting.NewService(store, fx),
		Fixtures:      fx,
		Engine:        engine,
		PolicyFactory: factory.NewPolicyFactory(),
		Metrics:       m,
		Logger:        logger,
		validate:      newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) now() time.Time {
	return h.Batches.Now().UTC()
}

// =============================================================================
// SPOT CHECK HANDLERS
// =============================================================================

// ListSpotChecks returns spot checks, newest first. Items are omitted.
// GET /api/spot-checks?status=&location_id=&assigned_to=
func (h *Handler) ListSpotChecks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := counting.BatchFilter{
		LocationID: q.Get("location_id"),
		AssignedTo: q.Get("assigned_to"),
	}
	if s := q.Get("status"); s != "" {
		status := counting.BatchStatus(s)
		filter.Status = &status
	}

	batches, err := h.Batches.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "ListSpotChecks", "list spot checks", filter, err)
		return
	}

	now := h.now()
	overdue := q.Get("overdue") == "true"
	dtos := make([]SpotCheckDTO, 0, len(batches))
	for _, b := range batches {
		if overdue && !b.IsOverdue(now) {
			continue
		}
		dtos = append(dtos, toSpotCheckDTO(b, now, false))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSpotCheck selects products and creates a spot check.
// POST /api/spot-checks
func (h *Handler) CreateSpotCheck(w http.ResponseWriter, r *http.Request) {
	var req CreateSpotCheckRequest
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(w, "CreateSpotCheck", "convert request", req, err)
		return
	}

	b, err := h.Batches.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "CreateSpotCheck", "create spot check", req.Reference, err)
		return
	}
	h.Metrics.IncrementTransition(string(b.Status))
	h.Logger.WithFields(logrus.Fields{"id": b.ID, "items": len(b.Items), "check_type": b.CheckType}).Info("spot check created")

	writeJSON(w, http.StatusCreated, toSpotCheckDTO(b, h.now(), true))
}

// GetSpotCheck returns a spot check with its items.
// GET /api/spot-checks/{id}
func (h *Handler) GetSpotCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.Batches.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "GetSpotCheck", "get spot check", id, err)
		return
	}
	writeJSON(w, http.StatusOK, toSpotCheckDTO(b, h.now(), true))
}

// StartSpotCheck moves a pending spot check to in-progress.
// POST /api/spot-checks/{id}/start
func (h *Handler) StartSpotCheck(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "StartSpotCheck", h.Batches.Start)
}

// HoldSpotCheck pauses counting.
// POST /api/spot-checks/{id}/hold
func (h *Handler) HoldSpotCheck(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "HoldSpotCheck", h.Batches.Hold)
}

// ResumeSpotCheck continues a held spot check.
// POST /api/spot-checks/{id}/resume
func (h *Handler) ResumeSpotCheck(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "ResumeSpotCheck", h.Batches.Resume)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, funcName string, fn func(context.Context, string) (*counting.Batch, error)) {
	id := chi.URLParam(r, "id")
	b, err := fn(r.Context(), id)
	if err != nil {
		h.fail(w, funcName, "transition spot check", id, err)
		return
	}
	h.Metrics.IncrementTransition(string(b.Status))
	writeJSON(w, http.StatusOK, toSpotCheckDTO(b, h.now(), true))
}

// CompleteSpotCheck closes a spot check. Pending items are reported, not refused.
// POST /api/spot-checks/{id}/complete
func (h *Handler) CompleteSpotCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, warning, err := h.Batches.Complete(r.Context(), id)
	if err != nil {
		h.fail(w, "CompleteSpotCheck", "complete spot check", id, err)
		return
	}
	h.Metrics.IncrementTransition(string(b.Status))
	h.Metrics.AddVarianceValue(b.Aggregates.VarianceValue)

	resp := CompletionDTO{
		SpotCheck:    toSpotCheckDTO(b, h.now(), true),
		PendingItems: warning.PendingItems,
	}
	if warning.HasPending() {
		resp.Warning = fmt.Sprintf("%d items were not counted", warning.PendingItems)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelSpotCheck closes a spot check with a reason.
// POST /api/spot-checks/{id}/cancel
func (h *Handler) CancelSpotCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req CancelRequest
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}
	b, err := h.Batches.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, "CancelSpotCheck", "cancel spot check", id, err)
		return
	}
	h.Metrics.IncrementTransition(string(b.Status))
	writeJSON(w, http.StatusOK, toSpotCheckDTO(b, h.now(), true))
}

// NextItem returns the next pending item after ?from (default: current index).
// GET /api/spot-checks/{id}/next?from=i
func (h *Handler) NextItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var from *int
	if s := r.URL.Query().Get("from"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be an integer", err)
			return
		}
		from = &n
	}

	b, index, ok, err := h.Batches.Next(r.Context(), id, from)
	if err != nil {
		h.fail(w, "NextItem", "next item", id, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, NextItemDTO{})
		return
	}
	item := toCountRecordDTO(index, b.Items[index])
	writeJSON(w, http.StatusOK, NextItemDTO{Index: &index, Item: &item})
}

// CountItem records a physical count for one item.
// POST /api/spot-checks/{id}/items/{index}/count
func (h *Handler) CountItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer", err)
		return
	}

	var req CountRequest
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}
	qty, err := counting.ParseQuantity(req.Quantity.String())
	if err != nil {
		h.fail(w, "CountItem", "parse quantity", req.Quantity.String(), err)
		return
	}

	in := counting.CountInput{
		Quantity:  qty,
		Condition: counting.ItemCondition(req.Condition),
		Notes:     req.Notes,
		Actor:     req.Actor,
	}
	b, entry, err := h.Batches.Count(r.Context(), id, index, in, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.fail(w, "CountItem", "record count", map[string]any{"id": id, "index": index}, err)
		return
	}
	h.Metrics.IncrementEntry(string(entry.Kind), string(entry.Status))

	writeJSON(w, http.StatusOK, h.countResult(b, entry))
}

// SkipItem marks one item as skipped.
// POST /api/spot-checks/{id}/items/{index}/skip
func (h *Handler) SkipItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer", err)
		return
	}

	var req SkipRequest
	if err := h.bind(r, &req); err != nil {
		writeBindError(w, err)
		return
	}
	b, entry, err := h.Batches.Skip(r.Context(), id, index, req.Reason, req.Actor, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.fail(w, "SkipItem", "skip item", map[string]any{"id": id, "index": index}, err)
		return
	}
	h.Metrics.IncrementEntry(string(entry.Kind), string(entry.Status))

	writeJSON(w, http.StatusOK, h.countResult(b, entry))
}

func (h *Handler) countResult(b *counting.Batch, entry counting.CountEntry) CountResultDTO {
	resp := CountResultDTO{
		SpotCheck: toSpotCheckDTO(b, h.now(), true),
		Entry:     toCountEntryDTO(entry),
	}
	if next, ok := counting.PickNextItem(b.Items, entry.ItemIndex); ok {
		resp.NextIndex = &next
	}
	return resp
}

// ListEntries returns the count entry ledger of a spot check.
// GET /api/spot-checks/{id}/entries
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.Batches.Entries(r.Context(), id)
	if err != nil {
		h.fail(w, "ListEntries", "list entries", id, err)
		return
	}
	dtos := make([]CountEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCountEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExportSpotCheck writes the variance report workbook.
// GET /api/spot-checks/{id}/export
func (h *Handler) ExportSpotCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.Batches.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "ExportSpotCheck", "get spot check", id, err)
		return
	}

	f, err := report.VarianceWorkbook(b)
	if err != nil {
		h.fail(w, "ExportSpotCheck", "build workbook", id, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(b)))
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		config.LogError(h.Logger, moduleName, "ExportSpotCheck", "write workbook", id, err)
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts returns candidate products, optionally narrowed by a selection.
// GET /api/products?search=&category=&min_value=
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Fixtures.ListProducts(r.Context())
	if err != nil {
		h.fail(w, "ListProducts", "list products", nil, err)
		return
	}

	q := r.URL.Query()
	criteria := counting.SelectionCriteria{
		Search:   q.Get("search"),
		Category: q.Get("category"),
	}
	if s := q.Get("min_value"); s != "" {
		minValue, err := counting.ParseQuantity(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_value must be a non-negative number", err)
			return
		}
		criteria.MinimumValue = &minValue
		criteria.Method = counting.SelectValueBased
	}
	products = counting.FilterProducts(products, criteria, counting.CheckType(q.Get("check_type")))

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAttributes returns the attribute catalog.
// GET /api/attributes?category=&q=
func (h *Handler) ListAttributes(w http.ResponseWriter, r *http.Request) {
	cat := h.Fixtures.Catalog()
	q := r.URL.Query()

	var defs []abac.AttributeDefinition
	switch {
	case q.Get("q") != "":
		defs = cat.Search(q.Get("q"))
	case q.Get("category") != "":
		defs = cat.ListByCategory(q.Get("category"))
	default:
		defs = cat.List()
	}

	dtos := make([]AttributeDTO, len(defs))
	for i, d := range defs {
		dtos[i] = toAttributeDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func idempotencyKey(r *http.Request, body string) string {
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		return key
	}
	return body
}

// bindError wraps a malformed request body.
type bindError struct{ err error }

func (e *bindError) Error() string { return "invalid request body: " + e.err.Error() }
func (e *bindError) Unwrap() error { return e.err }

// bind decodes the JSON body into v and runs struct validation.
// Numbers inside map[string]any fields stay json.Number.
func (h *Handler) bind(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &bindError{err}
	}
	return h.validate.Struct(v)
}

func writeBindError(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Code:    "validation_error",
			Details: validationDetails(ve),
		})
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", err)
}

// validationDetails maps each failing field to the tag it failed.
func validationDetails(ve validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// fail maps a domain error to its HTTP status. Only 500s are logged.
func (h *Handler) fail(w http.ResponseWriter, funcName, context string, data any, err error) {
	switch {
	case errors.Is(err, counting.ErrBatchNotFound) || abac.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case counting.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	case counting.IsClientError(err) || abac.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_request"})
	default:
		config.LogError(h.Logger, moduleName, funcName, context, data, err)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
