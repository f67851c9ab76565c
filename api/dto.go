/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the counting and abac types from the external API contract, allowing:
  - snake_case field names without tagging the domain types
  - API-specific validation (validate: tags)
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Spot checks:
    CreateSpotCheckRequest, SelectionRequest, CountRequest, SkipRequest,
    CancelRequest, SpotCheckDTO, CountRecordDTO, AggregatesDTO, CountEntryDTO

  Catalog:
    ProductDTO, AttributeDTO

  Policies:
    PolicyDTO (wraps factory.PolicyJSON), ValidationResultDTO

  Evaluation:
    EvaluateRequest, EvaluationDTO, TraceDTO, DecisionDTO, DecisionStatsDTO

VALIDATION:
  Request structs carry go-playground/validator tags. Handlers call
  h.bind, which decodes and validates in one step. Domain rules (negative
  quantities, lifecycle) are still enforced by the engines.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ops-engine/abac"
	"github.com/warp/ops-engine/counting"
	"github.com/warp/ops-engine/factory"
)

// =============================================================================
// SPOT CHECK REQUESTS
// =============================================================================

// SelectionRequest describes how to pick products for a new spot check.
type SelectionRequest struct {
	Method       string   `json:"method" validate:"omitempty,oneof=random manual category value-based"`
	Search       string   `json:"search"`
	Category     string   `json:"category"`
	MinimumValue string   `json:"minimum_value" validate:"omitempty,numeric"`
	ItemCount    int      `json:"item_count" validate:"gte=0,lte=500"`
	ProductIDs   []string `json:"product_ids" validate:"required_if=Method manual,dive,required"`
}

// CreateSpotCheckRequest creates a spot check from a product selection.
type CreateSpotCheckRequest struct {
	ID            string           `json:"id"`
	Reference     string           `json:"reference"`
	CheckType     string           `json:"check_type" validate:"required,oneof=random targeted high-value variance-based cycle-count"`
	Priority      string           `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	LocationID    string           `json:"location_id" validate:"required"`
	DepartmentID  string           `json:"department_id" validate:"required"`
	AssignedTo    string           `json:"assigned_to" validate:"required"`
	Reason        string           `json:"reason" validate:"required"`
	Notes         string           `json:"notes"`
	ScheduledDate *time.Time       `json:"scheduled_date"`
	DueDate       *time.Time       `json:"due_date"`
	Draft         bool             `json:"draft"`
	CreatedBy     string           `json:"created_by"`
	Selection     SelectionRequest `json:"selection"`
}

// CountRequest records a physical count. Quantity may be sent as a JSON
// number or a decimal string.
type CountRequest struct {
	Quantity       json.Number `json:"quantity" validate:"required"`
	Condition      string `json:"condition" validate:"omitempty,oneof=good damaged expired missing"`
	Notes          string `json:"notes" validate:"max=1000"`
	Actor          string `json:"actor"`
	IdempotencyKey string `json:"idempotency_key"`
}

// SkipRequest skips an item.
type SkipRequest struct {
	Reason         string `json:"reason" validate:"max=1000"`
	Actor          string `json:"actor"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CancelRequest cancels a spot check.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// =============================================================================
// SPOT CHECK RESPONSES
// =============================================================================

// CountRecordDTO is one line of a spot check.
type CountRecordDTO struct {
	Index           int              `json:"index"`
	ID              string           `json:"id"`
	ItemID          string           `json:"item_id"`
	ItemCode        string           `json:"item_code"`
	ItemName        string           `json:"item_name"`
	Category        string           `json:"category"`
	Unit            string           `json:"unit"`
	Location        string           `json:"location"`
	SystemQuantity  decimal.Decimal  `json:"system_quantity"`
	CountedQuantity *decimal.Decimal `json:"counted_quantity"`
	TotalValue      decimal.Decimal  `json:"total_value"`
	UnitValue       decimal.Decimal  `json:"unit_value"`
	Condition       string           `json:"condition"`
	Variance        decimal.Decimal  `json:"variance"`
	VariancePercent decimal.Decimal  `json:"variance_percent"`
	VarianceValue   decimal.Decimal  `json:"variance_value"`
	Status          string           `json:"status"`
	Notes           string           `json:"notes,omitempty"`
	CountedBy       string           `json:"counted_by,omitempty"`
	CountedAt       *time.Time       `json:"counted_at,omitempty"`
}

// AggregatesDTO are the batch totals.
type AggregatesDTO struct {
	TotalItems    int             `json:"total_items"`
	PendingItems  int             `json:"pending_items"`
	CountedItems  int             `json:"counted_items"`
	MatchedItems  int             `json:"matched_items"`
	VarianceItems int             `json:"variance_items"`
	SkippedItems  int             `json:"skipped_items"`
	VarianceValue decimal.Decimal `json:"variance_value"`
	Accuracy      decimal.Decimal `json:"accuracy"`
	Progress      decimal.Decimal `json:"progress"`
}

// SpotCheckDTO represents a spot check. Items are omitted in listings.
type SpotCheckDTO struct {
	ID            string           `json:"id"`
	Reference     string           `json:"reference"`
	CheckType     string           `json:"check_type"`
	Status        string           `json:"status"`
	Priority      string           `json:"priority"`
	LocationID    string           `json:"location_id"`
	DepartmentID  string           `json:"department_id"`
	AssignedTo    string           `json:"assigned_to"`
	Reason        string           `json:"reason"`
	Notes         string           `json:"notes,omitempty"`
	SelectionMode string           `json:"selection_method"`
	ScheduledDate time.Time        `json:"scheduled_date"`
	DueDate       *time.Time       `json:"due_date,omitempty"`
	Overdue       bool             `json:"overdue"`
	CurrentIndex  int              `json:"current_index"`
	Aggregates    AggregatesDTO    `json:"aggregates"`
	Items         []CountRecordDTO `json:"items,omitempty"`
	CancelReason  string           `json:"cancel_reason,omitempty"`
	CreatedBy     string           `json:"created_by,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	CancelledAt   *time.Time       `json:"cancelled_at,omitempty"`
}

// CountEntryDTO is one ledger entry.
type CountEntryDTO struct {
	ID        string          `json:"id"`
	RecordID  string          `json:"record_id"`
	ItemIndex int             `json:"item_index"`
	Kind      string          `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	Condition string          `json:"condition,omitempty"`
	Variance  decimal.Decimal `json:"variance"`
	Status    string          `json:"status"`
	Notes     string          `json:"notes,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	At        time.Time       `json:"at"`
}

// CountResultDTO is returned by count and skip.
type CountResultDTO struct {
	SpotCheck SpotCheckDTO  `json:"spot_check"`
	Entry     CountEntryDTO `json:"entry"`
	NextIndex *int          `json:"next_index"` // nil when nothing is pending
}

// NextItemDTO is returned by the next-item lookup.
type NextItemDTO struct {
	Index *int            `json:"index"`
	Item  *CountRecordDTO `json:"item,omitempty"`
}

// CompletionDTO is returned by complete.
type CompletionDTO struct {
	SpotCheck    SpotCheckDTO `json:"spot_check"`
	PendingItems int          `json:"pending_items"`
	Warning      string       `json:"warning,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// ProductDTO is a candidate inventory item.
type ProductDTO struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Unit           string          `json:"unit"`
	Location       string          `json:"location"`
	SystemQuantity decimal.Decimal `json:"system_quantity"`
	Value          decimal.Decimal `json:"value"`
	LastCountDate  *time.Time      `json:"last_count_date,omitempty"`
}

// AttributeDTO is one entry of the policy attribute catalog.
type AttributeDTO struct {
	Path           string   `json:"path"`
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	Description    string   `json:"description,omitempty"`
	DataType       string   `json:"data_type"`
	Category       string   `json:"category"`
	ValidOperators []string `json:"valid_operators"`
	Tags           []string `json:"tags,omitempty"`
}

// =============================================================================
// POLICIES & EVALUATION
// =============================================================================

// PolicyDTO represents a stored policy.
type PolicyDTO struct {
	factory.PolicyJSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidationResultDTO is returned by policy validation.
type ValidationResultDTO struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// EvaluateRequest asks for an access decision.
type EvaluateRequest struct {
	Subject       map[string]any `json:"subject"`
	Resource      map[string]any `json:"resource"`
	Action        string         `json:"action" validate:"required"`
	Environment   map[string]any `json:"environment"`
	At            *time.Time     `json:"at"`
	PolicyIDs     []string       `json:"policy_ids"` // empty: every stored policy
	Algorithm     string         `json:"algorithm" validate:"omitempty,oneof=deny-overrides permit-overrides first-applicable priority-based"`
	DefaultEffect string         `json:"default_effect" validate:"omitempty,oneof=permit deny"`
}

// TraceDTO is one policy's vote.
type TraceDTO struct {
	PolicyID   string `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Effect     string `json:"effect"`
	Priority   int    `json:"priority"`
	Matched    bool   `json:"matched"`
	Reason     string `json:"reason,omitempty"`
}

// EvaluationDTO is the decision with its trace.
type EvaluationDTO struct {
	DecisionID     string     `json:"decision_id"`
	Allowed        bool       `json:"allowed"`
	FinalEffect    string     `json:"final_effect"`
	Algorithm      string     `json:"algorithm"`
	DecidingPolicy string     `json:"deciding_policy,omitempty"`
	Reason         string     `json:"reason"`
	Trace          []TraceDTO `json:"trace"`
	DurationMicros int64      `json:"duration_us"`
}

// DecisionDTO is an audit log entry.
type DecisionDTO struct {
	ID             string    `json:"id"`
	At             time.Time `json:"at"`
	Action         string    `json:"action"`
	SubjectID      string    `json:"subject_id,omitempty"`
	ResourceID     string    `json:"resource_id,omitempty"`
	FinalEffect    string    `json:"final_effect"`
	Algorithm      string    `json:"algorithm"`
	DecidingPolicy string    `json:"deciding_policy,omitempty"`
	Reason         string    `json:"reason"`
	PoliciesRun    int       `json:"policies_run"`
	DurationMicros int64     `json:"duration_us"`
}

// DecisionStatsDTO summarises the audit log.
type DecisionStatsDTO struct {
	Total                 int     `json:"total"`
	Permits               int     `json:"permits"`
	Denies                int     `json:"denies"`
	PermitRate            float64 `json:"permit_rate"`
	AverageDurationMicros int64   `json:"average_duration_us"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "counting" or "policies"
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func (req CreateSpotCheckRequest) toInput() (counting.BatchInput, error) {
	in := counting.BatchInput{
		ID:           req.ID,
		Reference:    req.Reference,
		CheckType:    counting.CheckType(req.CheckType),
		Priority:     counting.Priority(req.Priority),
		LocationID:   req.LocationID,
		DepartmentID: req.DepartmentID,
		AssignedTo:   req.AssignedTo,
		Reason:       req.Reason,
		Notes:        req.Notes,
		DueDate:      req.DueDate,
		Draft:        req.Draft,
		CreatedBy:    req.CreatedBy,
		Selection: counting.SelectionCriteria{
			Method:     counting.SelectionMethod(req.Selection.Method),
			Search:     req.Selection.Search,
			Category:   req.Selection.Category,
			ItemCount:  req.Selection.ItemCount,
			ProductIDs: req.Selection.ProductIDs,
		},
	}
	if req.ScheduledDate != nil {
		in.ScheduledDate = *req.ScheduledDate
	}
	if req.Selection.MinimumValue != "" {
		minValue, err := decimal.NewFromString(req.Selection.MinimumValue)
		if err != nil {
			return counting.BatchInput{}, &counting.FieldError{Field: "selection.minimum_value", Message: "not a number"}
		}
		in.Selection.MinimumValue = &minValue
	}
	return in, nil
}

func toSpotCheckDTO(b *counting.Batch, now time.Time, withItems bool) SpotCheckDTO {
	agg := b.Aggregates
	dto := SpotCheckDTO{
		ID:            b.ID,
		Reference:     b.Reference,
		CheckType:     string(b.CheckType),
		Status:        string(b.Status),
		Priority:      string(b.Priority),
		LocationID:    b.LocationID,
		DepartmentID:  b.DepartmentID,
		AssignedTo:    b.AssignedTo,
		Reason:        b.Reason,
		Notes:         b.Notes,
		SelectionMode: string(b.Selection.Method),
		ScheduledDate: b.ScheduledDate,
		DueDate:       b.DueDate,
		Overdue:       b.IsOverdue(now),
		CurrentIndex:  b.CurrentIndex,
		Aggregates: AggregatesDTO{
			TotalItems:    agg.TotalItems,
			PendingItems:  agg.PendingItems,
			CountedItems:  agg.CountedItems,
			MatchedItems:  agg.MatchedItems,
			VarianceItems: agg.VarianceItems,
			SkippedItems:  agg.SkippedItems,
			VarianceValue: agg.VarianceValue,
			Accuracy:      agg.Accuracy,
			Progress:      agg.Progress,
		},
		CancelReason: b.CancelReason,
		CreatedBy:    b.CreatedBy,
		CreatedAt:    b.CreatedAt,
		StartedAt:    b.StartedAt,
		CompletedAt:  b.CompletedAt,
		CancelledAt:  b.CancelledAt,
	}
	if withItems {
		dto.Items = make([]CountRecordDTO, len(b.Items))
		for i, r := range b.Items {
			dto.Items[i] = toCountRecordDTO(i, r)
		}
	}
	return dto
}

func toCountRecordDTO(index int, r counting.CountRecord) CountRecordDTO {
	return CountRecordDTO{
		Index:           index,
		ID:              r.ID,
		ItemID:          r.ItemID,
		ItemCode:        r.ItemCode,
		ItemName:        r.ItemName,
		Category:        r.Category,
		Unit:            r.Unit,
		Location:        r.Location,
		SystemQuantity:  r.SystemQuantity,
		CountedQuantity: r.CountedQuantity,
		TotalValue:      r.TotalValue,
		UnitValue:       r.UnitValue().Round(2),
		Condition:       string(r.Condition),
		Variance:        r.Variance,
		VariancePercent: r.VariancePercent,
		VarianceValue:   r.VarianceValue().Round(2),
		Status:          string(r.Status),
		Notes:           r.Notes,
		CountedBy:       r.CountedBy,
		CountedAt:       r.CountedAt,
	}
}

func toCountEntryDTO(e counting.CountEntry) CountEntryDTO {
	return CountEntryDTO{
		ID:        e.ID,
		RecordID:  e.RecordID,
		ItemIndex: e.ItemIndex,
		Kind:      string(e.Kind),
		Quantity:  e.Quantity,
		Condition: string(e.Condition),
		Variance:  e.Variance,
		Status:    string(e.Status),
		Notes:     e.Notes,
		Actor:     e.Actor,
		At:        e.At,
	}
}

func toProductDTO(p counting.Product) ProductDTO {
	return ProductDTO{
		ID:             p.ID,
		Code:           p.Code,
		Name:           p.Name,
		Category:       p.Category,
		Unit:           p.Unit,
		Location:       p.Location,
		SystemQuantity: p.SystemQuantity,
		Value:          p.Value,
		LastCountDate:  p.LastCountDate,
	}
}

func toAttributeDTO(d abac.AttributeDefinition) AttributeDTO {
	ops := make([]string, len(d.ValidOperators))
	for i, op := range d.ValidOperators {
		ops[i] = string(op)
	}
	return AttributeDTO{
		Path:           d.Path,
		Name:           d.Name,
		DisplayName:    d.DisplayName,
		Description:    d.Description,
		DataType:       string(d.DataType),
		Category:       d.Category,
		ValidOperators: ops,
		Tags:           d.Tags,
	}
}

func toEvaluationDTO(id string, res abac.EvaluationResult, took time.Duration) EvaluationDTO {
	trace := make([]TraceDTO, len(res.Trace))
	for i, t := range res.Trace {
		trace[i] = TraceDTO{
			PolicyID:   t.PolicyID,
			PolicyName: t.PolicyName,
			Effect:     string(t.Effect),
			Priority:   t.Priority,
			Matched:    t.Matched,
			Reason:     t.Reason,
		}
	}
	return EvaluationDTO{
		DecisionID:     id,
		Allowed:        res.Allowed,
		FinalEffect:    string(res.FinalEffect),
		Algorithm:      string(res.Algorithm),
		DecidingPolicy: res.DecidingPolicy,
		Reason:         res.Reason,
		Trace:          trace,
		DurationMicros: took.Microseconds(),
	}
}

func toDecisionDTO(d abac.DecisionRecord) DecisionDTO {
	return DecisionDTO{
		ID:             d.ID,
		At:             d.At,
		Action:         d.Action,
		SubjectID:      d.SubjectID,
		ResourceID:     d.ResourceID,
		FinalEffect:    string(d.FinalEffect),
		Algorithm:      string(d.Algorithm),
		DecidingPolicy: d.DecidingPolicy,
		Reason:         d.Reason,
		PoliciesRun:    d.PoliciesRun,
		DurationMicros: d.Duration.Microseconds(),
	}
}
