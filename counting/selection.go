/*
selection.go - Building a spot check from a product selection

PURPOSE:
  A new spot check starts from a list of candidate products, narrowed by
  search, category and value, then picked by one of four methods. The
  picked products become pending CountRecords.

SELECTION METHODS:
  random:      shuffle the filtered set, take ItemCount
  manual:      take the listed ProductIDs (catalog order, deduplicated)
  category:    take every product in Category
  value-based: take every product with Value >= MinimumValue

REQUIRED FIELDS (NewBatch):
  check type, location, department, assignee, at least one item, reason.
*/
package counting

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultRandomItemCount is used when a random selection asks for no count.
const DefaultRandomItemCount = 10

// Product is a candidate inventory item.
type Product struct {
	ID             string
	Code           string
	Name           string
	Category       string
	Unit           string
	Location       string
	SystemQuantity decimal.Decimal
	Value          decimal.Decimal
	LastCountDate  *time.Time
}

type SelectionMethod string

const (
	SelectRandom     SelectionMethod = "random"
	SelectManual     SelectionMethod = "manual"
	SelectCategory   SelectionMethod = "category"
	SelectValueBased SelectionMethod = "value-based"
)

// SelectionCriteria describes how products were chosen.
type SelectionCriteria struct {
	Method       SelectionMethod
	Search       string
	Category     string
	MinimumValue *decimal.Decimal
	ItemCount    int
	ProductIDs   []string
}

// =============================================================================
// FILTER & SELECT
// =============================================================================

// FilterProducts applies search, category and minimum value.
// The minimum value only applies to high-value checks and value-based selection.
func FilterProducts(products []Product, c SelectionCriteria, checkType CheckType) []Product {
	term := strings.ToLower(strings.TrimSpace(c.Search))
	useMin := c.MinimumValue != nil && (checkType == CheckHighValue || c.Method == SelectValueBased)

	out := make([]Product, 0, len(products))
	for _, p := range products {
		if term != "" &&
			!strings.Contains(strings.ToLower(p.Name), term) &&
			!strings.Contains(strings.ToLower(p.Code), term) {
			continue
		}
		if c.Category != "" && c.Category != "all" && p.Category != c.Category {
			continue
		}
		if useMin && p.Value.LessThan(*c.MinimumValue) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SelectProducts picks from an already filtered list.
func SelectProducts(filtered []Product, c SelectionCriteria, rng *rand.Rand) ([]Product, error) {
	switch c.Method {
	case SelectRandom, "":
		n := c.ItemCount
		if n <= 0 {
			n = DefaultRandomItemCount
		}
		shuffled := append([]Product(nil), filtered...)
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if n > len(shuffled) {
			n = len(shuffled)
		}
		return shuffled[:n], nil

	case SelectManual:
		want := make(map[string]bool, len(c.ProductIDs))
		for _, id := range c.ProductIDs {
			want[id] = true
		}
		var out []Product
		for _, p := range filtered {
			if want[p.ID] {
				out = append(out, p)
				delete(want, p.ID)
			}
		}
		return out, nil

	case SelectCategory:
		if c.Category == "" || c.Category == "all" {
			return nil, &FieldError{Field: "category", Message: "required for category selection"}
		}
		return filtered, nil

	case SelectValueBased:
		if c.MinimumValue == nil {
			return nil, &FieldError{Field: "minimum_value", Message: "required for value-based selection"}
		}
		return filtered, nil

	default:
		return nil, &FieldError{Field: "selection_method", Message: fmt.Sprintf("unknown method %q", c.Method)}
	}
}

// =============================================================================
// BATCH CREATION
// =============================================================================

// BatchInput is everything needed to create a spot check.
type BatchInput struct {
	ID            string
	Reference     string
	CheckType     CheckType
	Priority      Priority
	LocationID    string
	DepartmentID  string
	AssignedTo    string
	Reason        string
	Notes         string
	ScheduledDate time.Time
	DueDate       *time.Time
	Selection     SelectionCriteria
	Draft         bool
	CreatedBy     string
}

// Validate checks the required fields in wizard order.
func (in BatchInput) Validate() error {
	if !in.CheckType.Valid() {
		return &FieldError{Field: "check_type", Message: fmt.Sprintf("unknown check type %q", in.CheckType)}
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return &FieldError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", in.Priority)}
	}
	if strings.TrimSpace(in.LocationID) == "" {
		return &FieldError{Field: "location_id", Message: "required"}
	}
	if strings.TrimSpace(in.DepartmentID) == "" {
		return &FieldError{Field: "department_id", Message: "required"}
	}
	if strings.TrimSpace(in.AssignedTo) == "" {
		return &FieldError{Field: "assigned_to", Message: "required"}
	}
	if strings.TrimSpace(in.Reason) == "" {
		return &FieldError{Field: "reason", Message: "required"}
	}
	if in.DueDate != nil && !in.ScheduledDate.IsZero() && in.DueDate.Before(in.ScheduledDate) {
		return &FieldError{Field: "due_date", Message: "before scheduled date"}
	}
	return nil
}

// NewBatch builds a spot check from the selected products. Every record
// starts pending with a good condition.
func NewBatch(in BatchInput, selected []Product, now time.Time) (*Batch, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, ErrNoItemsSelected
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := BatchPending
	if in.Draft {
		status = BatchDraft
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	scheduled := in.ScheduledDate
	if scheduled.IsZero() {
		scheduled = now
	}
	ref := in.Reference
	if ref == "" {
		ref = fmt.Sprintf("SC-%s-%s", now.Format("20060102"), strings.ToUpper(id[:min(6, len(id))]))
	}

	items := make([]CountRecord, len(selected))
	for i, p := range selected {
		items[i] = CountRecord{
			ID:              fmt.Sprintf("%s-%03d", id, i+1),
			ItemID:          p.ID,
			ItemCode:        p.Code,
			ItemName:        p.Name,
			Category:        p.Category,
			Unit:            p.Unit,
			Location:        p.Location,
			SystemQuantity:  p.SystemQuantity,
			TotalValue:      p.Value,
			Condition:       ConditionGood,
			Variance:        decimal.Zero,
			VariancePercent: decimal.Zero,
			Status:          ItemPending,
		}
	}

	b := &Batch{
		ID:            id,
		Reference:     ref,
		CheckType:     in.CheckType,
		Status:        status,
		Priority:      priority,
		LocationID:    in.LocationID,
		DepartmentID:  in.DepartmentID,
		AssignedTo:    in.AssignedTo,
		Reason:        strings.TrimSpace(in.Reason),
		Notes:         in.Notes,
		Selection:     in.Selection,
		ScheduledDate: scheduled,
		DueDate:       in.DueDate,
		Items:         items,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.Aggregates = RecomputeAggregates(b.Items)
	return b, nil
}
