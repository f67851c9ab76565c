/*
Package counting provides the spot-check count reconciliation engine.

PURPOSE:
  A spot check compares the quantity the system expects for an item with
  the quantity somebody physically counted. This package holds the rules
  for that comparison: variance math, per-item status, batch aggregates,
  which item to present next, and the batch lifecycle.

KEY CONCEPTS IN THIS FILE (types.go):
  - CountRecord: One inventory line being verified
  - Batch: The spot check itself (ordered records + lifecycle status)
  - BatchAggregates: Totals derived by scanning the records
  - ItemCondition / ItemStatus / BatchStatus: Closed enums

DESIGN PRINCIPLES:
  1. Pure operations: RecordCount and SkipItem return a new record, they
     never reach into a store
  2. Precision: Quantities and values are decimal.Decimal
  3. Derived state is recomputed: aggregates are a function of the items,
     never incremented in place
  4. Validation before mutation: invalid input leaves the batch untouched

USAGE:
  rec, err := counting.RecordCount(item, decimal.NewFromInt(95), counting.ConditionGood, "")
  if errors.Is(err, counting.ErrInvalidQuantity) {
      // re-prompt
  }
  agg := counting.RecomputeAggregates(batch.Items)

SEE ALSO:
  - record.go: RecordCount / SkipItem
  - aggregates.go: RecomputeAggregates
  - navigation.go: PickNextItem
  - batch.go: Batch lifecycle
  - selection.go: Building a batch from a product selection
*/
package counting

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

// ItemCondition is the physical condition recorded alongside a count.
type ItemCondition string

const (
	ConditionGood    ItemCondition = "good"
	ConditionDamaged ItemCondition = "damaged"
	ConditionExpired ItemCondition = "expired"
	ConditionMissing ItemCondition = "missing"
)

// Valid reports whether c is one of the known conditions.
func (c ItemCondition) Valid() bool {
	switch c {
	case ConditionGood, ConditionDamaged, ConditionExpired, ConditionMissing:
		return true
	}
	return false
}

// ItemStatus is the per-record verification state.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemCounted  ItemStatus = "counted"  // Counted, no variance
	ItemVariance ItemStatus = "variance" // Counted, counted != system
	ItemSkipped  ItemStatus = "skipped"
)

// BatchStatus is the lifecycle state of a spot check.
type BatchStatus string

const (
	BatchDraft      BatchStatus = "draft"
	BatchPending    BatchStatus = "pending"
	BatchInProgress BatchStatus = "in-progress"
	BatchCompleted  BatchStatus = "completed"
	BatchCancelled  BatchStatus = "cancelled"
	BatchOnHold     BatchStatus = "on-hold"
)

// IsTerminal reports whether no further transitions are allowed.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchCancelled
}

// CheckType describes why the spot check was scheduled.
type CheckType string

const (
	CheckRandom        CheckType = "random"
	CheckTargeted      CheckType = "targeted"
	CheckHighValue     CheckType = "high-value"
	CheckVarianceBased CheckType = "variance-based"
	CheckCycleCount    CheckType = "cycle-count"
)

func (t CheckType) Valid() bool {
	switch t {
	case CheckRandom, CheckTargeted, CheckHighValue, CheckVarianceBased, CheckCycleCount:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// =============================================================================
// COUNT RECORD - One line being verified
// =============================================================================

// DefaultSkipReason is stored in Notes when an item is skipped without a reason.
const DefaultSkipReason = "Skipped during count"

// CountRecord is one inventory line in a spot check.
//
// SystemQuantity and TotalValue are fixed when the batch is created.
// Variance, VariancePercent and Status are derived by RecordCount.
type CountRecord struct {
	ID       string
	ItemID   string
	ItemCode string
	ItemName string
	Category string
	Unit     string
	Location string

	SystemQuantity  decimal.Decimal
	CountedQuantity *decimal.Decimal // nil until a count is entered
	TotalValue      decimal.Decimal

	Condition       ItemCondition
	Variance        decimal.Decimal
	VariancePercent decimal.Decimal
	Status          ItemStatus
	Notes           string

	CountedBy string
	CountedAt *time.Time
}

// UnitValue is TotalValue spread over SystemQuantity.
// Zero when SystemQuantity is zero.
func (r CountRecord) UnitValue() decimal.Decimal {
	if !r.SystemQuantity.IsPositive() {
		return decimal.Zero
	}
	return r.TotalValue.Div(r.SystemQuantity)
}

// VarianceValue is the monetary impact of the record's variance.
// Only variance-status records carry an impact.
func (r CountRecord) VarianceValue() decimal.Decimal {
	if r.Status != ItemVariance {
		return decimal.Zero
	}
	return r.Variance.Abs().Mul(r.UnitValue())
}

// IsCounted is true for records with an entered count that has not been skipped.
func (r CountRecord) IsCounted() bool {
	return r.Status == ItemCounted || r.Status == ItemVariance
}

// =============================================================================
// BATCH - The spot check
// =============================================================================

// Batch is a spot check: an ordered list of records plus lifecycle state.
type Batch struct {
	ID            string
	Reference     string
	CheckType     CheckType
	Status        BatchStatus
	Priority      Priority
	LocationID    string
	DepartmentID  string
	AssignedTo    string
	Reason        string
	Notes         string
	Selection     SelectionCriteria
	ScheduledDate time.Time
	DueDate       *time.Time

	Items        []CountRecord
	Aggregates   BatchAggregates
	CurrentIndex int

	CancelReason string
	CreatedBy    string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	UpdatedAt    time.Time
}

// BatchAggregates are the batch-level totals. Always the output of
// RecomputeAggregates over Items.
type BatchAggregates struct {
	TotalItems    int
	PendingItems  int
	CountedItems  int // counted + variance
	MatchedItems  int // counted
	VarianceItems int // variance
	SkippedItems  int
	VarianceValue decimal.Decimal
	Accuracy      decimal.Decimal // percent, 2 decimal places
	Progress      decimal.Decimal // counted / total, percent
}

// IsOverdue reports whether the batch is past its due date and still open.
func (b *Batch) IsOverdue(now time.Time) bool {
	if b.DueDate == nil || b.Status.IsTerminal() {
		return false
	}
	return now.After(*b.DueDate)
}
