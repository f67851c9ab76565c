/*
record.go - Count entry on a single record

PURPOSE:
  The two operations that change a CountRecord: entering a physical count
  and skipping the item. Both are pure: they take a record by value and
  return the updated copy. Callers write the copy back into the batch by
  index.

STATUS MACHINE (per record):
  pending  --count-->  counted | variance
  pending  --skip--->  skipped
  counted | variance --re-count--> counted | variance   (overwrites)
  skipped  --count-->  counted | variance   (same as a fresh entry)

VARIANCE MATH:
  variance        = counted - system
  variancePercent = round(variance / system * 100, 2)   when system > 0
                  = 0                                   otherwise
*/
package counting

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RecordCount applies a physical count to a record.
//
// A negative quantity is rejected with ErrInvalidQuantity and the record is
// returned unchanged. An empty condition defaults to good.
func RecordCount(rec CountRecord, counted decimal.Decimal, condition ItemCondition, notes string) (CountRecord, error) {
	if counted.IsNegative() {
		return rec, &QuantityError{Input: counted.String(), Reason: "must be zero or greater"}
	}
	if condition == "" {
		condition = ConditionGood
	}
	if !condition.Valid() {
		return rec, ErrInvalidCondition
	}

	qty := counted
	rec.CountedQuantity = &qty
	rec.Condition = condition
	rec.Notes = notes
	rec.Variance = counted.Sub(rec.SystemQuantity)
	rec.VariancePercent = VariancePercent(rec.Variance, rec.SystemQuantity)

	if rec.Variance.IsZero() {
		rec.Status = ItemCounted
	} else {
		rec.Status = ItemVariance
	}
	return rec, nil
}

// SkipItem marks a record as skipped. The count and variance are left as they were.
func SkipItem(rec CountRecord, reason string) CountRecord {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultSkipReason
	}
	rec.Status = ItemSkipped
	rec.Notes = reason
	return rec
}

// VariancePercent returns variance as a percentage of system, rounded to
// two decimal places. Zero when system is not positive.
func VariancePercent(variance, system decimal.Decimal) decimal.Decimal {
	if !system.IsPositive() {
		return decimal.Zero
	}
	return variance.Div(system).Mul(hundred).Round(2)
}

// ParseQuantity converts raw user input into a quantity.
// Non-numeric and negative input both map to ErrInvalidQuantity.
func ParseQuantity(input string) (decimal.Decimal, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return decimal.Zero, &QuantityError{Input: input, Reason: "empty"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &QuantityError{Input: input, Reason: "not a number"}
	}
	if d.IsNegative() {
		return decimal.Zero, &QuantityError{Input: input, Reason: "must be zero or greater"}
	}
	return d, nil
}
