package counting

import "github.com/shopspring/decimal"

// RecomputeAggregates derives batch totals with one full pass over items.
//
// It is called after every mutation and never maintained incrementally.
// Pending and skipped records contribute nothing to VarianceValue; Accuracy
// is zero until something has been counted.
func RecomputeAggregates(items []CountRecord) BatchAggregates {
	agg := BatchAggregates{
		TotalItems:    len(items),
		VarianceValue: decimal.Zero,
		Accuracy:      decimal.Zero,
		Progress:      decimal.Zero,
	}

	for _, it := range items {
		switch it.Status {
		case ItemCounted:
			agg.CountedItems++
			agg.MatchedItems++
		case ItemVariance:
			agg.CountedItems++
			agg.VarianceItems++
			agg.VarianceValue = agg.VarianceValue.Add(it.VarianceValue())
		case ItemSkipped:
			agg.SkippedItems++
		default:
			agg.PendingItems++
		}
	}

	if agg.CountedItems > 0 {
		counted := decimal.NewFromInt(int64(agg.CountedItems))
		agg.Accuracy = decimal.NewFromInt(int64(agg.MatchedItems)).
			Div(counted).Mul(hundred).Round(2)
	}
	if agg.TotalItems > 0 {
		agg.Progress = decimal.NewFromInt(int64(agg.CountedItems)).
			Div(decimal.NewFromInt(int64(agg.TotalItems))).Mul(hundred).Round(2)
	}
	return agg
}
