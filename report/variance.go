/*
Package report exports spot checks as spreadsheets.

PURPOSE:
  Reconciliation results leave the system as an .xlsx workbook that
  finance can file with the adjustment. Two sheets:

  Summary: batch header, status, aggregates, accuracy
  Items:   one row per record with counts, variance and value impact

Quantities and values are written as numbers so the sheet can total them.
*/
package report

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/ops-engine/counting"
)

const (
	SummarySheet = "Summary"
	ItemsSheet   = "Items"

	// ContentType is the MIME type of the workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var itemHeadings = []any{
	"Code", "Name", "Category", "Location", "Unit",
	"System Qty", "Counted Qty", "Variance", "Variance %",
	"Condition", "Status", "Unit Value", "Variance Value", "Counted By", "Notes",
}

// Filename is the attachment name for a batch export.
func Filename(b *counting.Batch) string {
	ref := b.Reference
	if ref == "" {
		ref = b.ID
	}
	return fmt.Sprintf("spot-check-%s.xlsx", ref)
}

// VarianceWorkbook builds the workbook for one batch. Callers must Close it.
func VarianceWorkbook(b *counting.Batch) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(ItemsSheet); err != nil {
		f.Close()
		return nil, err
	}

	if err := writeSummary(f, b); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeItems(f, b.Items); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeSummary(f *excelize.File, b *counting.Batch) error {
	agg := counting.RecomputeAggregates(b.Items)
	rows := [][]any{
		{"Reference", b.Reference},
		{"Check Type", string(b.CheckType)},
		{"Status", string(b.Status)},
		{"Priority", string(b.Priority)},
		{"Location", b.LocationID},
		{"Department", b.DepartmentID},
		{"Assigned To", b.AssignedTo},
		{"Reason", b.Reason},
		{"Scheduled", formatDate(&b.ScheduledDate)},
		{"Completed", formatDate(b.CompletedAt)},
		{},
		{"Total Items", agg.TotalItems},
		{"Counted", agg.CountedItems},
		{"Matched", agg.MatchedItems},
		{"Variance Items", agg.VarianceItems},
		{"Skipped", agg.SkippedItems},
		{"Pending", agg.PendingItems},
		{"Variance Value", num(agg.VarianceValue)},
		{"Accuracy %", num(agg.Accuracy)},
		{"Progress %", num(agg.Progress)},
	}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SummarySheet, "A", "A", 18)
}

func writeItems(f *excelize.File, items []counting.CountRecord) error {
	if err := f.SetSheetRow(ItemsSheet, "A1", &itemHeadings); err != nil {
		return err
	}
	for i, r := range items {
		var counted any = ""
		if r.CountedQuantity != nil {
			counted = num(*r.CountedQuantity)
		}
		row := []any{
			r.ItemCode, r.ItemName, r.Category, r.Location, r.Unit,
			num(r.SystemQuantity), counted, num(r.Variance), num(r.VariancePercent),
			string(r.Condition), string(r.Status), num(r.UnitValue().Round(2)),
			num(r.VarianceValue().Round(2)), r.CountedBy, r.Notes,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ItemsSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(ItemsSheet, "B", "B", 28)
}

func num(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
