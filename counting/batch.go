/*
batch.go - Spot check lifecycle and count session

PURPOSE:
  Applies the pure record operations to a Batch, keeps the aggregates in
  step, moves the cursor to the next item, and guards status transitions.

BATCH STATUS MACHINE:
  draft | pending  --first count or skip / Start-->  in-progress
  in-progress      --Hold-->                         on-hold
  on-hold          --Resume-->                       in-progress (pending if nothing entered yet)
  in-progress      --Complete-->                     completed   (pending items allowed, warned)
  any non-terminal --Cancel(reason)-->               cancelled
  completed, cancelled: terminal

  Counting and skipping are refused while on-hold and after the batch is
  closed. Every accepted change recomputes Aggregates from scratch.

SEE ALSO:
  - record.go: RecordCount / SkipItem
  - navigation.go: PickNextItem
*/
package counting

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CountInput is a validated count entry for one record.
type CountInput struct {
	Quantity  decimal.Decimal
	Condition ItemCondition
	Notes     string
	Actor     string
}

// CompletionWarning is returned by Complete. Completion never requires full
// coverage; PendingItems tells the caller what was left uncounted.
type CompletionWarning struct {
	PendingItems int
}

func (w CompletionWarning) HasPending() bool { return w.PendingItems > 0 }

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start opens the count session. Starting an in-progress batch is a no-op.
func (b *Batch) Start(now time.Time) error {
	switch b.Status {
	case BatchInProgress:
		return nil
	case BatchDraft, BatchPending:
		b.begin(now)
		if i, ok := FirstPending(b.Items); ok {
			b.CurrentIndex = i
		}
		return nil
	default:
		return &TransitionError{From: b.Status, Action: "start"}
	}
}

func (b *Batch) begin(now time.Time) {
	b.Status = BatchInProgress
	if b.StartedAt == nil {
		t := now
		b.StartedAt = &t
	}
	b.UpdatedAt = now
}

// Hold pauses an in-progress batch. No item data changes.
func (b *Batch) Hold(now time.Time) error {
	if b.Status != BatchInProgress {
		return &TransitionError{From: b.Status, Action: "hold"}
	}
	b.Status = BatchOnHold
	b.UpdatedAt = now
	return nil
}

// Resume continues an on-hold batch. It returns to in-progress once
// anything has been entered, otherwise to pending.
func (b *Batch) Resume(now time.Time) error {
	if b.Status != BatchOnHold {
		return &TransitionError{From: b.Status, Action: "resume"}
	}
	agg := RecomputeAggregates(b.Items)
	if agg.CountedItems+agg.SkippedItems > 0 {
		b.Status = BatchInProgress
	} else {
		b.Status = BatchPending
	}
	b.UpdatedAt = now
	return nil
}

// Complete closes an in-progress batch. Pending items do not block
// completion; they are reported in the returned warning.
func (b *Batch) Complete(now time.Time) (CompletionWarning, error) {
	if b.Status != BatchInProgress {
		return CompletionWarning{}, &TransitionError{From: b.Status, Action: "complete"}
	}
	b.Aggregates = RecomputeAggregates(b.Items)
	b.Status = BatchCompleted
	t := now
	b.CompletedAt = &t
	b.UpdatedAt = now
	return CompletionWarning{PendingItems: b.Aggregates.PendingItems}, nil
}

// Cancel closes a non-terminal batch. A reason is mandatory.
func (b *Batch) Cancel(reason string, now time.Time) error {
	if b.Status.IsTerminal() {
		return &TransitionError{From: b.Status, Action: "cancel"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	b.Status = BatchCancelled
	b.CancelReason = reason
	t := now
	b.CancelledAt = &t
	b.UpdatedAt = now
	return nil
}

// =============================================================================
// COUNT SESSION
// =============================================================================

// RecordCount enters a count for the item at index and advances the cursor.
// The returned entry describes the change for the count ledger.
func (b *Batch) RecordCount(index int, in CountInput, now time.Time) (CountEntry, error) {
	if err := b.checkEditable("count"); err != nil {
		return CountEntry{}, err
	}
	if index < 0 || index >= len(b.Items) {
		return CountEntry{}, ErrItemOutOfRange
	}

	rec, err := RecordCount(b.Items[index], in.Quantity, in.Condition, in.Notes)
	if err != nil {
		return CountEntry{}, err
	}
	rec.CountedBy = in.Actor
	t := now
	rec.CountedAt = &t

	b.apply(index, rec, now)

	return CountEntry{
		BatchID:   b.ID,
		RecordID:  rec.ID,
		ItemIndex: index,
		Kind:      EntryCount,
		Quantity:  in.Quantity,
		Condition: rec.Condition,
		Variance:  rec.Variance,
		Status:    rec.Status,
		Notes:     rec.Notes,
		Actor:     in.Actor,
		At:        now,
	}, nil
}

// Skip marks the item at index as skipped and advances the cursor.
func (b *Batch) Skip(index int, reason, actor string, now time.Time) (CountEntry, error) {
	if err := b.checkEditable("skip"); err != nil {
		return CountEntry{}, err
	}
	if index < 0 || index >= len(b.Items) {
		return CountEntry{}, ErrItemOutOfRange
	}

	rec := SkipItem(b.Items[index], reason)
	b.apply(index, rec, now)

	return CountEntry{
		BatchID:   b.ID,
		RecordID:  rec.ID,
		ItemIndex: index,
		Kind:      EntrySkip,
		Condition: rec.Condition,
		Status:    rec.Status,
		Notes:     rec.Notes,
		Actor:     actor,
		At:        now,
	}, nil
}

func (b *Batch) checkEditable(action string) error {
	switch b.Status {
	case BatchDraft, BatchPending, BatchInProgress:
		return nil
	default:
		return &TransitionError{From: b.Status, Action: action}
	}
}

func (b *Batch) apply(index int, rec CountRecord, now time.Time) {
	if b.Status == BatchDraft || b.Status == BatchPending {
		b.begin(now)
	}
	b.Items[index] = rec
	b.Aggregates = RecomputeAggregates(b.Items)
	if next, ok := PickNextItem(b.Items, index); ok {
		b.CurrentIndex = next
	} else {
		b.CurrentIndex = index
	}
	b.UpdatedAt = now
}
