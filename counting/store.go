/*
store.go - Persistence interfaces for spot checks

PURPOSE:
  The counting engine never reads or writes storage itself. These
  interfaces are the boundary between the engine and whatever keeps the
  batches: SQLite, memory, or a fixture provider.

KEY INTERFACES:
  BatchStore:    Save and load whole batches (items included)
  EntryLog:      Append-only history of every count and skip
  Store:         BatchStore + EntryLog
  TxStore:       Store with WithTx, so a batch write and its entry commit together
  ProductSource: Where candidate products for a new batch come from

APPEND-ONLY CONTRACT (EntryLog):
  A re-count overwrites the record inside the batch, but the entry log
  keeps both entries. There is no Update or Delete. An entry with an
  idempotency key that already exists is rejected with ErrDuplicateEntry.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
  - store/memory/memory.go
  - fixtures/fixtures.go (ProductSource)
*/
package counting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COUNT ENTRY - Ledger of count actions
// =============================================================================

type EntryKind string

const (
	EntryCount EntryKind = "count"
	EntrySkip  EntryKind = "skip"
)

// CountEntry is an immutable record of one count or skip action.
type CountEntry struct {
	ID             string
	BatchID        string
	RecordID       string
	ItemIndex      int
	Kind           EntryKind
	Quantity       decimal.Decimal
	Condition      ItemCondition
	Variance       decimal.Decimal
	Status         ItemStatus
	Notes          string
	Actor          string
	At             time.Time
	IdempotencyKey string
}

// =============================================================================
// INTERFACES
// =============================================================================

// BatchFilter narrows ListBatches. Zero value lists everything.
type BatchFilter struct {
	Status     *BatchStatus
	LocationID string
	AssignedTo string
}

// Matches reports whether b passes the filter.
func (f BatchFilter) Matches(b *Batch) bool {
	if f.Status != nil && b.Status != *f.Status {
		return false
	}
	if f.LocationID != "" && b.LocationID != f.LocationID {
		return false
	}
	if f.AssignedTo != "" && b.AssignedTo != f.AssignedTo {
		return false
	}
	return true
}

// BatchStore persists whole batches.
type BatchStore interface {
	SaveBatch(ctx context.Context, b *Batch) error
	// GetBatch returns ErrBatchNotFound when id is unknown.
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]*Batch, error)
}

// EntryLog stores count entries. Append-only.
type EntryLog interface {
	AppendEntry(ctx context.Context, e CountEntry) error
	ListEntries(ctx context.Context, batchID string) ([]CountEntry, error)
}

// Store is everything a count session writes to.
type Store interface {
	BatchStore
	EntryLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, nothing fn wrote is kept.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ProductSource supplies the products a batch can be built from.
type ProductSource interface {
	ListProducts(ctx context.Context) ([]Product, error)
}
