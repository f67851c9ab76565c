/*
service.go - Count session backed by a store

PURPOSE:
  Batch and record operations are pure. Service loads a batch, applies one
  of them, and writes the batch back together with the count entry in a
  single transaction. A failed operation leaves both the batch and the
  entry log as they were.

IDEMPOTENCY:
  Count and Skip accept an idempotency key. A repeated key is rejected
  with ErrDuplicateEntry and the batch is not touched, so a retried
  request can't count an item twice.

USAGE:
  svc := counting.NewService(store, fixtures)
  b, err := svc.Create(ctx, input)
  b, entry, err := svc.Count(ctx, b.ID, 0, counting.CountInput{Quantity: q}, key)
*/
package counting

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service runs count sessions against a TxStore.
type Service struct {
	Store    TxStore
	Products ProductSource
	Now      func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService creates a Service using the wall clock and a time-seeded
// random source.
func NewService(store TxStore, products ProductSource) *Service {
	return &Service{
		Store:    store,
		Products: products,
		Now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed replaces the random source used for random selection.
func (s *Service) Seed(seed int64) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng = rand.New(rand.NewSource(seed))
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// =============================================================================
// CREATION & QUERIES
// =============================================================================

// Create selects products and stores a new batch.
func (s *Service) Create(ctx context.Context, in BatchInput) (*Batch, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	products, err := s.Products.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	filtered := FilterProducts(products, in.Selection, in.CheckType)

	s.rngMu.Lock()
	selected, err := SelectProducts(filtered, in.Selection, s.rng)
	s.rngMu.Unlock()
	if err != nil {
		return nil, err
	}

	b, err := NewBatch(in, selected, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.Store.SaveBatch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Batch, error) {
	return s.Store.GetBatch(ctx, id)
}

func (s *Service) List(ctx context.Context, filter BatchFilter) ([]*Batch, error) {
	return s.Store.ListBatches(ctx, filter)
}

func (s *Service) Entries(ctx context.Context, id string) ([]CountEntry, error) {
	if _, err := s.Store.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.ListEntries(ctx, id)
}

// Next returns the record to present after from, without changing anything.
// A nil from uses the batch's current index. A from outside the batch is
// ErrItemOutOfRange.
func (s *Service) Next(ctx context.Context, id string, from *int) (*Batch, int, bool, error) {
	b, err := s.Store.GetBatch(ctx, id)
	if err != nil {
		return nil, 0, false, err
	}
	current := b.CurrentIndex
	if from != nil {
		if *from < 0 || *from >= len(b.Items) {
			return nil, 0, false, ErrItemOutOfRange
		}
		current = *from
	}
	i, ok := PickNextItem(b.Items, current)
	return b, i, ok, nil
}

// =============================================================================
// COUNT SESSION
// =============================================================================

// Count records a count and appends it to the entry log.
func (s *Service) Count(ctx context.Context, id string, index int, in CountInput, idempotencyKey string) (*Batch, CountEntry, error) {
	var entry CountEntry
	b, err := s.mutate(ctx, id, func(tx Store, b *Batch, now time.Time) error {
		e, err := b.RecordCount(index, in, now)
		if err != nil {
			return err
		}
		entry = s.stamp(e, idempotencyKey)
		return tx.AppendEntry(ctx, entry)
	})
	return b, entry, err
}

// Skip marks an item skipped and appends it to the entry log.
func (s *Service) Skip(ctx context.Context, id string, index int, reason, actor, idempotencyKey string) (*Batch, CountEntry, error) {
	var entry CountEntry
	b, err := s.mutate(ctx, id, func(tx Store, b *Batch, now time.Time) error {
		e, err := b.Skip(index, reason, actor, now)
		if err != nil {
			return err
		}
		entry = s.stamp(e, idempotencyKey)
		return tx.AppendEntry(ctx, entry)
	})
	return b, entry, err
}

func (s *Service) stamp(e CountEntry, key string) CountEntry {
	e.ID = uuid.NewString()
	e.IdempotencyKey = key
	return e
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func (s *Service) Start(ctx context.Context, id string) (*Batch, error) {
	return s.mutate(ctx, id, func(_ Store, b *Batch, now time.Time) error { return b.Start(now) })
}

func (s *Service) Hold(ctx context.Context, id string) (*Batch, error) {
	return s.mutate(ctx, id, func(_ Store, b *Batch, now time.Time) error { return b.Hold(now) })
}

func (s *Service) Resume(ctx context.Context, id string) (*Batch, error) {
	return s.mutate(ctx, id, func(_ Store, b *Batch, now time.Time) error { return b.Resume(now) })
}

// Complete closes the batch. The warning lists items left pending.
func (s *Service) Complete(ctx context.Context, id string) (*Batch, CompletionWarning, error) {
	var warn CompletionWarning
	b, err := s.mutate(ctx, id, func(_ Store, b *Batch, now time.Time) error {
		w, err := b.Complete(now)
		warn = w
		return err
	})
	return b, warn, err
}

func (s *Service) Cancel(ctx context.Context, id, reason string) (*Batch, error) {
	return s.mutate(ctx, id, func(_ Store, b *Batch, now time.Time) error { return b.Cancel(reason, now) })
}

// mutate loads, changes and saves a batch in one transaction.
func (s *Service) mutate(ctx context.Context, id string, fn func(tx Store, b *Batch, now time.Time) error) (*Batch, error) {
	var out *Batch
	err := s.Store.WithTx(ctx, func(tx Store) error {
		b, err := tx.GetBatch(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, b, s.now()); err != nil {
			return err
		}
		if err := tx.SaveBatch(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
