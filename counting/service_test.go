package counting_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ops-engine/counting"
	"github.com/warp/ops-engine/store/memory"
)

type staticProducts []counting.Product

func (p staticProducts) ListProducts(context.Context) ([]counting.Product, error) {
	return p, nil
}

func newService(t *testing.T) (*counting.Service, *memory.Memory) {
	t.Helper()
	store := memory.New()
	svc := counting.NewService(store, staticProducts(catalog()))
	svc.Now = func() time.Time { return t0 }
	svc.Seed(1)
	return svc, store
}

func TestService_CreateSelectsAndStores(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	in := validInput()
	in.Selection = counting.SelectionCriteria{Method: counting.SelectCategory, Category: "grains"}
	b, err := svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Len(t, b.Items, 2)

	stored, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Reference, stored.Reference)

	in.ID = "batch-2"
	in.Selection = counting.SelectionCriteria{Method: counting.SelectCategory, Category: "frozen"}
	_, err = svc.Create(ctx, in)
	assert.ErrorIs(t, err, counting.ErrNoItemsSelected)
}

func TestService_CountWritesBatchAndEntry(t *testing.T) {
	// GIVEN: A stored batch
	svc, _ := newService(t)
	ctx := context.Background()
	b, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	// WHEN: An item is counted, then skipped, then recounted
	_, _, err = svc.Count(ctx, b.ID, 0, counting.CountInput{Quantity: dec("3")}, "k-1")
	require.NoError(t, err)
	_, _, err = svc.Skip(ctx, b.ID, 0, "blocked", "amina", "k-2")
	require.NoError(t, err)
	got, entry, err := svc.Count(ctx, b.ID, 0, counting.CountInput{Quantity: dec("4")}, "k-3")
	require.NoError(t, err)

	// THEN: The batch holds the last count, the log holds all three
	assert.Equal(t, counting.BatchInProgress, got.Status)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "k-3", entry.IdempotencyKey)

	entries, err := svc.Entries(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, counting.EntryCount, entries[0].Kind)
	assert.Equal(t, counting.EntrySkip, entries[1].Kind)
	assert.True(t, entries[2].Quantity.Equal(dec("4")))
}

func TestService_DuplicateKeyLeavesBatchUntouched(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	b, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	_, _, err = svc.Count(ctx, b.ID, 0, counting.CountInput{Quantity: dec("100")}, "same")
	require.NoError(t, err)

	// a retried request with a different quantity is rejected
	_, _, err = svc.Count(ctx, b.ID, 1, counting.CountInput{Quantity: dec("1")}, "same")
	assert.ErrorIs(t, err, counting.ErrDuplicateEntry)
	assert.True(t, counting.IsConflict(err))

	stored, _ := store.GetBatch(ctx, b.ID)
	assert.Equal(t, counting.ItemPending, stored.Items[1].Status)
	assert.Equal(t, 1, stored.Aggregates.CountedItems)
}

func TestService_InvalidQuantityNoWrite(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	b, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	_, _, err = svc.Count(ctx, b.ID, 0, counting.CountInput{Quantity: dec("-1")}, "")
	assert.ErrorIs(t, err, counting.ErrInvalidQuantity)

	stored, _ := store.GetBatch(ctx, b.ID)
	assert.Equal(t, counting.BatchPending, stored.Status)
	entries, _ := store.ListEntries(ctx, b.ID)
	assert.Empty(t, entries)
}

func TestService_Lifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	b, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = svc.Start(ctx, b.ID)
	require.NoError(t, err)
	_, err = svc.Hold(ctx, b.ID)
	require.NoError(t, err)
	_, _, err = svc.Complete(ctx, b.ID)
	assert.ErrorIs(t, err, counting.ErrInvalidTransition)

	_, err = svc.Resume(ctx, b.ID)
	require.NoError(t, err)
	_, _, err = svc.Count(ctx, b.ID, 2, counting.CountInput{Quantity: dec("0")}, "")
	require.NoError(t, err)

	from := 2
	_, next, ok, err := svc.Next(ctx, b.ID, &from)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, next)

	for _, bad := range []int{-1, -5, len(b.Items)} {
		_, _, _, err = svc.Next(ctx, b.ID, &bad)
		assert.ErrorIs(t, err, counting.ErrItemOutOfRange, "from %d", bad)
	}

	done, warn, err := svc.Complete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, counting.BatchCompleted, done.Status)
	assert.Equal(t, 3, warn.PendingItems)

	_, err = svc.Cancel(ctx, b.ID, "too late")
	assert.ErrorIs(t, err, counting.ErrBatchClosed)

	_, err = svc.Start(ctx, "nope")
	assert.ErrorIs(t, err, counting.ErrBatchNotFound)
}
