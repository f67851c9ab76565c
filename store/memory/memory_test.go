package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ops-engine/abac"
	"github.com/warp/ops-engine/counting"
)

var ctx = context.Background()

func batch(id string, created time.Time) *counting.Batch {
	return &counting.Batch{
		ID:         id,
		Status:     counting.BatchPending,
		LocationID: "wh-main",
		CreatedAt:  created,
		Items: []counting.CountRecord{
			{ID: id + "-001", SystemQuantity: decimal.NewFromInt(10), Status: counting.ItemPending},
		},
	}
}

func TestMemory_BatchesAreCopies(t *testing.T) {
	m := New()
	b := batch("b1", time.Now())
	require.NoError(t, m.SaveBatch(ctx, b))

	// Mutating the caller's copy doesn't reach the store
	b.Items[0].Status = counting.ItemCounted
	got, err := m.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, counting.ItemPending, got.Items[0].Status)

	_, err = m.GetBatch(ctx, "missing")
	assert.ErrorIs(t, err, counting.ErrBatchNotFound)
}

func TestMemory_ListBatchesNewestFirst(t *testing.T) {
	m := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveBatch(ctx, batch("old", base)))
	require.NoError(t, m.SaveBatch(ctx, batch("new", base.Add(time.Hour))))
	done := batch("done", base.Add(2*time.Hour))
	done.Status = counting.BatchCompleted
	require.NoError(t, m.SaveBatch(ctx, done))

	all, err := m.ListBatches(ctx, counting.BatchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "done", all[0].ID)

	pending := counting.BatchPending
	open, err := m.ListBatches(ctx, counting.BatchFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "new", open[0].ID)
}

func TestMemory_EntryIdempotency(t *testing.T) {
	m := New()
	e := counting.CountEntry{ID: "e1", BatchID: "b1", IdempotencyKey: "k1"}
	require.NoError(t, m.AppendEntry(ctx, e))

	e.ID = "e2"
	assert.ErrorIs(t, m.AppendEntry(ctx, e), counting.ErrDuplicateEntry)

	// keys are scoped to their batch
	require.NoError(t, m.AppendEntry(ctx, counting.CountEntry{ID: "e5", BatchID: "b2", IdempotencyKey: "k1"}))

	// entries without a key are never deduplicated
	require.NoError(t, m.AppendEntry(ctx, counting.CountEntry{ID: "e3", BatchID: "b1"}))
	require.NoError(t, m.AppendEntry(ctx, counting.CountEntry{ID: "e4", BatchID: "b1"}))

	entries, err := m.ListEntries(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e1", entries[0].ID)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	// GIVEN: A stored batch
	m := New()
	require.NoError(t, m.SaveBatch(ctx, batch("b1", time.Now())))

	// WHEN: A transaction writes and then fails
	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx counting.Store) error {
		b, err := tx.GetBatch(ctx, "b1")
		require.NoError(t, err)
		b.Status = counting.BatchInProgress
		require.NoError(t, tx.SaveBatch(ctx, b))
		require.NoError(t, tx.AppendEntry(ctx, counting.CountEntry{ID: "e1", BatchID: "b1", IdempotencyKey: "k"}))
		return boom
	})

	// THEN: Nothing it wrote is kept
	assert.ErrorIs(t, err, boom)
	got, _ := m.GetBatch(ctx, "b1")
	assert.Equal(t, counting.BatchPending, got.Status)
	entries, _ := m.ListEntries(ctx, "b1")
	assert.Empty(t, entries)
	require.NoError(t, m.AppendEntry(ctx, counting.CountEntry{ID: "e1", BatchID: "b1", IdempotencyKey: "k"}))
}

func TestMemory_Policies(t *testing.T) {
	m := New()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.SavePolicy(ctx, abac.Policy{ID: "b", Name: "B", CreatedAt: created}))
	require.NoError(t, m.SavePolicy(ctx, abac.Policy{ID: "a", Name: "A"}))
	require.NoError(t, m.SavePolicy(ctx, abac.Policy{ID: "b", Name: "B2"}))

	got, err := m.GetPolicy(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "B2", got.Name)
	assert.Equal(t, created, got.CreatedAt)

	list, err := m.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	require.NoError(t, m.DeletePolicy(ctx, "a"))
	assert.ErrorIs(t, m.DeletePolicy(ctx, "a"), abac.ErrPolicyNotFound)
	_, err = m.GetPolicy(ctx, "a")
	assert.True(t, abac.IsNotFound(err))
}

func TestMemory_Decisions(t *testing.T) {
	m := New()
	for i, eff := range []abac.Effect{abac.EffectPermit, abac.EffectDeny, abac.EffectDeny} {
		require.NoError(t, m.AppendDecision(ctx, abac.DecisionRecord{
			ID:          string(rune('a' + i)),
			FinalEffect: eff,
			Duration:    time.Duration(i+1) * time.Millisecond,
		}))
	}

	recent, err := m.RecentDecisions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)

	st, err := m.DecisionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, abac.DecisionStats{Total: 3, Permits: 1, Denies: 2, AverageDuration: 2 * time.Millisecond}, st)
}
