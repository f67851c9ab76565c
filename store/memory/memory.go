// Package memory provides an in-memory store (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/ops-engine/abac"
	"github.com/warp/ops-engine/counting"
)

// decisionLogCap bounds the in-memory audit trail. When exceeded, the
// oldest half is dropped.
const decisionLogCap = 10000

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements counting.TxStore, abac.PolicyStore and abac.DecisionLog.
type Memory struct {
	mu        sync.RWMutex
	batches   map[string]*counting.Batch
	entries   map[string][]counting.CountEntry
	entryKeys map[entryKey]bool
	policies  map[string]abac.Policy
	decisions []abac.DecisionRecord
}

func New() *Memory {
	return &Memory{
		batches:   make(map[string]*counting.Batch),
		entries:   make(map[string][]counting.CountEntry),
		entryKeys: make(map[entryKey]bool),
		policies:  make(map[string]abac.Policy),
	}
}

// Stored batches are copies; callers never share Items with the store.
func clone(b *counting.Batch) *counting.Batch {
	c := *b
	c.Items = append([]counting.CountRecord(nil), b.Items...)
	return &c
}

// =============================================================================
// BATCHES (counting.BatchStore)
// =============================================================================

func (m *Memory) SaveBatch(_ context.Context, b *counting.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveBatchLocked(b)
	return nil
}

func (m *Memory) saveBatchLocked(b *counting.Batch) {
	m.batches[b.ID] = clone(b)
}

func (m *Memory) GetBatch(_ context.Context, id string) (*counting.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBatchLocked(id)
}

func (m *Memory) getBatchLocked(id string) (*counting.Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, counting.ErrBatchNotFound
	}
	return clone(b), nil
}

// ListBatches returns matching batches, newest first.
func (m *Memory) ListBatches(_ context.Context, filter counting.BatchFilter) ([]*counting.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBatchesLocked(filter), nil
}

func (m *Memory) listBatchesLocked(filter counting.BatchFilter) []*counting.Batch {
	result := make([]*counting.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		if filter.Matches(b) {
			result = append(result, clone(b))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// =============================================================================
// ENTRY LOG (counting.EntryLog) - Append-only
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e counting.CountEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

// entryKey scopes an idempotency key to its batch.
type entryKey struct {
	batchID string
	key     string
}

func (m *Memory) appendEntryLocked(e counting.CountEntry) error {
	k := entryKey{batchID: e.BatchID, key: e.IdempotencyKey}
	if e.IdempotencyKey != "" && m.entryKeys[k] {
		return counting.ErrDuplicateEntry
	}
	m.entries[e.BatchID] = append(m.entries[e.BatchID], e)
	if e.IdempotencyKey != "" {
		m.entryKeys[k] = true
	}
	return nil
}

// ListEntries returns a batch's entries in the order they were appended.
func (m *Memory) ListEntries(_ context.Context, batchID string) ([]counting.CountEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEntriesLocked(batchID), nil
}

func (m *Memory) listEntriesLocked(batchID string) []counting.CountEntry {
	result := make([]counting.CountEntry, len(m.entries[batchID]))
	copy(result, m.entries[batchID])
	return result
}

// =============================================================================
// TRANSACTIONS (counting.TxStore)
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(counting.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	batches   map[string]*counting.Batch
	entries   map[string][]counting.CountEntry
	entryKeys map[entryKey]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		batches:   make(map[string]*counting.Batch, len(m.batches)),
		entries:   make(map[string][]counting.CountEntry, len(m.entries)),
		entryKeys: make(map[entryKey]bool, len(m.entryKeys)),
	}
	for k, v := range m.batches {
		s.batches[k] = v
	}
	for k, v := range m.entries {
		s.entries[k] = append([]counting.CountEntry(nil), v...)
	}
	for k, v := range m.entryKeys {
		s.entryKeys[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.batches = s.batches
	m.entries = s.entries
	m.entryKeys = s.entryKeys
}

// txView runs against the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (v *txView) SaveBatch(_ context.Context, b *counting.Batch) error {
	v.parent.saveBatchLocked(b)
	return nil
}

func (v *txView) GetBatch(_ context.Context, id string) (*counting.Batch, error) {
	return v.parent.getBatchLocked(id)
}

func (v *txView) ListBatches(_ context.Context, filter counting.BatchFilter) ([]*counting.Batch, error) {
	return v.parent.listBatchesLocked(filter), nil
}

func (v *txView) AppendEntry(_ context.Context, e counting.CountEntry) error {
	return v.parent.appendEntryLocked(e)
}

func (v *txView) ListEntries(_ context.Context, batchID string) ([]counting.CountEntry, error) {
	return v.parent.listEntriesLocked(batchID), nil
}

// =============================================================================
// POLICIES (abac.PolicyStore)
// =============================================================================

func (m *Memory) SavePolicy(_ context.Context, p abac.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.policies[p.ID]; ok && p.CreatedAt.IsZero() {
		p.CreatedAt = prev.CreatedAt
	}
	m.policies[p.ID] = p
	return nil
}

func (m *Memory) GetPolicy(_ context.Context, id string) (abac.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return abac.Policy{}, abac.ErrPolicyNotFound
	}
	return p, nil
}

func (m *Memory) ListPolicies(_ context.Context) ([]abac.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]abac.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[id]; !ok {
		return abac.ErrPolicyNotFound
	}
	delete(m.policies, id)
	return nil
}

// =============================================================================
// DECISIONS (abac.DecisionLog) - Append-only
// =============================================================================

func (m *Memory) AppendDecision(_ context.Context, d abac.DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	if len(m.decisions) > decisionLogCap {
		m.decisions = append([]abac.DecisionRecord(nil), m.decisions[len(m.decisions)-decisionLogCap/2:]...)
	}
	return nil
}

func (m *Memory) RecentDecisions(_ context.Context, limit int) ([]abac.DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.decisions)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]abac.DecisionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		result = append(result, m.decisions[i])
	}
	return result, nil
}

func (m *Memory) DecisionStats(_ context.Context) (abac.DecisionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st abac.DecisionStats
	var total int64
	for _, d := range m.decisions {
		st.Total++
		switch d.FinalEffect {
		case abac.EffectPermit:
			st.Permits++
		case abac.EffectDeny:
			st.Denies++
		}
		total += int64(d.Duration)
	}
	if st.Total > 0 {
		st.AverageDuration = time.Duration(total / int64(st.Total))
	}
	return st, nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = make(map[string]*counting.Batch)
	m.entries = make(map[string][]counting.CountEntry)
	m.entryKeys = make(map[entryKey]bool)
	m.policies = make(map[string]abac.Policy)
	m.decisions = nil
	return nil
}
