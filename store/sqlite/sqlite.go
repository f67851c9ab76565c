/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the counting and abac persistence interfaces using SQLite.
  The same schema ports to PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  counting.TxStore:  Batches + count entry ledger, with transactions
  abac.PolicyStore:  Policy definitions (versioned)
  abac.DecisionLog:  Evaluation audit trail

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on count_entries
  - No UPDATE or DELETE statements on decisions (except Reset)
  - A re-count is a new entry; the batch row carries the latest state

KEY TABLES:
  batches:       One row per spot check; items live in data_json
  count_entries: Immutable ledger of every count and skip
  policies:      Policy definitions as factory JSON (versioned)
  decisions:     Evaluation audit trail

INDEXES:
  - idx_count_entries_idempotency: Rejects a retried count
  - idx_count_entries_batch: Entry history per batch
  - idx_batches_status: Listing by status

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock and
  every read inside fn goes through the sql.Tx.

USAGE:
  store, err := sqlite.New("./data/ops.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := counting.NewService(store, fixtures)

SEE ALSO:
  - counting/store.go: Batch and entry interfaces
  - abac/store.go: Policy and decision interfaces
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/ops-engine/abac"
	"github.com/warp/ops-engine/counting"
	"github.com/warp/ops-engine/factory"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	policies *factory.PolicyFactory
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every new connection would open a fresh empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, policies: factory.NewPolicyFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Spot checks. Items and aggregates are kept in data_json;
	-- the columns exist for filtering.
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		status TEXT NOT NULL,
		check_type TEXT NOT NULL,
		location_id TEXT NOT NULL,
		assigned_to TEXT NOT NULL,
		due_date TEXT,
		data_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
	CREATE INDEX IF NOT EXISTS idx_batches_location ON batches(location_id);

	-- Count entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS count_entries (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		record_id TEXT NOT NULL,
		item_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		quantity TEXT NOT NULL,
		condition TEXT NOT NULL,
		variance TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		actor TEXT,
		at TEXT NOT NULL,
		idempotency_key TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_count_entries_batch
		ON count_entries(batch_id);
	DROP INDEX IF EXISTS idx_count_entries_idempotency;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_count_entries_batch_idempotency
		ON count_entries(batch_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Policies (versioned)
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		effect TEXT NOT NULL,
		priority INTEGER NOT NULL,
		enabled INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Decisions (append-only audit trail)
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		action TEXT,
		subject_id TEXT,
		resource_id TEXT,
		final_effect TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		deciding_policy TEXT,
		reason TEXT,
		policies_run INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_at ON decisions(at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BATCHES (counting.BatchStore)
// =============================================================================

// SaveBatch inserts or replaces a batch.
func (s *Store) SaveBatch(ctx context.Context, b *counting.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveBatch(ctx, s.db, b)
}

func (s *Store) saveBatch(ctx context.Context, db querier, b *counting.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	var due sql.NullString
	if b.DueDate != nil {
		due = nullString(formatTime(*b.DueDate))
	}

	query := `
		INSERT INTO batches
		(id, reference, status, check_type, location_id, assigned_to, due_date, data_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reference = excluded.reference,
			status = excluded.status,
			check_type = excluded.check_type,
			location_id = excluded.location_id,
			assigned_to = excluded.assigned_to,
			due_date = excluded.due_date,
			data_json = excluded.data_json,
			updated_at = excluded.updated_at
	`

	_, err = db.ExecContext(ctx, query,
		b.ID, b.Reference, b.Status, b.CheckType, b.LocationID, b.AssignedTo,
		due, string(data), formatTime(b.CreatedAt), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, id string) (*counting.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getBatch(ctx, s.db, id)
}

func (s *Store) getBatch(ctx context.Context, db querier, id string) (*counting.Batch, error) {
	var data string
	err := db.QueryRowContext(ctx, "SELECT data_json FROM batches WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, counting.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeBatch(data)
}

// ListBatches returns matching batches, newest first.
func (s *Store) ListBatches(ctx context.Context, filter counting.BatchFilter) ([]*counting.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listBatches(ctx, s.db, filter)
}

func (s *Store) listBatches(ctx context.Context, db querier, filter counting.BatchFilter) ([]*counting.Batch, error) {
	var where []string
	var args []any
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.LocationID != "" {
		where = append(where, "location_id = ?")
		args = append(args, filter.LocationID)
	}
	if filter.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}

	query := "SELECT data_json FROM batches"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*counting.Batch
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		b, err := decodeBatch(data)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func decodeBatch(data string) (*counting.Batch, error) {
	var b counting.Batch
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return &b, nil
}

// =============================================================================
// COUNT ENTRIES (counting.EntryLog) - Append-only
// =============================================================================

// AppendEntry adds an entry to the ledger.
func (s *Store) AppendEntry(ctx context.Context, e counting.CountEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendEntry(ctx, s.db, e)
}

func (s *Store) appendEntry(ctx context.Context, db querier, e counting.CountEntry) error {
	query := `
		INSERT INTO count_entries
		(id, batch_id, record_id, item_index, kind, quantity, condition, variance,
		 status, notes, actor, at, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.BatchID,
		e.RecordID,
		e.ItemIndex,
		e.Kind,
		e.Quantity.String(),
		e.Condition,
		e.Variance.String(),
		e.Status,
		e.Notes,
		e.Actor,
		formatTime(e.At),
		nullString(e.IdempotencyKey),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return counting.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to append count entry: %w", err)
	}
	return nil
}

// ListEntries returns a batch's entries in the order they were appended.
func (s *Store) ListEntries(ctx context.Context, batchID string) ([]counting.CountEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listEntries(ctx, s.db, batchID)
}

func (s *Store) listEntries(ctx context.Context, db querier, batchID string) ([]counting.CountEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, batch_id, record_id, item_index, kind, quantity, condition, variance,
		       status, notes, actor, at, idempotency_key
		FROM count_entries WHERE batch_id = ? ORDER BY rowid`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []counting.CountEntry{}
	for rows.Next() {
		var e counting.CountEntry
		var quantity, variance, at string
		var notes, actor, key sql.NullString
		if err := rows.Scan(&e.ID, &e.BatchID, &e.RecordID, &e.ItemIndex, &e.Kind,
			&quantity, &e.Condition, &variance, &e.Status, &notes, &actor, &at, &key); err != nil {
			return nil, err
		}
		e.Quantity = parseDecimal(quantity)
		e.Variance = parseDecimal(variance)
		e.Notes = notes.String
		e.Actor = actor.String
		e.IdempotencyKey = key.String
		e.At = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (counting.TxStore)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store counting.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) SaveBatch(ctx context.Context, b *counting.Batch) error {
	return ts.parent.saveBatch(ctx, ts.tx, b)
}

func (ts *txStore) GetBatch(ctx context.Context, id string) (*counting.Batch, error) {
	return ts.parent.getBatch(ctx, ts.tx, id)
}

func (ts *txStore) ListBatches(ctx context.Context, filter counting.BatchFilter) ([]*counting.Batch, error) {
	return ts.parent.listBatches(ctx, ts.tx, filter)
}

func (ts *txStore) AppendEntry(ctx context.Context, e counting.CountEntry) error {
	return ts.parent.appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) ListEntries(ctx context.Context, batchID string) ([]counting.CountEntry, error) {
	return ts.parent.listEntries(ctx, ts.tx, batchID)
}

// =============================================================================
// POLICY STORE (abac.PolicyStore)
// =============================================================================

// SavePolicy inserts a policy or replaces it and bumps its version.
func (s *Store) SavePolicy(ctx context.Context, p abac.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	config, err := s.policies.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	query := `
		INSERT INTO policies (id, name, effect, priority, enabled, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			effect = excluded.effect,
			priority = excluded.priority,
			enabled = excluded.enabled,
			config_json = excluded.config_json,
			version = policies.version + 1,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Effect, p.Priority, p.Enabled, string(config),
		formatTime(created), formatTime(now),
	)
	return err
}

// GetPolicy retrieves a policy by ID.
func (s *Store) GetPolicy(ctx context.Context, id string) (abac.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT config_json, created_at, updated_at FROM policies WHERE id = ?", id)
	p, err := s.scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return abac.Policy{}, abac.ErrPolicyNotFound
	}
	return p, err
}

// ListPolicies returns all policies in ID order.
func (s *Store) ListPolicies(ctx context.Context) ([]abac.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT config_json, created_at, updated_at FROM policies ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policies := []abac.Policy{}
	for rows.Next() {
		p, err := s.scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPolicy(row scanner) (abac.Policy, error) {
	var config, createdAt, updatedAt string
	if err := row.Scan(&config, &createdAt, &updatedAt); err != nil {
		return abac.Policy{}, err
	}
	p, err := s.policies.ParsePolicy(config)
	if err != nil {
		return abac.Policy{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// DeletePolicy removes a policy.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM policies WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return abac.ErrPolicyNotFound
	}
	return nil
}

// =============================================================================
// DECISION LOG (abac.DecisionLog) - Append-only
// =============================================================================

// AppendDecision records one evaluation.
func (s *Store) AppendDecision(ctx context.Context, d abac.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO decisions
		(id, at, action, subject_id, resource_id, final_effect, algorithm,
		 deciding_policy, reason, policies_run, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID, formatTime(d.At), d.Action, d.SubjectID, d.ResourceID,
		d.FinalEffect, d.Algorithm, d.DecidingPolicy, d.Reason,
		d.PoliciesRun, int64(d.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
// A limit <= 0 returns everything.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]abac.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, action, subject_id, resource_id, final_effect, algorithm,
		       deciding_policy, reason, policies_run, duration_ns
		FROM decisions ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decisions := []abac.DecisionRecord{}
	for rows.Next() {
		var d abac.DecisionRecord
		var at string
		var action, subject, resource, deciding, reason sql.NullString
		var duration int64
		if err := rows.Scan(&d.ID, &at, &action, &subject, &resource, &d.FinalEffect,
			&d.Algorithm, &deciding, &reason, &d.PoliciesRun, &duration); err != nil {
			return nil, err
		}
		d.At = parseTime(at)
		d.Action = action.String
		d.SubjectID = subject.String
		d.ResourceID = resource.String
		d.DecidingPolicy = deciding.String
		d.Reason = reason.String
		d.Duration = time.Duration(duration)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// DecisionStats counts permits and denies over the whole log.
func (s *Store) DecisionStats(ctx context.Context) (abac.DecisionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st abac.DecisionStats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN final_effect = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN final_effect = ? THEN 1 ELSE 0 END), 0),
		       AVG(duration_ns)
		FROM decisions`, abac.EffectPermit, abac.EffectDeny,
	).Scan(&st.Total, &st.Permits, &st.Denies, &avg)
	if err != nil {
		return abac.DecisionStats{}, err
	}
	if avg.Valid {
		st.AverageDuration = time.Duration(avg.Float64)
	}
	return st, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"count_entries", "batches", "policies", "decisions"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
