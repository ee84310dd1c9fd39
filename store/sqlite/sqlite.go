/*
Package sqlite provides a SQLite-backed implementation of payroll.TxStore.

PURPOSE:
  Persists payroll records and the audit ledger. In production the same
  patterns apply to PostgreSQL with minor SQL dialect differences.

KEY TABLES:
  payroll_records: One row per record. The full record is kept as JSON;
                   key, status and reference columns exist for filtering
                   and constraints.
  audit_entries:   Append-only ledger of finalize/overwrite events with the
                   snapshot and diff as JSON. seq is the total order.

CONSTRAINTS:
  - idx_unique_finalized_record: at most one finalized record per
    (employee, region, period_start, period_end). A second insert is
    reported as payroll.ErrConcurrentFinalization.
  - audit_entries_no_update / audit_entries_no_delete triggers: the ledger
    refuses UPDATE and DELETE at the database level.

STORAGE FORMATS:
  Decimals are TEXT via decimal.String, dates are YYYY-MM-DD so they compare
  lexicographically, timestamps are RFC3339.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and opens with WAL. WithTx holds the
  write lock for the whole callback, and every read inside the callback
  goes through the same *sql.Tx.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  svc := payroll.NewRecordService(store, rules, logger)

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
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
	"github.com/warp/payroll-engine/payroll"
)

// Store implements payroll.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
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

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS payroll_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		region TEXT NOT NULL,
		frequency TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		gross TEXT NOT NULL,
		net_pay TEXT NOT NULL,
		journal_ref TEXT,
		record_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One authoritative record per key
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_finalized_record
		ON payroll_records(employee_id, region, period_start, period_end)
		WHERE status = 'finalized';

	CREATE INDEX IF NOT EXISTS idx_records_employee_period
		ON payroll_records(employee_id, period_start);
	CREATE INDEX IF NOT EXISTS idx_records_status
		ON payroll_records(status);

	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		record_id TEXT NOT NULL,
		previous_record_id TEXT,
		employee_id TEXT NOT NULL,
		region TEXT NOT NULL,
		frequency TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		diff_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_employee
		ON audit_entries(employee_id, seq);
	CREATE INDEX IF NOT EXISTS idx_audit_period
		ON audit_entries(period_start, period_end);

	CREATE TRIGGER IF NOT EXISTS audit_entries_no_update
		BEFORE UPDATE ON audit_entries
	BEGIN
		SELECT RAISE(ABORT, 'audit entries are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete
		BEFORE DELETE ON audit_entries
	BEGIN
		SELECT RAISE(ABORT, 'audit entries are append-only');
	END;
	`
	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE (payroll.Store interface)
// =============================================================================

func (s *Store) SaveRecord(ctx context.Context, rec payroll.PayrollRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRecord(ctx, s.db, rec)
}

func (s *Store) GetRecord(ctx context.Context, id payroll.RecordID) (payroll.PayrollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRecord(ctx, s.db, id)
}

func (s *Store) FinalizedFor(ctx context.Context, key payroll.RecordKey) (*payroll.PayrollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return finalizedFor(ctx, s.db, key)
}

func (s *Store) MarkSuperseded(ctx context.Context, id, by payroll.RecordID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markSuperseded(ctx, s.db, id, by, at)
}

func (s *Store) ListRecords(ctx context.Context, filter payroll.RecordFilter) ([]payroll.PayrollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRecords(ctx, s.db, filter)
}

func (s *Store) SetJournalRef(ctx context.Context, id payroll.RecordID, ref string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setJournalRef(ctx, s.db, id, ref, at)
}

func (s *Store) AppendAudit(ctx context.Context, entry payroll.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func (s *Store) ListAudit(ctx context.Context, filter payroll.AuditFilter, offset, limit int) ([]payroll.AuditEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAudit(ctx, s.db, filter, offset, limit)
}

func (s *Store) GetAudit(ctx context.Context, id string) (payroll.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAudit(ctx, s.db, id)
}

// =============================================================================
// TRANSACTIONAL STORE (payroll.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveRecord(ctx context.Context, rec payroll.PayrollRecord) error {
	return saveRecord(ctx, ts.tx, rec)
}

func (ts *txStore) GetRecord(ctx context.Context, id payroll.RecordID) (payroll.PayrollRecord, error) {
	return getRecord(ctx, ts.tx, id)
}

func (ts *txStore) FinalizedFor(ctx context.Context, key payroll.RecordKey) (*payroll.PayrollRecord, error) {
	return finalizedFor(ctx, ts.tx, key)
}

func (ts *txStore) MarkSuperseded(ctx context.Context, id, by payroll.RecordID, at time.Time) error {
	return markSuperseded(ctx, ts.tx, id, by, at)
}

func (ts *txStore) ListRecords(ctx context.Context, filter payroll.RecordFilter) ([]payroll.PayrollRecord, error) {
	return listRecords(ctx, ts.tx, filter)
}

func (ts *txStore) SetJournalRef(ctx context.Context, id payroll.RecordID, ref string, at time.Time) error {
	return setJournalRef(ctx, ts.tx, id, ref, at)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry payroll.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

func (ts *txStore) ListAudit(ctx context.Context, filter payroll.AuditFilter, offset, limit int) ([]payroll.AuditEntry, int, error) {
	return listAudit(ctx, ts.tx, filter, offset, limit)
}

func (ts *txStore) GetAudit(ctx context.Context, id string) (payroll.AuditEntry, error) {
	return getAudit(ctx, ts.tx, id)
}

// =============================================================================
// RECORDS
// =============================================================================

const recordColumns = `record_json`

func saveRecord(ctx context.Context, q queryer, rec payroll.PayrollRecord) error {
	if rec.ID == "" {
		return &payroll.InputError{Field: "id", Reason: "required"}
	}
	var status string
	err := q.QueryRowContext(ctx, "SELECT status FROM payroll_records WHERE id = ?", rec.ID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return insertRecord(ctx, q, rec)
	case err != nil:
		return fmt.Errorf("failed to load record status: %w", err)
	}
	if st := payroll.Status(status); !st.Mutable() {
		return &payroll.StateError{RecordID: rec.ID, Status: st, Op: "save"}
	}
	return updateRecord(ctx, q, rec)
}

func insertRecord(ctx context.Context, q queryer, rec payroll.PayrollRecord) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	query := `
		INSERT INTO payroll_records
		(id, employee_id, region, frequency, period_start, period_end, status,
		 content_hash, gross, net_pay, journal_ref, record_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		rec.ID,
		rec.EmployeeID,
		rec.Region,
		rec.Period.Frequency,
		rec.Period.Start.Format(payroll.DateLayout),
		rec.Period.End.Format(payroll.DateLayout),
		rec.Status,
		rec.ContentHash,
		rec.Earnings.Gross.String(),
		rec.NetPay.String(),
		nullString(rec.JournalRef),
		string(recordJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", payroll.ErrConcurrentFinalization, rec.Key())
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// updateRecord rewrites the mutable columns. Key columns never change.
func updateRecord(ctx context.Context, q queryer, rec payroll.PayrollRecord) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	query := `
		UPDATE payroll_records
		SET status = ?, content_hash = ?, gross = ?, net_pay = ?, journal_ref = ?,
		    record_json = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = q.ExecContext(ctx, query,
		rec.Status,
		rec.ContentHash,
		rec.Earnings.Gross.String(),
		rec.NetPay.String(),
		nullString(rec.JournalRef),
		string(recordJSON),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
		rec.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", payroll.ErrConcurrentFinalization, rec.Key())
		}
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

func getRecord(ctx context.Context, q queryer, id payroll.RecordID) (payroll.PayrollRecord, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM payroll_records WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.PayrollRecord{}, fmt.Errorf("%w: record %s", payroll.ErrRecordNotFound, id)
	}
	if err != nil {
		return payroll.PayrollRecord{}, fmt.Errorf("failed to load record: %w", err)
	}
	return decodeRecord(raw)
}

func finalizedFor(ctx context.Context, q queryer, key payroll.RecordKey) (*payroll.PayrollRecord, error) {
	query := `
		SELECT ` + recordColumns + ` FROM payroll_records
		WHERE employee_id = ? AND region = ? AND period_start = ? AND period_end = ?
		  AND status = 'finalized'
	`
	var raw string
	err := q.QueryRowContext(ctx, query,
		key.EmployeeID, key.Region,
		key.Start.Format(payroll.DateLayout), key.End.Format(payroll.DateLayout),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load finalized record: %w", err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func markSuperseded(ctx context.Context, q queryer, id, by payroll.RecordID, at time.Time) error {
	rec, err := getRecord(ctx, q, id)
	if err != nil {
		return err
	}
	if rec.Status != payroll.StatusFinalized {
		return fmt.Errorf("%w: record %s is %s", payroll.ErrConcurrentFinalization, id, rec.Status)
	}
	rec.Status = payroll.StatusSuperseded
	rec.SupersededBy = by
	rec.SupersededAt = &at
	rec.UpdatedAt = at
	return updateRecord(ctx, q, rec)
}

func setJournalRef(ctx context.Context, q queryer, id payroll.RecordID, ref string, at time.Time) error {
	rec, err := getRecord(ctx, q, id)
	if err != nil {
		return err
	}
	if rec.Status != payroll.StatusFinalized && rec.Status != payroll.StatusSuperseded {
		return &payroll.StateError{RecordID: id, Status: rec.Status, Op: "attach journal reference"}
	}
	rec.JournalRef = ref
	rec.SyncedAt = &at
	return updateRecord(ctx, q, rec)
}

func listRecords(ctx context.Context, q queryer, filter payroll.RecordFilter) ([]payroll.PayrollRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != nil {
		where = append(where, "employee_id = ?")
		args = append(args, *filter.EmployeeID)
	}
	if filter.Region != nil {
		where = append(where, "region = ?")
		args = append(args, *filter.Region)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	where, args = periodOverlap(where, args, filter.From, filter.To)
	if filter.Year != nil {
		where = append(where, "substr(period_end, 1, 4) = ?")
		args = append(args, fmt.Sprintf("%04d", *filter.Year))
	}
	if filter.Unsynced {
		where = append(where, "(journal_ref IS NULL OR journal_ref = '')")
	}

	query := "SELECT " + recordColumns + " FROM payroll_records" + whereClause(where) +
		" ORDER BY period_start ASC, employee_id ASC, id ASC"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []payroll.PayrollRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func decodeRecord(raw string) (payroll.PayrollRecord, error) {
	var rec payroll.PayrollRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return payroll.PayrollRecord{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func appendAudit(ctx context.Context, q queryer, e payroll.AuditEntry) error {
	snapshotJSON, err := json.Marshal(e.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode audit snapshot: %w", err)
	}
	diff := e.Diff
	if diff == nil {
		diff = []payroll.FieldChange{}
	}
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("failed to encode audit diff: %w", err)
	}

	query := `
		INSERT INTO audit_entries
		(id, record_id, previous_record_id, employee_id, region, frequency,
		 period_start, period_end, action, actor, snapshot_json, diff_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		e.ID,
		e.RecordID,
		nullString(string(e.PreviousRecordID)),
		e.EmployeeID,
		e.Region,
		e.Period.Frequency,
		e.Period.Start.Format(payroll.DateLayout),
		e.Period.End.Format(payroll.DateLayout),
		e.Action,
		e.Actor,
		string(snapshotJSON),
		string(diffJSON),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

const auditColumns = `seq, id, record_id, previous_record_id, employee_id, region, frequency,
	period_start, period_end, action, actor, snapshot_json, diff_json, created_at`

func listAudit(ctx context.Context, q queryer, filter payroll.AuditFilter, offset, limit int) ([]payroll.AuditEntry, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != nil {
		where = append(where, "employee_id = ?")
		args = append(args, *filter.EmployeeID)
	}
	if filter.Region != nil {
		where = append(where, "region = ?")
		args = append(args, *filter.Region)
	}
	if filter.OverwritesOnly {
		where = append(where, "action = ?")
		args = append(args, payroll.ActionOverwrite)
	}
	where, args = periodOverlap(where, args, filter.From, filter.To)
	clause := whereClause(where)

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := "SELECT " + auditColumns + " FROM audit_entries" + clause + " ORDER BY seq DESC LIMIT ? OFFSET ?"
	rows, err := q.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []payroll.AuditEntry{}
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func getAudit(ctx context.Context, q queryer, id string) (payroll.AuditEntry, error) {
	e, err := scanAudit(q.QueryRowContext(ctx, "SELECT "+auditColumns+" FROM audit_entries WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.AuditEntry{}, fmt.Errorf("%w: audit entry %s", payroll.ErrRecordNotFound, id)
	}
	return e, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAudit(row scanner) (payroll.AuditEntry, error) {
	var (
		e            payroll.AuditEntry
		previousID   sql.NullString
		periodStart  string
		periodEnd    string
		snapshotJSON string
		diffJSON     string
		createdAt    string
	)
	err := row.Scan(
		&e.Seq, &e.ID, &e.RecordID, &previousID, &e.EmployeeID, &e.Region, &e.Period.Frequency,
		&periodStart, &periodEnd, &e.Action, &e.Actor, &snapshotJSON, &diffJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return e, err
	}
	if err != nil {
		return e, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	e.PreviousRecordID = payroll.RecordID(previousID.String)
	if e.Period.Start, err = time.Parse(payroll.DateLayout, periodStart); err != nil {
		return e, fmt.Errorf("failed to decode audit period start: %w", err)
	}
	if e.Period.End, err = time.Parse(payroll.DateLayout, periodEnd); err != nil {
		return e, fmt.Errorf("failed to decode audit period end: %w", err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return e, fmt.Errorf("failed to decode audit created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshotJSON), &e.Snapshot); err != nil {
		return e, fmt.Errorf("failed to decode audit snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(diffJSON), &e.Diff); err != nil {
		return e, fmt.Errorf("failed to decode audit diff: %w", err)
	}
	return e, nil
}

// Helper functions

// periodOverlap restricts to rows whose [period_start, period_end] intersects [from, to].
func periodOverlap(where []string, args []any, from, to *time.Time) ([]string, []any) {
	if from != nil {
		where = append(where, "period_end >= ?")
		args = append(args, payroll.Day(*from).Format(payroll.DateLayout))
	}
	if to != nil {
		where = append(where, "period_start <= ?")
		args = append(args, payroll.Day(*to).Format(payroll.DateLayout))
	}
	return where, args
}

func whereClause(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
