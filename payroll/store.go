/*
store.go - Persistence interfaces for payroll records and audit entries

PURPOSE:
  Defines the boundary between the engine and the database. Records are
  written through SaveRecord while mutable, transition once to finalized,
  and are only ever touched again by MarkSuperseded (status) and
  SetJournalRef (accounting metadata). Audit entries are append-only.

KEY INTERFACES:
  Store:    Records + audit log
  AuditLog: Append-only audit persistence and paged queries
  TxStore:  Atomic multi-write unit for finalize

FINALIZE ATOMICITY:
  Finalize reads the current finalized record for the key, marks it
  superseded, writes the new finalized record and appends the audit entry
  inside one WithTx call. Implementations must also refuse a second
  finalized record for a key (SQLite uses a partial unique index) and
  report it as ErrConcurrentFinalization.

IMPLEMENTATIONS:
  - payroll/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - service.go: The only writer
  - audit.go: AuditLedger on top of AuditLog
*/
package payroll

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists payroll records and their audit trail.
type Store interface {
	// SaveRecord inserts a record or replaces a draft/previewed one with the
	// same ID. Replacing a finalized or superseded record fails with
	// ErrInvalidState. Saving a second finalized record for a key fails with
	// ErrConcurrentFinalization.
	SaveRecord(ctx context.Context, rec PayrollRecord) error

	// GetRecord returns ErrRecordNotFound when the ID is unknown.
	GetRecord(ctx context.Context, id RecordID) (PayrollRecord, error)

	// FinalizedFor returns the finalized record for key, or nil.
	FinalizedFor(ctx context.Context, key RecordKey) (*PayrollRecord, error)

	// MarkSuperseded moves a finalized record to superseded. It fails with
	// ErrConcurrentFinalization if the record is no longer finalized.
	MarkSuperseded(ctx context.Context, id RecordID, by RecordID, at time.Time) error

	// ListRecords returns records matching filter ordered by period start,
	// employee and ID.
	ListRecords(ctx context.Context, filter RecordFilter) ([]PayrollRecord, error)

	// SetJournalRef stores a downstream accounting reference on a finalized record.
	SetJournalRef(ctx context.Context, id RecordID, ref string, at time.Time) error

	AuditLog
}

// AuditLog stores audit entries. Append-only: there is no update or delete.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// ListAudit returns one page newest-first plus the total match count.
	ListAudit(ctx context.Context, filter AuditFilter, offset, limit int) ([]AuditEntry, int, error)

	GetAudit(ctx context.Context, id string) (AuditEntry, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error every
	// write made through the Store it was given is discarded.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTERS
// =============================================================================

// RecordFilter selects records. Nil or empty fields do not filter.
type RecordFilter struct {
	EmployeeID *EmployeeID
	Region     *Region
	Statuses   []Status
	From       *time.Time // period overlaps [From, To]
	To         *time.Time
	Year       *int // period ends in Year
	Unsynced   bool // no journal reference yet
}

// Matches is the reference semantics every Store implementation follows.
func (f RecordFilter) Matches(r PayrollRecord) bool {
	if f.EmployeeID != nil && r.EmployeeID != *f.EmployeeID {
		return false
	}
	if f.Region != nil && r.Region != *f.Region {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !r.Period.Overlaps(f.From, f.To) {
		return false
	}
	if f.Year != nil && r.Period.Year() != *f.Year {
		return false
	}
	if f.Unsynced && r.JournalRef != "" {
		return false
	}
	return true
}
