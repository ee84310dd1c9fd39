/*
audit.go - AuditLedger

PURPOSE:
  Every finalize that changes the authoritative record for an
  (employee, region, period) key produces exactly one AuditEntry: the full
  snapshot of the new record, a field-level diff against the previous
  finalized snapshot, the actor and a timestamp. Entries are write-once.

ACTIONS:
  create     first finalized record for a key (empty diff)
  overwrite  replaces a finalized record with different content
  finalize   member of the action set accepted by filters and stores;
             the ledger itself writes create or overwrite

ORDERING:
  Entries carry a store-assigned sequence number. Queries sort by it,
  newest first, which is total and stable: pages never skip or repeat an
  entry while no new entries are written.

SEE ALSO:
  - store.go: AuditLog persistence
  - service.go: Calls RecordFinalization inside the finalize transaction
*/
package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction is what an entry documents.
type AuditAction string

const (
	ActionCreate    AuditAction = "create"
	ActionFinalize  AuditAction = "finalize"
	ActionOverwrite AuditAction = "overwrite"
)

// FieldChange is one entry of a structural diff.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// AuditEntry is append-only.
type AuditEntry struct {
	ID               string        `json:"id"`
	Seq              int64         `json:"seq"`
	RecordID         RecordID      `json:"record_id"`
	PreviousRecordID RecordID      `json:"previous_record_id,omitempty"`
	EmployeeID       EmployeeID    `json:"employee_id"`
	Region           Region        `json:"region"`
	Period           PayPeriod     `json:"period"`
	Action           AuditAction   `json:"action"`
	Snapshot         PayrollRecord `json:"snapshot"`
	Diff             []FieldChange `json:"diff"`
	Actor            string        `json:"actor"`
	CreatedAt        time.Time     `json:"created_at"`
}

// AuditFilter selects audit entries. Nil fields do not filter; the date
// range matches entries whose pay period overlaps it.
type AuditFilter struct {
	EmployeeID     *EmployeeID
	Region         *Region
	From           *time.Time
	To             *time.Time
	OverwritesOnly bool
}

// Matches is the reference semantics every AuditLog implementation follows.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EmployeeID != nil && e.EmployeeID != *f.EmployeeID {
		return false
	}
	if f.Region != nil && e.Region != *f.Region {
		return false
	}
	if f.OverwritesOnly && e.Action != ActionOverwrite {
		return false
	}
	return e.Period.Overlaps(f.From, f.To)
}

// Diff compares the computed fields of two records. Only changed fields
// are returned. A nil previous record yields an empty diff.
func Diff(prev *PayrollRecord, next PayrollRecord) []FieldChange {
	changes := []FieldChange{}
	if prev == nil {
		return changes
	}
	old := prev.Fields()
	for i, f := range next.Fields() {
		before, after := FormatField(old[i].Value), FormatField(f.Value)
		if before != after {
			changes = append(changes, FieldChange{Field: f.Name, Old: before, New: after})
		}
	}
	return changes
}

// =============================================================================
// LEDGER
// =============================================================================

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// AuditLedger builds and queries audit entries.
type AuditLedger struct {
	Log   AuditLog
	Clock func() time.Time
	NewID func() string
}

func NewAuditLedger(log AuditLog) *AuditLedger {
	return &AuditLedger{
		Log:   log,
		Clock: func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// Entry builds the entry documenting next replacing previous. It does not
// persist anything.
func (l *AuditLedger) Entry(previous *PayrollRecord, next PayrollRecord, actor string) (AuditEntry, error) {
	if actor == "" {
		return AuditEntry{}, ErrActorRequired
	}
	entry := AuditEntry{
		ID:         l.NewID(),
		RecordID:   next.ID,
		EmployeeID: next.EmployeeID,
		Region:     next.Region,
		Period:     next.Period,
		Action:     ActionCreate,
		Snapshot:   next,
		Diff:       Diff(previous, next),
		Actor:      actor,
		CreatedAt:  l.Clock(),
	}
	if previous != nil {
		entry.Action = ActionOverwrite
		entry.PreviousRecordID = previous.ID
	}
	return entry, nil
}

// RecordFinalization builds the entry and appends it through log, which is
// the transaction-bound view of the finalize in progress. A write failure
// is returned so the enclosing transaction rolls back.
func (l *AuditLedger) RecordFinalization(ctx context.Context, log AuditLog, previous *PayrollRecord, next PayrollRecord, actor string) (AuditEntry, error) {
	entry, err := l.Entry(previous, next, actor)
	if err != nil {
		return AuditEntry{}, err
	}
	if err := log.AppendAudit(ctx, entry); err != nil {
		return AuditEntry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}

// List returns one page (1-based) newest-first and the total match count.
// A zero page size means DefaultPageSize.
func (l *AuditLedger) List(ctx context.Context, filter AuditFilter, page, pageSize int) ([]AuditEntry, int, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if page < 0 {
		return nil, 0, &InputError{Field: "page", Reason: "must be at least 1"}
	}
	if pageSize < 0 || pageSize > MaxPageSize {
		return nil, 0, &InputError{Field: "page_size", Reason: fmt.Sprintf("must be between 1 and %d", MaxPageSize)}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, &InputError{Field: "date_range", Reason: "end before start"}
	}
	return l.Log.ListAudit(ctx, filter, (page-1)*pageSize, pageSize)
}

// Get returns one entry or ErrRecordNotFound.
func (l *AuditLedger) Get(ctx context.Context, id string) (AuditEntry, error) {
	return l.Log.GetAudit(ctx, id)
}
