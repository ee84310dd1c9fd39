/*
service.go - PayrollRecordService

PURPOSE:
  Orchestrates assembler + calculator into PayrollRecords and owns their
  lifecycle. This is the surface external callers drive.

STATE MACHINE:
  draft ----> previewed ----> finalized ----> superseded
    ^             |
    +-- edit -----+

  - Compute:     stateless, returns a draft, writes nothing
  - Preview:     computes and stores a previewed working copy
  - UpdateDraft: edits a draft/previewed record, back to draft
  - Finalize:    commits; the record becomes immutable
  - superseded:  set in the same transaction that finalizes a replacement

FINALIZE:
  Idempotent per (employee, region, period, content hash):
    no finalized record for key      -> finalize, audit "create"
    finalized record, same hash      -> no-op, returns the existing record
    finalized record, different hash -> supersede it, audit "overwrite"
  A draft remembers which finalized record it was computed against
  (BasedOn). If another finalize committed in between, the draft is stale
  and Finalize returns a ConflictError; the caller re-previews and retries.
  The check and all writes run in one TxStore.WithTx call.

SEE ALSO:
  - recompute.go: The pure computation
  - audit.go: AuditLedger
  - store.go: TxStore contract
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ExportGateway renders records into an external format.
type ExportGateway interface {
	Render(records []PayrollRecord, format string, columns []string) ([]byte, error)
	ContentType(format string) string
}

// RecordService is the PayrollRecordService.
type RecordService struct {
	Store    TxStore
	Rules    *RuleBook
	Ledger   *AuditLedger
	Exporter ExportGateway
	Log      logrus.FieldLogger

	// VacationAdvisoryPercent fills policies that leave the advisory
	// threshold unset. Zero falls through to DefaultVacationAdvisoryPercent.
	VacationAdvisoryPercent decimal.Decimal

	Clock func() time.Time
	NewID func() string
}

// NewRecordService wires a service. A nil logger discards output.
func NewRecordService(store TxStore, rules *RuleBook, log logrus.FieldLogger) *RecordService {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &RecordService{
		Store:  store,
		Rules:  rules,
		Ledger: NewAuditLedger(store),
		Log:    log,
		Clock:  func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

// PreviewRequest carries everything needed to compute one record.
type PreviewRequest struct {
	EmployeeID EmployeeID
	Region     Region
	Period     PayPeriod
	Input      EarningsInput
	Policy     Policy
	Actor      string // optional creator identity
}

// =============================================================================
// COMPUTE / PREVIEW / EDIT
// =============================================================================

// Compute returns a draft record without writing anything. Year-to-date
// contributions are read from finalized history.
func (s *RecordService) Compute(ctx context.Context, req PreviewRequest) (PayrollRecord, error) {
	if err := req.Period.Validate(); err != nil {
		return PayrollRecord{}, err
	}
	rec := PayrollRecord{
		EmployeeID: req.EmployeeID,
		Region:     req.Region,
		Period:     NewPayPeriod(req.Period.Frequency, req.Period.Start, req.Period.End),
		Input:      req.Input,
		Policy:     s.withDefaults(req.Policy),
		Status:     StatusDraft,
		CreatedBy:  req.Actor,
	}
	return s.recompute(ctx, s.Store, rec)
}

// Preview computes and stores a previewed working copy.
func (s *RecordService) Preview(ctx context.Context, req PreviewRequest) (PayrollRecord, error) {
	rec, err := s.Compute(ctx, req)
	if err != nil {
		return PayrollRecord{}, err
	}
	now := s.Clock()
	rec.ID = RecordID(s.NewID())
	rec.Status = StatusPreviewed
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := s.Store.SaveRecord(ctx, rec); err != nil {
		return PayrollRecord{}, fmt.Errorf("failed to save preview: %w", err)
	}
	return rec, nil
}

// UpdateDraft replaces the inputs of a mutable record, recomputes it and
// returns it to draft. Finalized and superseded records are immutable.
func (s *RecordService) UpdateDraft(ctx context.Context, id RecordID, input EarningsInput, policy Policy) (PayrollRecord, error) {
	rec, err := s.Store.GetRecord(ctx, id)
	if err != nil {
		return PayrollRecord{}, err
	}
	if !rec.Status.Mutable() {
		return PayrollRecord{}, &StateError{RecordID: id, Status: rec.Status, Op: "edit"}
	}
	rec.Input = input
	rec.Policy = s.withDefaults(policy)
	rec, err = s.recompute(ctx, s.Store, rec)
	if err != nil {
		return PayrollRecord{}, err
	}
	rec.Status = StatusDraft
	rec.UpdatedAt = s.Clock()
	if err := s.Store.SaveRecord(ctx, rec); err != nil {
		return PayrollRecord{}, fmt.Errorf("failed to save draft: %w", err)
	}
	return rec, nil
}

// Get returns one record.
func (s *RecordService) Get(ctx context.Context, id RecordID) (PayrollRecord, error) {
	return s.Store.GetRecord(ctx, id)
}

// Records lists records.
func (s *RecordService) Records(ctx context.Context, filter RecordFilter) ([]PayrollRecord, error) {
	return s.Store.ListRecords(ctx, filter)
}

func (s *RecordService) withDefaults(p Policy) Policy {
	if p.VacationAdvisoryPercent.IsZero() {
		p.VacationAdvisoryPercent = s.VacationAdvisoryPercent
	}
	return p
}

// recompute refreshes BasedOn and YTD from st, then runs Recompute.
func (s *RecordService) recompute(ctx context.Context, st Store, rec PayrollRecord) (PayrollRecord, error) {
	current, err := st.FinalizedFor(ctx, rec.Key())
	if err != nil {
		return PayrollRecord{}, err
	}
	rec.BasedOn = ""
	if current != nil {
		rec.BasedOn = current.ID
	}
	ytd, err := s.ytdContributions(ctx, st, rec)
	if err != nil {
		return PayrollRecord{}, err
	}
	return Recompute(rec, s.Rules, ytd)
}

// ytdContributions sums statutory contributions of finalized records of the
// same employee and tax year whose period ended before rec's period starts.
func (s *RecordService) ytdContributions(ctx context.Context, st Store, rec PayrollRecord) (YTDContributions, error) {
	employee := rec.EmployeeID
	year := rec.Period.Year()
	history, err := st.ListRecords(ctx, RecordFilter{
		EmployeeID: &employee,
		Statuses:   []Status{StatusFinalized},
		Year:       &year,
	})
	if err != nil {
		return YTDContributions{}, fmt.Errorf("failed to load year-to-date history: %w", err)
	}
	var ytd YTDContributions
	for _, h := range history {
		if h.Period.End.Before(rec.Period.Start) {
			ytd.Add(h.Deductions)
		}
	}
	return ytd, nil
}

// =============================================================================
// FINALIZE
// =============================================================================

type FinalizeOutcome string

const (
	OutcomeCreated     FinalizeOutcome = "created"
	OutcomeOverwritten FinalizeOutcome = "overwritten"
	OutcomeUnchanged   FinalizeOutcome = "unchanged"
)

// FinalizeResult is the authoritative record after Finalize. Entry is nil
// when nothing changed.
type FinalizeResult struct {
	Record  PayrollRecord
	Outcome FinalizeOutcome
	Entry   *AuditEntry
}

// Finalize commits record id as the authoritative record for its key.
func (s *RecordService) Finalize(ctx context.Context, id RecordID, actor string) (FinalizeResult, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return FinalizeResult{}, ErrActorRequired
	}

	var result FinalizeResult
	err := s.Store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		switch rec.Status {
		case StatusFinalized:
			result = FinalizeResult{Record: rec, Outcome: OutcomeUnchanged}
			return nil
		case StatusSuperseded:
			return &StateError{RecordID: id, Status: rec.Status, Op: "finalize"}
		}

		expected := rec.BasedOn
		next, err := s.recompute(ctx, tx, rec)
		if err != nil {
			return err
		}
		current, err := tx.FinalizedFor(ctx, rec.Key())
		if err != nil {
			return err
		}
		if current != nil && current.ContentHash == next.ContentHash {
			result = FinalizeResult{Record: *current, Outcome: OutcomeUnchanged}
			return nil
		}
		if current != nil && current.ID != expected {
			return &ConflictError{Key: rec.Key(), CurrentID: current.ID, ExpectedID: expected}
		}

		now := s.Clock()
		next.Status = StatusFinalized
		next.FinalizedBy = actor
		next.FinalizedAt = &now
		next.UpdatedAt = now

		if current != nil {
			if err := tx.MarkSuperseded(ctx, current.ID, next.ID, now); err != nil {
				return err
			}
		}
		if err := tx.SaveRecord(ctx, next); err != nil {
			return err
		}
		entry, err := s.Ledger.RecordFinalization(ctx, tx, current, next, actor)
		if err != nil {
			return err
		}

		result = FinalizeResult{Record: next, Outcome: OutcomeCreated, Entry: &entry}
		if current != nil {
			result.Outcome = OutcomeOverwritten
		}
		return nil
	})

	fields := logrus.Fields{"record_id": id, "actor": actor}
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.Log.WithFields(fields).WithField("winner_id", conflict.CurrentID).Warn("finalize lost to a concurrent finalize")
		}
		return FinalizeResult{}, err
	}
	r := result.Record
	s.Log.WithFields(fields).WithFields(logrus.Fields{
		"employee_id": r.EmployeeID,
		"region":      r.Region,
		"period":      r.Period.String(),
		"outcome":     result.Outcome,
	}).Info("payroll finalized")
	return result, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// AuditHistory is GetAuditHistory.
func (s *RecordService) AuditHistory(ctx context.Context, filter AuditFilter, page, pageSize int) ([]AuditEntry, int, error) {
	return s.Ledger.List(ctx, filter, page, pageSize)
}

// AuditEntry returns a single audit entry.
func (s *RecordService) AuditEntry(ctx context.Context, id string) (AuditEntry, error) {
	return s.Ledger.Get(ctx, id)
}

// ExportFinalized renders finalized records matching filter. The filter's
// status list is ignored. It returns the bytes and their content type.
func (s *RecordService) ExportFinalized(ctx context.Context, filter RecordFilter, format string, columns []string) ([]byte, string, error) {
	if s.Exporter == nil {
		return nil, "", fmt.Errorf("%w: no export gateway configured", ErrUnsupportedFormat)
	}
	filter.Statuses = []Status{StatusFinalized}
	records, err := s.Store.ListRecords(ctx, filter)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load finalized records: %w", err)
	}
	out, err := s.Exporter.Render(records, format, columns)
	if err != nil {
		return nil, "", err
	}
	return out, s.Exporter.ContentType(format), nil
}

// YearToDateTotals sums finalized, non-superseded records for one employee
// whose period ends in Year.
type YearToDateTotals struct {
	EmployeeID         EmployeeID      `json:"employee_id"`
	Year               int             `json:"year"`
	Gross              decimal.Decimal `json:"gross"`
	Tax                decimal.Decimal `json:"tax"`
	Vacation           decimal.Decimal `json:"vacation"`
	Retirement         decimal.Decimal `json:"retirement"`
	EmployeeDeductions decimal.Decimal `json:"employee_deductions"`
	Net                decimal.Decimal `json:"net"`
	Records            int             `json:"records"`
}

// YearToDate is GetYearToDateTotals.
func (s *RecordService) YearToDate(ctx context.Context, employee EmployeeID, year int) (YearToDateTotals, error) {
	if employee == "" {
		return YearToDateTotals{}, &InputError{Field: "employee_id", Reason: "required"}
	}
	records, err := s.Store.ListRecords(ctx, RecordFilter{
		EmployeeID: &employee,
		Statuses:   []Status{StatusFinalized},
		Year:       &year,
	})
	if err != nil {
		return YearToDateTotals{}, fmt.Errorf("failed to load finalized records: %w", err)
	}
	totals := YearToDateTotals{EmployeeID: employee, Year: year}
	for _, r := range records {
		totals.Gross = totals.Gross.Add(r.Earnings.Gross)
		totals.Tax = totals.Tax.Add(r.Deductions.IncomeTax())
		totals.Vacation = totals.Vacation.Add(r.Earnings.VacationPay)
		totals.Retirement = totals.Retirement.Add(r.Deductions.Retirement)
		totals.EmployeeDeductions = totals.EmployeeDeductions.Add(r.Deductions.EmployeeTotal)
		totals.Net = totals.Net.Add(r.NetPay)
		totals.Records++
	}
	return totals, nil
}

// =============================================================================
// ACCOUNTING SYNC
// =============================================================================

// PendingSync lists finalized records without a journal reference.
func (s *RecordService) PendingSync(ctx context.Context) ([]PayrollRecord, error) {
	return s.Store.ListRecords(ctx, RecordFilter{Statuses: []Status{StatusFinalized}, Unsynced: true})
}

// AttachJournalRef stores the downstream journal-entry id on a record.
func (s *RecordService) AttachJournalRef(ctx context.Context, id RecordID, ref string) error {
	if ref == "" {
		return &InputError{Field: "journal_ref", Reason: "required"}
	}
	return s.Store.SetJournalRef(ctx, id, ref, s.Clock())
}
