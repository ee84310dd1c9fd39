package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T) (*payroll.RecordService, *Store) {
	t.Helper()
	rules, err := factory.NewRuleSetFactory().Defaults()
	require.NoError(t, err)
	store := newTestStore(t)
	return payroll.NewRecordService(store, rules, nil), store
}

func febRequest(bonus string) payroll.PreviewRequest {
	return payroll.PreviewRequest{
		EmployeeID: "ca-emp-1",
		Region:     payroll.RegionCanada,
		Period:     payroll.MonthPeriod(2025, time.February),
		Input: payroll.EarningsInput{
			Hours:                 payroll.Dec("160"),
			HourlyRate:            payroll.Dec("35"),
			Bonus:                 payroll.Dec(bonus),
			SubdivisionTaxPercent: payroll.DecPtr("5.05"),
		},
	}
}

func finalizedRecord(id string, key payroll.RecordKey) payroll.PayrollRecord {
	now := time.Now().UTC()
	return payroll.PayrollRecord{
		ID:          payroll.RecordID(id),
		EmployeeID:  key.EmployeeID,
		Region:      key.Region,
		Period:      payroll.PayPeriod{Frequency: payroll.Monthly, Start: key.Start, End: key.End},
		Status:      payroll.StatusFinalized,
		ContentHash: id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// =============================================================================
// RECORD TESTS
// =============================================================================

func TestStore_RecordRoundTrip(t *testing.T) {
	// GIVEN: A previewed record computed by the service
	// WHEN: It is loaded back from SQLite
	// THEN: Decimals, period and hash survive unchanged

	svc, store := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Preview(ctx, febRequest("0"))
	require.NoError(t, err)

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ContentHash, got.ContentHash)
	assert.True(t, rec.NetPay.Equal(got.NetPay))
	assert.True(t, rec.Period.Start.Equal(got.Period.Start))
	assert.Equal(t, payroll.ContentHash(got), got.ContentHash)
}

func TestStore_GetRecordNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, payroll.ErrRecordNotFound)
}

func TestStore_UniqueFinalizedPerKey(t *testing.T) {
	// GIVEN: A finalized record for a key
	// WHEN: A second finalized record for the same key is saved directly
	// THEN: The partial unique index rejects it as a concurrent finalization

	store := newTestStore(t)
	ctx := context.Background()
	p := payroll.MonthPeriod(2025, time.January)
	key := payroll.RecordKey{EmployeeID: "emp-1", Region: payroll.RegionQuebec, Start: p.Start, End: p.End}

	require.NoError(t, store.SaveRecord(ctx, finalizedRecord("rec-1", key)))
	err := store.SaveRecord(ctx, finalizedRecord("rec-2", key))
	assert.ErrorIs(t, err, payroll.ErrConcurrentFinalization)

	current, err := store.FinalizedFor(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, payroll.RecordID("rec-1"), current.ID)
}

func TestStore_FinalizedRecordsAreImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := payroll.MonthPeriod(2025, time.January)
	key := payroll.RecordKey{EmployeeID: "emp-1", Region: payroll.RegionQuebec, Start: p.Start, End: p.End}

	rec := finalizedRecord("rec-1", key)
	require.NoError(t, store.SaveRecord(ctx, rec))

	rec.ContentHash = "changed"
	err := store.SaveRecord(ctx, rec)
	assert.ErrorIs(t, err, payroll.ErrInvalidState)
}

func TestStore_ListRecordsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	jan := payroll.MonthPeriod(2025, time.January)
	dec := payroll.MonthPeriod(2024, time.December)
	require.NoError(t, store.SaveRecord(ctx, finalizedRecord("rec-jan", payroll.RecordKey{EmployeeID: "emp-1", Region: payroll.RegionQuebec, Start: jan.Start, End: jan.End})))
	require.NoError(t, store.SaveRecord(ctx, finalizedRecord("rec-dec", payroll.RecordKey{EmployeeID: "emp-1", Region: payroll.RegionQuebec, Start: dec.Start, End: dec.End})))
	require.NoError(t, store.SaveRecord(ctx, finalizedRecord("rec-other", payroll.RecordKey{EmployeeID: "emp-2", Region: payroll.RegionUS, Start: jan.Start, End: jan.End})))

	emp := payroll.EmployeeID("emp-1")
	year := 2025
	got, err := store.ListRecords(ctx, payroll.RecordFilter{EmployeeID: &emp, Year: &year})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, payroll.RecordID("rec-jan"), got[0].ID)

	all, err := store.ListRecords(ctx, payroll.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, payroll.RecordID("rec-dec"), all[0].ID)

	from := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)
	overlapping, err := store.ListRecords(ctx, payroll.RecordFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, overlapping, 2)

	require.NoError(t, store.SetJournalRef(ctx, "rec-jan", "je-1", time.Now()))
	pending, err := store.ListRecords(ctx, payroll.RecordFilter{Unsynced: true})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

// =============================================================================
// FINALIZE TRANSACTION TESTS
// =============================================================================

func TestStore_FinalizeOverwriteThroughService(t *testing.T) {
	// GIVEN: The SQLite store behind the record service
	// WHEN: A record is finalized, then overwritten with a bonus
	// THEN: The old row is superseded and two audit rows exist, newest first

	svc, store := newTestService(t)
	ctx := context.Background()

	a, err := svc.Preview(ctx, febRequest("0"))
	require.NoError(t, err)
	first, err := svc.Finalize(ctx, a.ID, "clerk")
	require.NoError(t, err)
	assert.Equal(t, payroll.OutcomeCreated, first.Outcome)

	b, err := svc.Preview(ctx, febRequest("500"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.BasedOn)
	second, err := svc.Finalize(ctx, b.ID, "clerk")
	require.NoError(t, err)
	assert.Equal(t, payroll.OutcomeOverwritten, second.Outcome)

	old, err := store.GetRecord(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusSuperseded, old.Status)
	assert.Equal(t, b.ID, old.SupersededBy)

	entries, total, err := store.ListAudit(ctx, payroll.AuditFilter{}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 2)
	assert.Equal(t, payroll.ActionOverwrite, entries[0].Action)
	assert.Equal(t, a.ID, entries[0].PreviousRecordID)
	assert.NotEmpty(t, entries[0].Diff)
	assert.Equal(t, payroll.ActionCreate, entries[1].Action)
	assert.Empty(t, entries[1].Diff)

	same, err := svc.Finalize(ctx, b.ID, "clerk")
	require.NoError(t, err)
	assert.Equal(t, payroll.OutcomeUnchanged, same.Outcome)
}

func TestStore_FailedTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := payroll.MonthPeriod(2025, time.January)
	key := payroll.RecordKey{EmployeeID: "emp-1", Region: payroll.RegionQuebec, Start: p.Start, End: p.End}

	err := store.WithTx(ctx, func(tx payroll.Store) error {
		if err := tx.SaveRecord(ctx, finalizedRecord("rec-1", key)); err != nil {
			return err
		}
		return tx.SaveRecord(ctx, finalizedRecord("rec-2", key))
	})
	assert.ErrorIs(t, err, payroll.ErrConcurrentFinalization)

	_, err = store.GetRecord(ctx, "rec-1")
	assert.ErrorIs(t, err, payroll.ErrRecordNotFound)
}

// =============================================================================
// AUDIT LEDGER TESTS
// =============================================================================

func TestStore_AuditIsAppendOnly(t *testing.T) {
	// GIVEN: An audit entry written through the service
	// WHEN: Trying to UPDATE or DELETE it with raw SQL
	// THEN: The triggers abort both statements

	svc, store := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Preview(ctx, febRequest("0"))
	require.NoError(t, err)
	res, err := svc.Finalize(ctx, rec.ID, "clerk")
	require.NoError(t, err)
	require.NotNil(t, res.Entry)

	_, err = store.db.ExecContext(ctx, "UPDATE audit_entries SET actor = 'mallory' WHERE id = ?", res.Entry.ID)
	assert.Error(t, err)
	_, err = store.db.ExecContext(ctx, "DELETE FROM audit_entries WHERE id = ?", res.Entry.ID)
	assert.Error(t, err)

	entry, err := store.GetAudit(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "clerk", entry.Actor)
	assert.Equal(t, rec.ID, entry.Snapshot.ID)
}

func TestStore_CorruptAuditDatesAreErrors(t *testing.T) {
	// GIVEN: An audit row whose period start is not a date
	// WHEN: Reading it back
	// THEN: An error is returned instead of a zero time

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, record_id, employee_id, region, frequency, period_start, period_end,
		 action, actor, snapshot_json, diff_json, created_at)
		VALUES ('audit-bad', 'rec-1', 'emp-1', 'ca', 'monthly', 'not-a-date', '2025-02-28',
		 'create', 'clerk', '{}', '[]', '2025-03-01T00:00:00Z')`)
	require.NoError(t, err)

	_, err = store.GetAudit(ctx, "audit-bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, payroll.ErrRecordNotFound)
	assert.Contains(t, err.Error(), "period start")

	_, _, err = store.ListAudit(ctx, payroll.AuditFilter{}, 0, 10)
	assert.Error(t, err)
}

func TestStore_GetAuditNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetAudit(context.Background(), "missing")
	assert.ErrorIs(t, err, payroll.ErrRecordNotFound)
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
