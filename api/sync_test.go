package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
)

type failingJournal struct{}

func (failingJournal) PostJournal(context.Context, JournalEntry) (string, error) {
	return "", errors.New("ledger unavailable")
}

func finalizedCA(t *testing.T, h *Handler) payroll.PayrollRecord {
	t.Helper()
	ctx := context.Background()
	req := caFebruary("0")
	rec, err := h.Service.Preview(ctx, payroll.PreviewRequest{
		EmployeeID: payroll.EmployeeID(req.EmployeeID),
		Region:     payroll.RegionCanada,
		Period:     payroll.MonthPeriod(2025, time.February),
		Input:      req.Input,
	})
	require.NoError(t, err)
	res, err := h.Service.Finalize(ctx, rec.ID, "clerk")
	require.NoError(t, err)
	return res.Record
}

func TestBuildJournalEntry_Balanced(t *testing.T) {
	// GIVEN: A finalized record with employer contributions
	// WHEN: Building its journal entry
	// THEN: Debits equal credits

	h, _ := setupTestHandler(t)
	rec := finalizedCA(t, h)

	entry := BuildJournalEntry(rec)
	require.Len(t, entry.Lines, 4)
	assert.Equal(t, "2025-02-01", entry.PeriodStart)

	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range entry.Lines {
		debit = debit.Add(decimal.RequireFromString(l.Debit))
		credit = credit.Add(decimal.RequireFromString(l.Credit))
	}
	assert.True(t, debit.Equal(credit), "debit %s credit %s", debit, credit)
	assert.True(t, debit.Equal(rec.Earnings.Gross.Add(rec.Deductions.EmployerSide.Total)))
}

func TestWebhookJournal(t *testing.T) {
	var gotKey string
	var gotEntry JournalEntry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotEntry)
		_, _ = w.Write([]byte(`{"id":"je-42"}`))
	}))
	defer srv.Close()

	ref, err := NewWebhookJournal(srv.URL).PostJournal(context.Background(), JournalEntry{RecordID: "rec-1", EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Equal(t, "je-42", ref)
	assert.Equal(t, "rec-1", gotKey)
	assert.Equal(t, "emp-1", gotEntry.EmployeeID)
}

func TestWebhookJournal_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewWebhookJournal(srv.URL).PostJournal(context.Background(), JournalEntry{RecordID: "rec-1"})
	assert.Error(t, err)
}

func TestAccountingSync_BackgroundLoop(t *testing.T) {
	// GIVEN: A finalized record without a journal reference
	// WHEN: The sync worker runs on a short interval
	// THEN: The record receives a reference and its content hash is unchanged

	h, _ := setupTestHandler(t)
	rec := finalizedCA(t, h)

	syncer := NewAccountingSync(h.Service, nil, 10*time.Millisecond, logging.Discard())
	syncer.Start()
	defer syncer.Stop()

	require.Eventually(t, func() bool {
		got, err := h.Service.Get(context.Background(), rec.ID)
		return err == nil && got.JournalRef != ""
	}, 2*time.Second, 10*time.Millisecond)

	got, err := h.Service.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ContentHash, got.ContentHash)
	assert.NotNil(t, got.SyncedAt)
}

func TestAccountingSync_ZeroIntervalDoesNotStart(t *testing.T) {
	h, _ := setupTestHandler(t)
	syncer := NewAccountingSync(h.Service, nil, 0, logging.Discard())
	syncer.Start()
	assert.Nil(t, syncer.ticker)
	syncer.Stop()
}

func TestAccountingSync_RunOnceCountsFailures(t *testing.T) {
	h, _ := setupTestHandler(t)
	finalizedCA(t, h)

	syncer := NewAccountingSync(h.Service, failingJournal{}, 0, logging.Discard())
	res, err := syncer.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 1, res.Failed)

	// Failed records stay pending for the next run.
	pending, err := h.Service.PendingSync(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
