/*
handlers_test.go - HTTP tests for the payroll API

PURPOSE:
	Drives the router end to end against the in-memory store: compute,
	preview, finalize outcomes and status codes, audit paging, export,
	YTD, rule sets and accounting sync.
*/
package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/export"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func setupTestHandler(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	rules, err := factory.NewRuleSetFactory().Defaults()
	require.NoError(t, err)

	log := logging.Discard()
	svc := payroll.NewRecordService(store.NewTxMemory(), rules, log)
	svc.Exporter = export.NewGateway()

	h := NewHandler(svc, log)
	return h, NewRouter(h, nil)
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func caFebruary(bonus string) PayrollRequest {
	return PayrollRequest{
		EmployeeID: "ca-emp-1",
		Region:     "CA",
		Month:      "2025-02",
		Input: payroll.EarningsInput{
			Hours:                 payroll.Dec("160"),
			HourlyRate:            payroll.Dec("35"),
			Bonus:                 payroll.Dec(bonus),
			VacationPercent:       payroll.DecPtr("0"),
			Subdivision:           "ON",
			SubdivisionTaxPercent: payroll.DecPtr("5.05"),
		},
	}
}

func preview(t *testing.T, router http.Handler, req PayrollRequest) payroll.PayrollRecord {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/payroll/preview", req, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[payroll.PayrollRecord](t, rec)
}

func finalize(t *testing.T, router http.Handler, id payroll.RecordID, actor string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, router, http.MethodPost, "/api/payroll/records/"+string(id)+"/finalize", FinalizeRequest{Actor: actor}, nil)
}

// =============================================================================
// COMPUTE / PREVIEW
// =============================================================================

func TestCompute_MonthShorthand(t *testing.T) {
	// GIVEN: A monthly request using "month" instead of explicit dates
	// WHEN: POST /api/payroll/compute
	// THEN: 200 with a draft covering the calendar month

	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodPost, "/api/payroll/compute", caFebruary("0"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[payroll.PayrollRecord](t, rec)
	assert.Equal(t, payroll.StatusDraft, got.Status)
	assert.Equal(t, payroll.Monthly, got.Period.Frequency)
	assert.Equal(t, "2025-02-28", got.Period.End.Format(payroll.DateLayout))
	assert.True(t, payroll.Dec("5600").Equal(got.Earnings.Gross))
	assert.True(t, got.NetPay.Equal(got.Earnings.Gross.Sub(got.Deductions.EmployeeTotal)))
}

func TestCompute_InvalidRequests(t *testing.T) {
	_, router := setupTestHandler(t)

	unknownRegion := caFebruary("0")
	unknownRegion.Region = "mx"

	weeklyMonth := caFebruary("0")
	weeklyMonth.Frequency = "weekly"

	badFrequency := caFebruary("0")
	badFrequency.Month = ""
	badFrequency.Frequency = "daily"
	badFrequency.PeriodStart = "2025-02-01"
	badFrequency.PeriodEnd = "2025-02-01"

	negative := caFebruary("0")
	negative.Input.Hours = payroll.Dec("-1")

	negativeVacation := caFebruary("0")
	negativeVacation.Input.VacationPercent = nil
	negativeVacation.Policy.DefaultVacationPercent = payroll.DecPtr("-50")

	for name, body := range map[string]PayrollRequest{
		"unknown region":            unknownRegion,
		"month with weekly":         weeklyMonth,
		"invalid frequency":         badFrequency,
		"negative hours":            negative,
		"negative default vacation": negativeVacation,
	} {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/payroll/compute", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "invalid_input", decode[ErrorResponse](t, rec).Code)
		})
	}

	rec := doRequest(t, router, http.MethodPost, "/api/payroll/compute", "not an object", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// FINALIZE
// =============================================================================

func TestFinalize_Outcomes(t *testing.T) {
	// GIVEN: A previewed record
	// WHEN: Finalizing it (actor from header), then finalizing identical content again
	// THEN: 201 "created" with an audit id, then 200 "unchanged" without one

	_, router := setupTestHandler(t)

	first := preview(t, router, caFebruary("0"))
	rec := doRequest(t, router, http.MethodPost, "/api/payroll/records/"+string(first.ID)+"/finalize", nil, map[string]string{"X-Actor": "payroll-admin"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[FinalizeResponse](t, rec)
	assert.Equal(t, "created", created.Outcome)
	assert.NotEmpty(t, created.AuditEntryID)
	assert.Equal(t, "payroll-admin", created.Record.FinalizedBy)

	again := preview(t, router, caFebruary("0"))
	rec = finalize(t, router, again.ID, "payroll-admin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unchanged := decode[FinalizeResponse](t, rec)
	assert.Equal(t, "unchanged", unchanged.Outcome)
	assert.Equal(t, first.ID, unchanged.Record.ID)
	assert.Empty(t, unchanged.AuditEntryID)

	corrected := preview(t, router, caFebruary("500"))
	rec = finalize(t, router, corrected.ID, "payroll-admin")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "overwritten", decode[FinalizeResponse](t, rec).Outcome)
}

func TestFinalize_ActorRequired(t *testing.T) {
	_, router := setupTestHandler(t)
	rec := preview(t, router, caFebruary("0"))

	resp := finalize(t, router, rec.ID, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "actor_required", decode[ErrorResponse](t, resp).Code)
}

func TestFinalize_ConflictIs409(t *testing.T) {
	// GIVEN: Two previews computed against the same (empty) history
	// WHEN: Both are finalized
	// THEN: The second gets 409 with the winning record id

	_, router := setupTestHandler(t)

	a := preview(t, router, caFebruary("0"))
	b := preview(t, router, caFebruary("250"))

	require.Equal(t, http.StatusCreated, finalize(t, router, a.ID, "alice").Code)

	resp := finalize(t, router, b.ID, "bob")
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())

	var body struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "concurrent_finalization", body.Code)
	assert.Equal(t, string(a.ID), body.Details["current_record_id"])
}

func TestUpdateRecord_FinalizedIs409(t *testing.T) {
	_, router := setupTestHandler(t)
	rec := preview(t, router, caFebruary("0"))
	require.Equal(t, http.StatusCreated, finalize(t, router, rec.ID, "alice").Code)

	resp := doRequest(t, router, http.MethodPut, "/api/payroll/records/"+string(rec.ID), UpdateRecordRequest{Input: rec.Input}, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "invalid_state", decode[ErrorResponse](t, resp).Code)
}

func TestUpdateRecord_DraftRecomputed(t *testing.T) {
	_, router := setupTestHandler(t)
	rec := preview(t, router, caFebruary("0"))

	input := rec.Input
	input.Bonus = payroll.Dec("100")
	resp := doRequest(t, router, http.MethodPut, "/api/payroll/records/"+string(rec.ID), UpdateRecordRequest{Input: input}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	got := decode[payroll.PayrollRecord](t, resp)
	assert.Equal(t, payroll.StatusDraft, got.Status)
	assert.True(t, payroll.Dec("5700").Equal(got.Earnings.Gross))
}

func TestGetRecord_NotFound(t *testing.T) {
	_, router := setupTestHandler(t)
	resp := doRequest(t, router, http.MethodGet, "/api/payroll/records/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListRecords_StatusFilter(t *testing.T) {
	_, router := setupTestHandler(t)
	a := preview(t, router, caFebruary("0"))
	require.Equal(t, http.StatusCreated, finalize(t, router, a.ID, "alice").Code)
	preview(t, router, caFebruary("10"))

	resp := doRequest(t, router, http.MethodGet, "/api/payroll/records?status=finalized&employee_id=ca-emp-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	records := decode[[]payroll.PayrollRecord](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, a.ID, records[0].ID)

	resp = doRequest(t, router, http.MethodGet, "/api/payroll/records?start_date=2025-13-01", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

// =============================================================================
// AUDIT / EXPORT / YTD
// =============================================================================

func TestAuditHistory_Page(t *testing.T) {
	// GIVEN: A create followed by an overwrite
	// WHEN: GET /api/payroll/audit with page_size=1
	// THEN: The overwrite comes first with its diff, snapshot and pdf link

	_, router := setupTestHandler(t)
	for _, bonus := range []string{"0", "500"} {
		rec := preview(t, router, caFebruary(bonus))
		require.Equal(t, http.StatusCreated, finalize(t, router, rec.ID, "alice").Code)
	}

	resp := doRequest(t, router, http.MethodGet, "/api/payroll/audit?employee_id=ca-emp-1&page=1&page_size=1", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	page := decode[AuditPageResponse](t, resp)
	assert.Equal(t, 2, page.TotalRows)
	require.Len(t, page.Rows, 1)

	row := page.Rows[0]
	assert.Equal(t, "overwrite", row.Action)
	assert.Equal(t, "alice", row.Actor)
	assert.NotEmpty(t, row.PreviousRecordID)

	var diff []payroll.FieldChange
	require.NoError(t, json.Unmarshal(row.DiffJSON, &diff))
	assert.NotEmpty(t, diff)

	var snapshot payroll.PayrollRecord
	require.NoError(t, json.Unmarshal(row.SnapshotJSON, &snapshot))
	assert.Equal(t, row.RecordID, string(snapshot.ID))

	pdf := doRequest(t, router, http.MethodGet, row.PDFURL, nil, nil)
	require.Equal(t, http.StatusOK, pdf.Code)
	assert.Equal(t, "application/pdf", pdf.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(pdf.Body.Bytes(), []byte("%PDF")))

	single := doRequest(t, router, http.MethodGet, "/api/payroll/audit/"+row.ID, nil, nil)
	require.Equal(t, http.StatusOK, single.Code)

	overwrites := doRequest(t, router, http.MethodGet, "/api/payroll/audit?overwrites_only=true", nil, nil)
	assert.Equal(t, 1, decode[AuditPageResponse](t, overwrites).TotalRows)

	bad := doRequest(t, router, http.MethodGet, "/api/payroll/audit?page_size=10000", nil, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestExport_CSVAndUnsupportedFormat(t *testing.T) {
	_, router := setupTestHandler(t)
	rec := preview(t, router, caFebruary("0"))
	require.Equal(t, http.StatusCreated, finalize(t, router, rec.ID, "alice").Code)

	resp := doRequest(t, router, http.MethodGet, "/api/payroll/export?year=2025&columns=employee_id,earnings.gross,unknown", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))

	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"employee_id", "earnings.gross"}, {"ca-emp-1", "5600.00"}}, rows)

	resp = doRequest(t, router, http.MethodGet, "/api/payroll/export?format=xlsx", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestYearToDate(t *testing.T) {
	_, router := setupTestHandler(t)
	rec := preview(t, router, caFebruary("0"))
	require.Equal(t, http.StatusCreated, finalize(t, router, rec.ID, "alice").Code)

	resp := doRequest(t, router, http.MethodGet, "/api/payroll/ytd?employee_id=ca-emp-1&year=2025", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	totals := decode[payroll.YearToDateTotals](t, resp)
	assert.Equal(t, 1, totals.Records)
	assert.True(t, payroll.Dec("5600").Equal(totals.Gross))

	resp = doRequest(t, router, http.MethodGet, "/api/payroll/ytd?year=2025", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

// =============================================================================
// RULE SETS / ADMIN / HEALTH
// =============================================================================

func TestRuleSets(t *testing.T) {
	_, router := setupTestHandler(t)

	resp := doRequest(t, router, http.MethodGet, "/api/rulesets", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[[]factory.RuleSetDocument](t, resp), 4)

	resp = doRequest(t, router, http.MethodGet, "/api/rulesets/QC", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "qc", decode[factory.RuleSetDocument](t, resp).Region)

	resp = doRequest(t, router, http.MethodGet, "/api/rulesets/zz", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTriggerSync(t *testing.T) {
	// GIVEN: One finalized record and a local journal
	// WHEN: POST /api/admin/sync twice
	// THEN: The record is synced once and nothing is pending afterwards

	h, router := setupTestHandler(t)

	resp := doRequest(t, router, http.MethodPost, "/api/admin/sync", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	h.Sync = NewAccountingSync(h.Service, nil, 0, h.Log)
	rec := preview(t, router, caFebruary("0"))
	require.Equal(t, http.StatusCreated, finalize(t, router, rec.ID, "alice").Code)

	resp = doRequest(t, router, http.MethodPost, "/api/admin/sync", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	first := decode[SyncResponse](t, resp)
	assert.Equal(t, 1, first.Synced)
	assert.Contains(t, first.Refs, string(rec.ID))

	resp = doRequest(t, router, http.MethodPost, "/api/admin/sync", nil, nil)
	assert.Equal(t, 0, decode[SyncResponse](t, resp).Synced)
}

func TestHealth(t *testing.T) {
	_, router := setupTestHandler(t)
	resp := doRequest(t, router, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"ca", "other", "qc", "us"}, health.Regions)
}
