package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
)

func loadScenario(t *testing.T, router http.Handler, id string) LoadScenarioResponse {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[LoadScenarioResponse](t, rec)
}

func TestListScenarios(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodGet, "/api/scenarios/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[[]ScenarioDTO](t, rec)
	require.Len(t, got, 4)
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"qc-biweekly", "us-overtime", "overwrite-history", "annual-caps"}, ids)
}

func TestLoadScenario_QCBiweeklyIsRepeatable(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Loading qc-biweekly twice
	// THEN: The first load creates the record, the second finds it unchanged

	_, router := setupTestHandler(t)

	first := loadScenario(t, router, "qc-biweekly")
	require.Len(t, first.Results, 1)
	assert.Equal(t, "created", first.Results[0].Outcome)
	assert.Equal(t, payroll.EmployeeID("qc-emp-001"), first.Results[0].Record.EmployeeID)
	assert.True(t, payroll.Dec("704.92").Equal(first.Results[0].Record.NetPay))
	assert.Equal(t, "scenario-loader", first.Results[0].Record.FinalizedBy)

	second := loadScenario(t, router, "qc-biweekly")
	require.Len(t, second.Results, 1)
	assert.Equal(t, "unchanged", second.Results[0].Outcome)
	assert.Equal(t, first.Results[0].Record.ID, second.Results[0].Record.ID)
}

func TestLoadScenario_OverwriteHistory(t *testing.T) {
	_, router := setupTestHandler(t)

	got := loadScenario(t, router, "overwrite-history")
	require.Len(t, got.Results, 2)
	assert.Equal(t, "created", got.Results[0].Outcome)
	assert.Equal(t, "overwritten", got.Results[1].Outcome)

	rec := doRequest(t, router, http.MethodGet, "/api/payroll/audit/?employee_id=ca-emp-001&overwrites_only=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[AuditPageResponse](t, rec)
	require.Equal(t, 1, page.TotalRows)
	assert.Equal(t, string(got.Results[0].Record.ID), page.Rows[0].PreviousRecordID)
}

func TestLoadScenario_AnnualCaps(t *testing.T) {
	// GIVEN: Twelve Quebec months at 9000
	// WHEN: Loading annual-caps
	// THEN: QPP stops once the annual maximum is reached

	_, router := setupTestHandler(t)

	got := loadScenario(t, router, "annual-caps")
	require.Len(t, got.Results, 12)
	for _, res := range got.Results {
		assert.Equal(t, "created", res.Outcome)
	}
	assert.True(t, payroll.Dec("576").Equal(got.Results[0].Record.Deductions.QPP))
	assert.True(t, payroll.Dec("307.20").Equal(got.Results[7].Record.Deductions.QPP))
	assert.True(t, got.Results[8].Record.Deductions.QPP.IsZero())
}

func TestLoadScenario_Unknown(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
