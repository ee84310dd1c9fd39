/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that run realistic payroll through the
  service (preview, then finalize) so the audit history, exports and YTD
  endpoints have data to show.

AVAILABLE SCENARIOS:
  qc-biweekly:       Quebec biweekly pay, QPP/EI/RQAP, federal + Quebec tax
  us-overtime:       US weekly pay with regional overtime, state tax, 401(k)
  overwrite-history: Canadian monthly pay finalized, corrected, re-finalized
  annual-caps:       Twelve Quebec monthly periods reaching the QPP/EI caps

HOW SCENARIOS WORK:
  1. Build preview requests with fixed employee ids and periods
  2. Preview each (stores a previewed record)
  3. Finalize each as actor "scenario-loader"
  Loading the same scenario again is safe: identical content finalizes as
  "unchanged". overwrite-history alternates its two versions on each load.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "qc-biweekly"}

SEE ALSO:
  - handlers.go: Handler
  - payroll/service.go: Preview, Finalize
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

const scenarioActor = "scenario-loader"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	steps func() []payroll.PreviewRequest
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "qc-biweekly",
			Name:        "Quebec Biweekly",
			Description: "40h at 21.50 over two weeks: QPP, EI, RQAP, federal and Quebec tax",
			Category:    "qc",
		},
		steps: qcBiweeklySteps,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "us-overtime",
			Name:        "US Overtime",
			Description: "46h weekly with 40h overtime threshold, 4.5% state tax, 5% retirement",
			Category:    "us",
		},
		steps: usOvertimeSteps,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "overwrite-history",
			Name:        "Overwrite History",
			Description: "A monthly Canadian payroll finalized, then corrected with a bonus and re-finalized",
			Category:    "ca",
		},
		steps: overwriteHistorySteps,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "annual-caps",
			Name:        "Annual Caps",
			Description: "Twelve monthly Quebec periods at 9000 showing QPP and EI caps being reached",
			Category:    "qc",
		},
		steps: annualCapsSteps,
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// LoadScenario runs a predefined scenario through preview and finalize.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			found = &scenarios[i]
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	results, err := h.runScenario(r.Context(), found.steps())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, LoadScenarioResponse{ScenarioID: found.ID, Results: results})
}

func (h *Handler) runScenario(ctx context.Context, steps []payroll.PreviewRequest) ([]FinalizeResponse, error) {
	results := make([]FinalizeResponse, 0, len(steps))
	for _, step := range steps {
		rec, err := h.Service.Preview(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("preview %s %s: %w", step.EmployeeID, step.Period, err)
		}
		res, err := h.Service.Finalize(ctx, rec.ID, scenarioActor)
		if err != nil {
			return nil, fmt.Errorf("finalize %s %s: %w", step.EmployeeID, step.Period, err)
		}
		results = append(results, toFinalizeResponse(res))
	}
	return results, nil
}

// =============================================================================
// SCENARIO STEPS
// =============================================================================

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func qcBiweeklySteps() []payroll.PreviewRequest {
	return []payroll.PreviewRequest{{
		EmployeeID: "qc-emp-001",
		Region:     payroll.RegionQuebec,
		Period:     payroll.NewPayPeriod(payroll.Biweekly, date(2025, time.January, 6), date(2025, time.January, 19)),
		Input: payroll.EarningsInput{
			Hours:           payroll.Dec("40"),
			HourlyRate:      payroll.Dec("21.50"),
			VacationPercent: payroll.DecPtr("0"),
		},
		Actor: scenarioActor,
	}}
}

func usOvertimeSteps() []payroll.PreviewRequest {
	return []payroll.PreviewRequest{{
		EmployeeID: "us-emp-001",
		Region:     payroll.RegionUS,
		Period:     payroll.NewPayPeriod(payroll.Weekly, date(2025, time.March, 3), date(2025, time.March, 9)),
		Input: payroll.EarningsInput{
			Hours:                 payroll.Dec("46"),
			HourlyRate:            payroll.Dec("30"),
			Subdivision:           "NY",
			SubdivisionTaxPercent: payroll.DecPtr("4.5"),
			Voluntary: payroll.VoluntaryDeductions{
				RetirementPercent: payroll.Dec("5"),
				MedicalInsurance:  payroll.Dec("42.50"),
			},
		},
		Policy: payroll.Policy{UseRegionOvertime: true},
		Actor:  scenarioActor,
	}}
}

// overwriteHistorySteps finalizes the original version, then the corrected
// one, so every load leaves an overwrite in the audit history.
func overwriteHistorySteps() []payroll.PreviewRequest {
	base := payroll.PreviewRequest{
		EmployeeID: "ca-emp-001",
		Region:     payroll.RegionCanada,
		Period:     payroll.MonthPeriod(2025, time.February),
		Input: payroll.EarningsInput{
			Hours:                 payroll.Dec("160"),
			HourlyRate:            payroll.Dec("35"),
			Subdivision:           "ON",
			SubdivisionTaxPercent: payroll.DecPtr("5.05"),
			Voluntary:             payroll.VoluntaryDeductions{UnionDues: payroll.Dec("25")},
		},
		Actor: scenarioActor,
	}
	corrected := base
	corrected.Input.Bonus = payroll.Dec("500")
	return []payroll.PreviewRequest{base, corrected}
}

func annualCapsSteps() []payroll.PreviewRequest {
	steps := make([]payroll.PreviewRequest, 0, 12)
	for m := time.January; m <= time.December; m++ {
		steps = append(steps, payroll.PreviewRequest{
			EmployeeID: "qc-emp-002",
			Region:     payroll.RegionQuebec,
			Period:     payroll.MonthPeriod(2025, m),
			Input: payroll.EarningsInput{
				Hours:           payroll.Dec("160"),
				HourlyRate:      payroll.Dec("56.25"),
				VacationPercent: payroll.DecPtr("0"),
			},
			Actor: scenarioActor,
		})
	}
	return steps
}
