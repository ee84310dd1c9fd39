/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Earnings inputs and
  policies reuse the payroll package's JSON shape; everything with a
  lifecycle or paging concern gets its own type here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  Decimal amounts are encoded as JSON strings ("1234.56") and accepted as
  either strings or numbers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/ruleset.go: RuleSetDocument, returned by /api/rulesets
*/
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// PAYROLL REQUESTS
// =============================================================================

// PayrollRequest is the body of compute and preview. Either both period
// dates or, for monthly pay, a month ("2025-03") are required.
type PayrollRequest struct {
	EmployeeID  string                `json:"employee_id"`
	Region      string                `json:"region"`
	Frequency   string                `json:"frequency"`
	PeriodStart string                `json:"period_start,omitempty"`
	PeriodEnd   string                `json:"period_end,omitempty"`
	Month       string                `json:"month,omitempty"`
	Input       payroll.EarningsInput `json:"input"`
	Policy      payroll.Policy        `json:"policy"`
	Actor       string                `json:"actor,omitempty"`
}

// Period resolves the request's pay period.
func (r PayrollRequest) Period() (payroll.PayPeriod, error) {
	freq := payroll.Frequency(r.Frequency)
	if r.Month != "" && r.PeriodStart == "" && r.PeriodEnd == "" {
		if freq != "" && freq != payroll.Monthly {
			return payroll.PayPeriod{}, &payroll.InputError{Field: "month", Reason: "only valid for monthly pay"}
		}
		m, err := time.Parse("2006-01", r.Month)
		if err != nil {
			return payroll.PayPeriod{}, &payroll.InputError{Field: "month", Reason: "use YYYY-MM"}
		}
		return payroll.MonthPeriod(m.Year(), m.Month()), nil
	}
	start, err := time.Parse(payroll.DateLayout, r.PeriodStart)
	if err != nil {
		return payroll.PayPeriod{}, &payroll.InputError{Field: "period_start", Reason: "use YYYY-MM-DD"}
	}
	end, err := time.Parse(payroll.DateLayout, r.PeriodEnd)
	if err != nil {
		return payroll.PayPeriod{}, &payroll.InputError{Field: "period_end", Reason: "use YYYY-MM-DD"}
	}
	return payroll.NewPayPeriod(freq, start, end), nil
}

// UpdateRecordRequest replaces the inputs of a draft or previewed record.
type UpdateRecordRequest struct {
	Input  payroll.EarningsInput `json:"input"`
	Policy payroll.Policy        `json:"policy"`
}

// FinalizeRequest names who finalizes. The X-Actor header is used when the
// body leaves it empty.
type FinalizeRequest struct {
	Actor string `json:"actor"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// FinalizeResponse reports the authoritative record after finalize.
type FinalizeResponse struct {
	Record       payroll.PayrollRecord `json:"record"`
	Outcome      string                `json:"outcome"` // created, overwritten, unchanged
	AuditEntryID string                `json:"audit_entry_id,omitempty"`
}

// AuditRowDTO is one row of the audit history page.
type AuditRowDTO struct {
	ID               string          `json:"id"`
	Seq              int64           `json:"seq"`
	RecordID         string          `json:"record_id"`
	PreviousRecordID string          `json:"previous_record_id,omitempty"`
	EmployeeID       string          `json:"employee_id"`
	Region           string          `json:"region"`
	Frequency        string          `json:"frequency"`
	PeriodStart      string          `json:"period_start"`
	PeriodEnd        string          `json:"period_end"`
	Action           string          `json:"action"`
	Actor            string          `json:"actor"`
	CreatedAt        string          `json:"created_at"`
	SnapshotJSON     json.RawMessage `json:"snapshot_json"`
	DiffJSON         json.RawMessage `json:"diff_json"`
	PDFURL           string          `json:"pdf_url"`
}

// AuditPageResponse is one page of audit history, newest first.
type AuditPageResponse struct {
	Rows      []AuditRowDTO `json:"rows"`
	Page      int           `json:"page"`
	PageSize  int           `json:"page_size"`
	TotalRows int           `json:"total_rows"`
}

// SyncResponse summarizes one accounting sync run.
type SyncResponse struct {
	Synced int               `json:"synced"`
	Failed int               `json:"failed"`
	Refs   map[string]string `json:"refs"` // record id -> journal reference
}

// HealthResponse is returned by /api/health.
type HealthResponse struct {
	Status  string   `json:"status"`
	Regions []string `json:"regions"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse lists the finalize outcomes of a loaded scenario.
type LoadScenarioResponse struct {
	ScenarioID string             `json:"scenario_id"`
	Results    []FinalizeResponse `json:"results"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toFinalizeResponse(res payroll.FinalizeResult) FinalizeResponse {
	out := FinalizeResponse{Record: res.Record, Outcome: string(res.Outcome)}
	if res.Entry != nil {
		out.AuditEntryID = res.Entry.ID
	}
	return out
}

func toAuditRowDTO(e payroll.AuditEntry) (AuditRowDTO, error) {
	snapshot, err := json.Marshal(e.Snapshot)
	if err != nil {
		return AuditRowDTO{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	diff := e.Diff
	if diff == nil {
		diff = []payroll.FieldChange{}
	}
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return AuditRowDTO{}, fmt.Errorf("failed to encode diff: %w", err)
	}
	return AuditRowDTO{
		ID:               e.ID,
		Seq:              e.Seq,
		RecordID:         string(e.RecordID),
		PreviousRecordID: string(e.PreviousRecordID),
		EmployeeID:       string(e.EmployeeID),
		Region:           string(e.Region),
		Frequency:        string(e.Period.Frequency),
		PeriodStart:      e.Period.Start.Format(payroll.DateLayout),
		PeriodEnd:        e.Period.End.Format(payroll.DateLayout),
		Action:           string(e.Action),
		Actor:            e.Actor,
		CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339),
		SnapshotJSON:     snapshot,
		DiffJSON:         diffJSON,
		PDFURL:           "/api/payroll/audit/" + e.ID + "/pdf",
	}, nil
}
