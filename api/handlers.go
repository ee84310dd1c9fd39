/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the PayrollRecordService via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the service.

ENDPOINTS:
  Payroll:
    POST   /api/payroll/compute              Stateless computation (draft)
    POST   /api/payroll/preview              Compute and store a previewed record
    GET    /api/payroll/records              List records (filters as audit)
    GET    /api/payroll/records/{id}         Get record
    PUT    /api/payroll/records/{id}         Edit a draft/previewed record
    POST   /api/payroll/records/{id}/finalize Finalize (actor required)
    GET    /api/payroll/audit                Paged audit history
    GET    /api/payroll/audit/{id}           Single audit entry
    GET    /api/payroll/audit/{id}/pdf       Audit entry as PDF
    GET    /api/payroll/export               Finalized records (csv, json, pdf)
    GET    /api/payroll/ytd                  Year-to-date totals

  Rules:
    GET    /api/rulesets                     All region rule sets
    GET    /api/rulesets/{region}            One rule set

  Admin:
    POST   /api/admin/sync                   Push finalized records to accounting

  Scenarios:
    GET    /api/scenarios                    List demo scenarios
    POST   /api/scenarios/load               Load a demo scenario

QUERY FILTERS:
  employee_id, region, start_date, end_date (YYYY-MM-DD, period overlap),
  overwrites_only (audit), status (records), year (export), page, page_size.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unsupported region/frequency/format, missing actor
  - 404: Record or audit entry not found
  - 409: Lost finalize race, edit of a finalized record
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The actor on finalize is taken from the request as-is.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/export"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *payroll.RecordService
	Factory *factory.RuleSetFactory
	Sync    *AccountingSync // nil disables /api/admin/sync
	DB      Pinger          // optional
	Log     logrus.FieldLogger
}

// NewHandler creates a handler around svc.
func NewHandler(svc *payroll.RecordService, log logrus.FieldLogger) *Handler {
	return &Handler{
		Service: svc,
		Factory: factory.NewRuleSetFactory(),
		Log:     log,
	}
}

// =============================================================================
// COMPUTE / PREVIEW / EDIT
// =============================================================================

// Compute returns a draft computation without storing it.
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePayrollRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.Service.Compute(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Preview computes and stores a previewed record.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePayrollRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.Service.Preview(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) decodePayrollRequest(w http.ResponseWriter, r *http.Request) (payroll.PreviewRequest, bool) {
	var body PayrollRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return payroll.PreviewRequest{}, false
	}
	period, err := body.Period()
	if err != nil {
		h.writeServiceError(w, r, err)
		return payroll.PreviewRequest{}, false
	}
	return payroll.PreviewRequest{
		EmployeeID: payroll.EmployeeID(strings.TrimSpace(body.EmployeeID)),
		Region:     payroll.Region(strings.ToLower(strings.TrimSpace(body.Region))),
		Period:     period,
		Input:      body.Input,
		Policy:     body.Policy,
		Actor:      actorFrom(r, body.Actor),
	}, true
}

// UpdateRecord edits a draft or previewed record and recomputes it.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var body UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.UpdateDraft(r.Context(), payroll.RecordID(chi.URLParam(r, "id")), body.Input, body.Policy)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetRecord returns a single record.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Get(r.Context(), payroll.RecordID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRecords returns records matching the query filters.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	records, err := h.Service.Records(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []payroll.PayrollRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// =============================================================================
// FINALIZE
// =============================================================================

// Finalize commits a record. Re-finalizing identical content returns the
// existing record with outcome "unchanged".
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var body FinalizeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	res, err := h.Service.Finalize(r.Context(), payroll.RecordID(chi.URLParam(r, "id")), actorFrom(r, body.Actor))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Outcome != payroll.OutcomeUnchanged {
		status = http.StatusCreated
	}
	writeJSON(w, status, toFinalizeResponse(res))
}

func actorFrom(r *http.Request, bodyActor string) string {
	if a := strings.TrimSpace(bodyActor); a != "" {
		return a
	}
	return strings.TrimSpace(r.Header.Get("X-Actor"))
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditHistory returns one page of audit entries, newest first.
func (h *Handler) AuditHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := payroll.AuditFilter{OverwritesOnly: parseBool(q.Get("overwrites_only"))}
	if v := q.Get("employee_id"); v != "" {
		id := payroll.EmployeeID(v)
		filter.EmployeeID = &id
	}
	if v := q.Get("region"); v != "" {
		region := payroll.Region(strings.ToLower(v))
		filter.Region = &region
	}
	var err error
	if filter.From, err = parseDateParam(q.Get("start_date"), "start_date"); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if filter.To, err = parseDateParam(q.Get("end_date"), "end_date"); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	page, err := parseIntParam(q.Get("page"), "page", 1)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	pageSize, err := parseIntParam(q.Get("page_size"), "page_size", payroll.DefaultPageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	entries, total, err := h.Service.AuditHistory(r.Context(), filter, page, pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := AuditPageResponse{Rows: make([]AuditRowDTO, 0, len(entries)), Page: page, PageSize: pageSize, TotalRows: total}
	for _, e := range entries {
		row, err := toAuditRowDTO(e)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		resp.Rows = append(resp.Rows, row)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAuditEntry returns one audit entry.
func (h *Handler) GetAuditEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.AuditEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	row, err := toAuditRowDTO(e)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// AuditEntryPDF renders one audit entry as a PDF document.
func (h *Handler) AuditEntryPDF(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.AuditEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	doc, err := export.AuditPDF(e)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-%s.pdf", e.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// =============================================================================
// EXPORT / YTD
// =============================================================================

// Export renders finalized records. format defaults to csv; columns is a
// comma-separated list of column names.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = export.FormatCSV
	}
	var columns []string
	if v := q.Get("columns"); v != "" {
		columns = strings.Split(v, ",")
	}

	body, contentType, err := h.Service.ExportFinalized(r.Context(), filter, format, columns)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=payroll-export.%s", strings.ToLower(format)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// YearToDate returns finalized totals for one employee and year.
func (h *Handler) YearToDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := parseIntParam(q.Get("year"), "year", time.Now().UTC().Year())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	totals, err := h.Service.YearToDate(r.Context(), payroll.EmployeeID(q.Get("employee_id")), year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// =============================================================================
// RULE SETS
// =============================================================================

// ListRuleSets returns every loaded rule set.
func (h *Handler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	out := []factory.RuleSetDocument{}
	for _, region := range h.Service.Rules.Regions() {
		rs, err := h.Service.Rules.Lookup(region)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		out = append(out, h.Factory.ToDocument(rs))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRuleSet returns one region's rule set.
func (h *Handler) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Service.Rules.Lookup(payroll.Region(strings.ToLower(chi.URLParam(r, "region"))))
	if err != nil {
		if errors.Is(err, payroll.ErrUnsupportedRegion) {
			writeError(w, http.StatusNotFound, "Rule set not found", err)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.ToDocument(rs))
}

// =============================================================================
// ADMIN / HEALTH
// =============================================================================

// TriggerSync pushes every unsynced finalized record to accounting now.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "Accounting sync is not configured", nil)
		return
	}
	res, err := h.Sync.RunOnce(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Synced: res.Synced, Failed: res.Failed, Refs: res.Refs})
}

// Health reports storage status and loaded regions.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	regions := []string{}
	for _, rg := range h.Service.Rules.Regions() {
		regions = append(regions, string(rg))
	}
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Regions: regions})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Regions: regions})
}

// =============================================================================
// HELPERS
// =============================================================================

func recordFilterFromQuery(r *http.Request) (payroll.RecordFilter, error) {
	q := r.URL.Query()
	var filter payroll.RecordFilter
	if v := q.Get("employee_id"); v != "" {
		id := payroll.EmployeeID(v)
		filter.EmployeeID = &id
	}
	if v := q.Get("region"); v != "" {
		region := payroll.Region(strings.ToLower(v))
		filter.Region = &region
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			filter.Statuses = append(filter.Statuses, payroll.Status(strings.TrimSpace(s)))
		}
	}
	var err error
	if filter.From, err = parseDateParam(q.Get("start_date"), "start_date"); err != nil {
		return filter, err
	}
	if filter.To, err = parseDateParam(q.Get("end_date"), "end_date"); err != nil {
		return filter, err
	}
	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			return filter, &payroll.InputError{Field: "year", Reason: "must be a number"}
		}
		filter.Year = &year
	}
	return filter, nil
}

func parseDateParam(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(payroll.DateLayout, v)
	if err != nil {
		return nil, &payroll.InputError{Field: name, Reason: "use YYYY-MM-DD"}
	}
	return &t, nil
}

func parseIntParam(v, name string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &payroll.InputError{Field: name, Reason: "must be a number"}
	}
	return n, nil
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

// writeServiceError maps engine errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *payroll.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "Record was finalized concurrently; preview again and retry",
			Code:  "concurrent_finalization",
			Details: map[string]string{
				"current_record_id": string(conflict.CurrentID),
				"based_on":          string(conflict.ExpectedID),
			},
		})
	case errors.Is(err, payroll.ErrConcurrentFinalization):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Record was finalized concurrently", Code: "concurrent_finalization", Details: err.Error()})
	case errors.Is(err, payroll.ErrInvalidState):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Record is not in a state that allows this", Code: "invalid_state", Details: err.Error()})
	case payroll.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Code: "not_found", Details: err.Error()})
	case errors.Is(err, payroll.ErrActorRequired):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Actor is required", Code: "actor_required"})
	case payroll.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Code: "invalid_input", Details: err.Error()})
	default:
		h.Log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Code: "internal"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
