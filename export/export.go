/*
Package export renders finalized payroll records for downstream systems.

PURPOSE:
  Implements payroll.ExportGateway. Records are flattened into a table
  whose columns are chosen by the caller from a fixed catalogue, then
  rendered by a per-format renderer.

FORMATS:
  csv   header row + one row per record
  json  {"columns": [...], "rows": [[...], ...]}
  pdf   landscape A4 table

COLUMNS:
  Identity columns (employee_id, region, frequency, period_start,
  period_end, status, record_id, finalized_by, finalized_at, journal_ref)
  plus every computed field name of payroll.PayrollRecord.Fields
  (earnings.gross, deductions.qpp, employer.total, net_pay, ...).
  Unknown names are skipped; when nothing resolves DefaultColumns is used.

SEE ALSO:
  - payroll/service.go: ExportFinalized
  - pdf.go: PDF renderers, including the per-entry audit document
*/
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatPDF  = "pdf"
)

// DefaultColumns is used when the caller selects no known column.
var DefaultColumns = []string{
	"employee_id", "region", "period_start", "period_end",
	"earnings.gross", "deductions.employee_total", "net_pay",
}

// Table is the flattened, format-independent export.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

type renderer func(t Table) ([]byte, error)

// Gateway is the ExportGateway.
type Gateway struct {
	renderers    map[string]renderer
	contentTypes map[string]string
}

func NewGateway() *Gateway {
	return &Gateway{
		renderers: map[string]renderer{
			FormatCSV:  renderCSV,
			FormatJSON: renderJSON,
			FormatPDF:  renderTablePDF,
		},
		contentTypes: map[string]string{
			FormatCSV:  "text/csv",
			FormatJSON: "application/json",
			FormatPDF:  "application/pdf",
		},
	}
}

// Render flattens records into the selected columns and renders them.
func (g *Gateway) Render(records []payroll.PayrollRecord, format string, columns []string) ([]byte, error) {
	render, ok := g.renderers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", payroll.ErrUnsupportedFormat, format)
	}
	return render(Flatten(records, columns))
}

// ContentType returns the MIME type for format, or octet-stream.
func (g *Gateway) ContentType(format string) string {
	if ct, ok := g.contentTypes[strings.ToLower(format)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Formats lists the supported format names.
func (g *Gateway) Formats() []string {
	return []string{FormatCSV, FormatJSON, FormatPDF}
}

// =============================================================================
// COLUMNS
// =============================================================================

var identityColumns = map[string]func(r payroll.PayrollRecord) string{
	"record_id":    func(r payroll.PayrollRecord) string { return string(r.ID) },
	"employee_id":  func(r payroll.PayrollRecord) string { return string(r.EmployeeID) },
	"region":       func(r payroll.PayrollRecord) string { return string(r.Region) },
	"frequency":    func(r payroll.PayrollRecord) string { return string(r.Period.Frequency) },
	"period_start": func(r payroll.PayrollRecord) string { return r.Period.Start.Format(payroll.DateLayout) },
	"period_end":   func(r payroll.PayrollRecord) string { return r.Period.End.Format(payroll.DateLayout) },
	"status":       func(r payroll.PayrollRecord) string { return string(r.Status) },
	"finalized_by": func(r payroll.PayrollRecord) string { return r.FinalizedBy },
	"finalized_at": func(r payroll.PayrollRecord) string {
		if r.FinalizedAt == nil {
			return ""
		}
		return r.FinalizedAt.UTC().Format(time.RFC3339)
	},
	"journal_ref": func(r payroll.PayrollRecord) string { return r.JournalRef },
}

// fieldIndex maps a computed field name to its position in Fields().
var fieldIndex = func() map[string]int {
	idx := make(map[string]int)
	for i, f := range (payroll.PayrollRecord{}).Fields() {
		idx[f.Name] = i
	}
	return idx
}()

// KnownColumn reports whether name is in the catalogue.
func KnownColumn(name string) bool {
	if _, ok := identityColumns[name]; ok {
		return true
	}
	_, ok := fieldIndex[name]
	return ok
}

// ResolveColumns drops unknown and duplicate names, falling back to
// DefaultColumns when nothing is left.
func ResolveColumns(columns []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if !KnownColumn(c) || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultColumns...)
	}
	return out
}

// Flatten builds the table for records.
func Flatten(records []payroll.PayrollRecord, columns []string) Table {
	cols := ResolveColumns(columns)
	t := Table{Columns: cols, Rows: make([][]string, 0, len(records))}
	for _, r := range records {
		fields := r.Fields()
		row := make([]string, len(cols))
		for i, c := range cols {
			if fn, ok := identityColumns[c]; ok {
				row[i] = fn(r)
				continue
			}
			row[i] = payroll.FormatField(fields[fieldIndex[c]].Value)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// =============================================================================
// RENDERERS
// =============================================================================

func renderCSV(t Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("failed to write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

func renderJSON(t Table) ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return b, nil
}
