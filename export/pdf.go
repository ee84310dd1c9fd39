package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/warp/payroll-engine/payroll"
)

// landscape A4 minus 10mm margins
const tableWidth = 277.0

func renderTablePDF(t Table) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 10, "Finalized payroll export")
	pdf.Ln(12)

	width := tableWidth / float64(len(t.Columns))
	pdf.SetFont("Helvetica", "B", 8)
	for _, c := range t.Columns {
		pdf.CellFormat(width, 7, c, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, row := range t.Rows {
		for _, v := range row {
			pdf.CellFormat(width, 6, v, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	return output(pdf)
}

// AuditPDF renders one audit entry: metadata, the computed snapshot and the
// field-level diff against the previous finalized record.
func AuditPDF(e payroll.AuditEntry) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Payroll audit entry")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	lines := []string{
		fmt.Sprintf("Entry: %s (#%d)", e.ID, e.Seq),
		fmt.Sprintf("Action: %s", e.Action),
		fmt.Sprintf("Employee: %s   Region: %s", e.EmployeeID, e.Region),
		fmt.Sprintf("Period: %s to %s (%s)", e.Period.Start.Format(payroll.DateLayout), e.Period.End.Format(payroll.DateLayout), e.Period.Frequency),
		fmt.Sprintf("Record: %s", e.RecordID),
		fmt.Sprintf("Actor: %s   At: %s", e.Actor, e.CreatedAt.UTC().Format(time.RFC3339)),
	}
	if e.PreviousRecordID != "" {
		lines = append(lines, fmt.Sprintf("Replaces: %s", e.PreviousRecordID))
	}
	for _, l := range lines {
		pdf.Cell(0, 7, l)
		pdf.Ln(7)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Snapshot")
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 9)
	for _, f := range e.Snapshot.Fields() {
		if f.Value.IsZero() {
			continue
		}
		pdf.CellFormat(100, 6, f.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, payroll.FormatField(f.Value), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Changes")
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 9)
	switch {
	case e.PreviousRecordID == "":
		pdf.Cell(0, 6, "No previous finalized record.")
		pdf.Ln(6)
	case len(e.Diff) == 0:
		pdf.Cell(0, 6, "No field changes.")
		pdf.Ln(6)
	}
	for _, c := range e.Diff {
		pdf.CellFormat(90, 6, c.Field, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, c.Old, "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, c.New, "1", 1, "R", false, 0, "")
	}
	return output(pdf)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
