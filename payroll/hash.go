package payroll

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// Field is one named, comparable value of a record's computed content.
type Field struct {
	Name  string
	Value decimal.Decimal
}

// Fields flattens the earnings and deduction breakdowns, in a fixed order.
// The same list drives the content hash, audit diffs and export columns,
// so "same hash" and "empty diff" always agree.
func (r PayrollRecord) Fields() []Field {
	e, d, er := r.Earnings, r.Deductions, r.Deductions.EmployerSide
	return []Field{
		{"earnings.regular_hours", e.RegularHours},
		{"earnings.overtime_hours", e.OvertimeHours},
		{"earnings.regular_pay", e.RegularPay},
		{"earnings.overtime_pay", e.OvertimePay},
		{"earnings.bonus", e.Bonus},
		{"earnings.commission", e.Commission},
		{"earnings.tip", e.Tip},
		{"earnings.allowances", e.Allowances},
		{"earnings.vacation_percent", e.VacationPercent},
		{"earnings.vacation_pay", e.VacationPay},
		{"earnings.gross", e.Gross},
		{"deductions.taxable_income", d.TaxableIncome},
		{"deductions.period_allowance", d.PeriodAllowance},
		{"deductions.federal_tax", d.FederalTax},
		{"deductions.provincial_tax", d.ProvincialTax},
		{"deductions.state_tax", d.StateTax},
		{"deductions.cpp", d.CPP},
		{"deductions.qpp", d.QPP},
		{"deductions.ei", d.EI},
		{"deductions.rqap", d.RQAP},
		{"deductions.fica", d.FICA},
		{"deductions.medicare", d.Medicare},
		{"deductions.retirement", d.Retirement},
		{"deductions.union_dues", d.UnionDues},
		{"deductions.garnishment", d.Garnishment},
		{"deductions.medical_insurance", d.MedicalInsurance},
		{"deductions.dental_insurance", d.DentalInsurance},
		{"deductions.life_insurance", d.LifeInsurance},
		{"deductions.other", d.Other},
		{"deductions.employee_total", d.EmployeeTotal},
		{"employer.cpp", er.CPP},
		{"employer.qpp", er.QPP},
		{"employer.ei", er.EI},
		{"employer.rqap", er.RQAP},
		{"employer.fica", er.FICA},
		{"employer.medicare", er.Medicare},
		{"employer.total", er.Total},
		{"net_pay", r.NetPay},
	}
}

// FormatField renders a field value the way hashes, diffs and exports show it.
func FormatField(v decimal.Decimal) string { return v.StringFixed(2) }

// ContentHash fingerprints the key and computed content of a record.
// Status, actors, timestamps and accounting references are excluded.
func ContentHash(r PayrollRecord) string {
	var b strings.Builder
	b.WriteString(r.Key().String())
	b.WriteByte('\n')
	b.WriteString(string(r.Period.Frequency))
	b.WriteByte('\n')
	for _, f := range r.Fields() {
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(FormatField(f.Value))
		b.WriteByte('\n')
	}
	digest := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(digest[:])
}
