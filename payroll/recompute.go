/*
recompute.go - Explicit, pure recomputation

PURPOSE:
  Recompute is the only place a PayrollRecord's computed fields are
  produced. Callers invoke it when they choose; nothing recomputes
  implicitly on field edits. Given the same record, rules and YTD it
  always returns the same result, and it never mutates its argument.

FLOW:
  rules    := book.Lookup(region)
  policy   := record policy, gaps filled from rules
  earnings := AssembleGross(input, policy)
  allow    := Prorate(rules.AnnualAllowance, period.Frequency)
  deduct   := ComputeDeductions(...)
  net      := earnings.Gross - deduct.EmployeeTotal
  hash     := ContentHash(record)

SEE ALSO:
  - gross.go, proration.go, deductions.go: The three stages
  - hash.go: Content hash used for finalize idempotence
*/
package payroll

import (
	"github.com/shopspring/decimal"
)

// Recompute rebuilds earnings, deductions, net pay, advisories and the
// content hash of rec from its input. Status, identity and timestamps are
// carried over untouched.
func Recompute(rec PayrollRecord, book *RuleBook, ytd YTDContributions) (PayrollRecord, error) {
	rules, err := book.Lookup(rec.Region)
	if err != nil {
		return PayrollRecord{}, err
	}
	if err := rec.Period.Validate(); err != nil {
		return PayrollRecord{}, err
	}
	if rec.EmployeeID == "" {
		return PayrollRecord{}, &InputError{Field: "employee_id", Reason: "required"}
	}

	policy := rec.Policy.resolve(rules)
	earnings, err := AssembleGross(rec.Input, policy)
	if err != nil {
		return PayrollRecord{}, err
	}

	allowance, err := Prorate(rules.AnnualAllowance, rec.Period.Frequency)
	if err != nil {
		return PayrollRecord{}, err
	}

	var taxable *decimal.Decimal
	if policy.ExcludeVacationFromTaxable {
		t := earnings.Gross.Sub(earnings.VacationPay)
		taxable = &t
	}

	deductions, err := ComputeDeductions(DeductionInput{
		Gross:                 earnings.Gross,
		TaxableEarnings:       taxable,
		RetirementBase:        earnings.Gross.Sub(earnings.VacationPay),
		Rules:                 rules,
		Frequency:             rec.Period.Frequency,
		PeriodAllowance:       allowance,
		YTD:                   ytd,
		Subdivision:           rec.Input.Subdivision,
		SubdivisionTaxPercent: rec.Input.SubdivisionTaxPercent,
		IncomeTaxOverride:     rec.Input.IncomeTaxOverride,
		Voluntary:             rec.Input.Voluntary,
	})
	if err != nil {
		return PayrollRecord{}, err
	}

	out := rec
	out.Earnings = earnings
	out.Deductions = deductions
	out.NetPay = earnings.Gross.Sub(deductions.EmployeeTotal)
	out.Advisories = append(append([]Advisory(nil), earnings.Advisories...), deductions.Advisories...)
	out.ContentHash = ContentHash(out)
	return out, nil
}
