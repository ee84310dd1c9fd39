package payroll

import "github.com/shopspring/decimal"

// Prorate converts an annual tax-free allowance into the per-period amount
// for the given frequency, rounded half-up to cents.
//
//	Prorate(15000, Monthly)  == 1250.00
//	Prorate(15000, Biweekly) == 576.92
func Prorate(annual decimal.Decimal, f Frequency) (decimal.Decimal, error) {
	n, err := f.PeriodsPerYear()
	if err != nil {
		return decimal.Zero, err
	}
	if annual.IsNegative() {
		return decimal.Zero, &InputError{Field: "annual_allowance", Reason: "must not be negative"}
	}
	return Cents(annual.Div(decimal.NewFromInt(int64(n)))), nil
}
