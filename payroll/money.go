/*
money.go - Decimal money helpers

PURPOSE:
  Every monetary value, hour count and rate in the engine is a
  decimal.Decimal. Floating point never touches a payroll figure.

ROUNDING:
  Amounts are rounded to cents exactly once, at the point where they are
  produced (a bracket tax, a contribution, a vacation amount). Sums of
  rounded amounts are therefore exact, which is what makes
  net_pay == gross_pay - sum(employee deductions) hold to the cent.

  decimal.Round rounds half away from zero. All engine amounts are
  non-negative, so this is round-half-up.

RATES:
  Rates are stored as percentages (6.4 means 6.4%), the way payroll
  tables publish them.

SEE ALSO:
  - types.go: Breakdown structures built from these helpers
  - deductions.go: Percent/cap arithmetic
*/
package payroll

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Cents rounds d to two decimal places, half-up for non-negative values.
func Cents(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// PercentOf returns pct% of base, unrounded.
func PercentOf(base, pct decimal.Decimal) decimal.Decimal { return base.Mul(pct).Div(hundred) }

// Dec is shorthand for decimal.RequireFromString, used for literal rates and amounts.
func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DecPtr returns a pointer to the parsed literal.
func DecPtr(s string) *decimal.Decimal {
	d := Dec(s)
	return &d
}

func maxDec(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func minDec(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func valueOr(p *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if p == nil {
		return fallback
	}
	return *p
}
