/*
deductions.go - DeductionCalculator

PURPOSE:
  Applies a RegionRuleSet and a prorated allowance to a gross amount and
  produces the itemized employee deductions plus the employer-side mirror.

ALGORITHM:
  1. taxable = max(0, taxableEarnings - periodAllowance)
  2. income tax per schedule: annualize taxable, walk the ascending
     brackets (each bracket taxes only the slice of income that falls in
     it), divide by periods per year, round to cents
  3. sub-national tax: caller percentage of taxable income where the
     region uses one (provincial percent in CA, state percent in US)
  4. each statutory contribution = rate x gross, capped independently at
     annualCap - ytd; a reached cap yields zero, never a negative amount
  5. voluntary deductions are copied (rounded) from the input
  6. employer contributions use the employer rate and cap and are kept in
     EmployerSide, never in EmployeeTotal

REGIONS:
  qc:    federal + Quebec schedules, QPP, EI (Quebec rate), RQAP
  ca:    federal schedule + provincial percent, CPP, EI
  us:    federal schedule + state percent, FICA, Medicare
  other: no statutory math, manual amounts only

SEE ALSO:
  - rules.go: Rule set shapes
  - recompute.go: Wires assembler, prorator and calculator together
*/
package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// YTDContributions are the statutory contributions already deducted this
// calendar year, by kind, before the period being computed.
type YTDContributions struct {
	Employee map[ContributionKind]decimal.Decimal
	Employer map[ContributionKind]decimal.Decimal
}

func (y YTDContributions) employee(k ContributionKind) decimal.Decimal { return y.Employee[k] }
func (y YTDContributions) employer(k ContributionKind) decimal.Decimal { return y.Employer[k] }

// Add accumulates one finalized record's contributions.
func (y *YTDContributions) Add(d DeductionBreakdown) {
	if y.Employee == nil {
		y.Employee = make(map[ContributionKind]decimal.Decimal)
	}
	if y.Employer == nil {
		y.Employer = make(map[ContributionKind]decimal.Decimal)
	}
	for _, k := range contributionOrder {
		y.Employee[k] = y.Employee[k].Add(d.contribution(k))
		y.Employer[k] = y.Employer[k].Add(d.EmployerSide.contribution(k))
	}
}

var contributionOrder = []ContributionKind{
	ContributionCPP, ContributionQPP, ContributionEI, ContributionRQAP, ContributionFICA, ContributionMedicare,
}

// DeductionInput is everything the calculator reads.
type DeductionInput struct {
	Gross decimal.Decimal

	// TaxableEarnings is the base for income tax before the allowance.
	// Nil means Gross.
	TaxableEarnings *decimal.Decimal

	// RetirementBase is the earnings a retirement percentage applies to.
	RetirementBase decimal.Decimal

	Rules           RegionRuleSet
	Frequency       Frequency
	PeriodAllowance decimal.Decimal
	YTD             YTDContributions

	Subdivision           string
	SubdivisionTaxPercent *decimal.Decimal
	IncomeTaxOverride     *decimal.Decimal
	Voluntary             VoluntaryDeductions
}

// ComputeDeductions is the DeductionCalculator. It returns an error rather
// than a partial breakdown.
func ComputeDeductions(in DeductionInput) (DeductionBreakdown, error) {
	if in.Gross.IsNegative() {
		return DeductionBreakdown{}, &InputError{Field: "gross", Reason: "must not be negative"}
	}
	if in.PeriodAllowance.IsNegative() {
		return DeductionBreakdown{}, &InputError{Field: "period_allowance", Reason: "must not be negative"}
	}
	if in.TaxableEarnings != nil && in.TaxableEarnings.IsNegative() {
		return DeductionBreakdown{}, &InputError{Field: "taxable_earnings", Reason: "must not be negative"}
	}
	if in.IncomeTaxOverride != nil && in.IncomeTaxOverride.GreaterThan(in.Gross) {
		return DeductionBreakdown{}, &InputError{Field: "income_tax_override", Reason: "must not exceed gross pay"}
	}
	if in.Rules.Region == "" {
		return DeductionBreakdown{}, fmt.Errorf("%w: empty rule set", ErrUnsupportedRegion)
	}

	out := DeductionBreakdown{PeriodAllowance: in.PeriodAllowance}
	base := valueOr(in.TaxableEarnings, in.Gross)
	out.TaxableIncome = maxDec(decimal.Zero, base.Sub(in.PeriodAllowance))

	if in.Rules.ManualOnly {
		out.FederalTax = Cents(valueOr(in.IncomeTaxOverride, decimal.Zero))
		out.Advisories = append(out.Advisories, Advisory{
			Code:    AdvisoryManualRegion,
			Message: fmt.Sprintf("region %s applies caller-entered amounts only", in.Rules.Region),
		})
	} else {
		if err := out.applyIncomeTax(in); err != nil {
			return DeductionBreakdown{}, err
		}
		out.applyContributions(in)
	}

	out.applyVoluntary(in)

	if in.Gross.IsPositive() && out.IncomeTax().IsZero() {
		out.Advisories = append(out.Advisories, Advisory{
			Code:    AdvisoryZeroTax,
			Message: "no income tax withheld for this period",
		})
	}

	out.EmployeeTotal = sum(
		out.FederalTax, out.ProvincialTax, out.StateTax,
		out.CPP, out.QPP, out.EI, out.RQAP, out.FICA, out.Medicare,
		out.Retirement, out.UnionDues, out.Garnishment,
		out.MedicalInsurance, out.DentalInsurance, out.LifeInsurance, out.Other,
	)
	e := &out.EmployerSide
	e.Total = sum(e.CPP, e.QPP, e.EI, e.RQAP, e.FICA, e.Medicare)
	return out, nil
}

func (d *DeductionBreakdown) applyIncomeTax(in DeductionInput) error {
	n, err := in.Frequency.PeriodsPerYear()
	if err != nil {
		return err
	}
	periods := decimal.NewFromInt(int64(n))

	hasProvincialSchedule := false
	for _, s := range in.Rules.Schedules {
		annual := d.TaxableIncome.Mul(periods)
		tax := Cents(BracketTax(annual, s.Brackets).Div(periods))
		switch s.Level {
		case LevelFederal:
			d.FederalTax = tax
		case LevelProvincial:
			d.ProvincialTax = tax
			hasProvincialSchedule = true
		}
	}

	switch in.Rules.SubdivisionTax {
	case SubdivisionProvincial, SubdivisionState:
		if in.SubdivisionTaxPercent == nil {
			d.Advisories = append(d.Advisories, Advisory{
				Code:    AdvisoryMissingSubdivision,
				Message: fmt.Sprintf("no %s tax percentage supplied for %q", subdivisionNoun(in.Rules.SubdivisionTax), in.Subdivision),
			})
			break
		}
		tax := Cents(PercentOf(d.TaxableIncome, *in.SubdivisionTaxPercent))
		if in.Rules.SubdivisionTax == SubdivisionState {
			d.StateTax = tax
		} else if !hasProvincialSchedule {
			d.ProvincialTax = tax
		}
	}

	if in.IncomeTaxOverride != nil {
		d.FederalTax = Cents(*in.IncomeTaxOverride)
	}
	return nil
}

func subdivisionNoun(s SubdivisionTax) string {
	if s == SubdivisionState {
		return "state"
	}
	return "provincial"
}

func (d *DeductionBreakdown) applyContributions(in DeductionInput) {
	for _, rule := range in.Rules.Contributions {
		employee, capped := capContribution(Cents(PercentOf(in.Gross, rule.EmployeeRate)), rule.AnnualCap, in.YTD.employee(rule.Kind))
		employer, _ := capContribution(Cents(PercentOf(in.Gross, rule.EmployerRate)), rule.EmployerAnnualCap, in.YTD.employer(rule.Kind))
		d.setContribution(rule.Kind, employee)
		d.EmployerSide.setContribution(rule.Kind, employer)
		if capped {
			d.Advisories = append(d.Advisories, Advisory{
				Code:    AdvisoryCapReached,
				Message: fmt.Sprintf("%s annual maximum reached", rule.Kind),
			})
		}
	}
}

func (d *DeductionBreakdown) applyVoluntary(in DeductionInput) {
	v := in.Voluntary
	d.Retirement = Cents(PercentOf(in.RetirementBase, v.RetirementPercent)).Add(Cents(v.RetirementAmount))
	d.UnionDues = Cents(v.UnionDues)
	d.Garnishment = Cents(v.Garnishment)
	d.MedicalInsurance = Cents(v.MedicalInsurance)
	d.DentalInsurance = Cents(v.DentalInsurance)
	d.LifeInsurance = Cents(v.LifeInsurance)
	d.Other = Cents(v.Other)
}

// capContribution limits amount to cap-ytd. The bool reports whether the
// cap reduced the amount.
func capContribution(amount decimal.Decimal, cap *decimal.Decimal, ytd decimal.Decimal) (decimal.Decimal, bool) {
	if cap == nil {
		return amount, false
	}
	remaining := cap.Sub(ytd)
	if !remaining.IsPositive() {
		return decimal.Zero, amount.IsPositive()
	}
	if amount.GreaterThan(remaining) {
		return remaining, true
	}
	return amount, false
}

// BracketTax applies ordered cumulative brackets to income. Each bracket
// taxes only the slice between its threshold and the next one; the last
// bracket is open-ended.
func BracketTax(income decimal.Decimal, brackets []TaxBracket) decimal.Decimal {
	total := decimal.Zero
	for i, b := range brackets {
		if !income.GreaterThan(b.Threshold) {
			break
		}
		upper := income
		if i+1 < len(brackets) {
			upper = minDec(income, brackets[i+1].Threshold)
		}
		total = total.Add(PercentOf(upper.Sub(b.Threshold), b.Rate))
	}
	return total
}

func (d *DeductionBreakdown) setContribution(k ContributionKind, v decimal.Decimal) {
	switch k {
	case ContributionCPP:
		d.CPP = v
	case ContributionQPP:
		d.QPP = v
	case ContributionEI:
		d.EI = v
	case ContributionRQAP:
		d.RQAP = v
	case ContributionFICA:
		d.FICA = v
	case ContributionMedicare:
		d.Medicare = v
	}
}

func (d DeductionBreakdown) contribution(k ContributionKind) decimal.Decimal {
	switch k {
	case ContributionCPP:
		return d.CPP
	case ContributionQPP:
		return d.QPP
	case ContributionEI:
		return d.EI
	case ContributionRQAP:
		return d.RQAP
	case ContributionFICA:
		return d.FICA
	case ContributionMedicare:
		return d.Medicare
	}
	return decimal.Zero
}

func (e *EmployerContributions) setContribution(k ContributionKind, v decimal.Decimal) {
	switch k {
	case ContributionCPP:
		e.CPP = v
	case ContributionQPP:
		e.QPP = v
	case ContributionEI:
		e.EI = v
	case ContributionRQAP:
		e.RQAP = v
	case ContributionFICA:
		e.FICA = v
	case ContributionMedicare:
		e.Medicare = v
	}
}

func (e EmployerContributions) contribution(k ContributionKind) decimal.Decimal {
	switch k {
	case ContributionCPP:
		return e.CPP
	case ContributionQPP:
		return e.QPP
	case ContributionEI:
		return e.EI
	case ContributionRQAP:
		return e.RQAP
	case ContributionFICA:
		return e.FICA
	case ContributionMedicare:
		return e.Medicare
	}
	return decimal.Zero
}
