package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AssembleGross is the GrossPayAssembler.
//
//	regular  = min(hours, threshold) x rate
//	overtime = max(0, hours - threshold) x rate x multiplier
//	vacation = vacation% x (regular + overtime + bonus + commission + tip), unless a fixed amount is given
//	gross    = regular + overtime + vacation + bonus + commission + tip + allowances
//
// Without an overtime threshold every hour is regular. A vacation
// percentage above the policy's advisory threshold is reported, not rejected.
func AssembleGross(in EarningsInput, p Policy) (GrossBreakdown, error) {
	if err := in.Validate(); err != nil {
		return GrossBreakdown{}, err
	}
	if err := p.Validate(); err != nil {
		return GrossBreakdown{}, err
	}

	out := GrossBreakdown{
		RegularHours: in.Hours,
		Bonus:        Cents(in.Bonus),
		Commission:   Cents(in.Commission),
		Tip:          Cents(in.Tip),
		Allowances:   Cents(in.Allowances),
	}

	multiplier := one
	if p.OvertimeThreshold != nil {
		out.RegularHours = minDec(in.Hours, *p.OvertimeThreshold)
		out.OvertimeHours = maxDec(decimal.Zero, in.Hours.Sub(*p.OvertimeThreshold))
		if p.OvertimeMultiplier.IsPositive() {
			multiplier = p.OvertimeMultiplier
		}
	}
	out.RegularPay = Cents(out.RegularHours.Mul(in.HourlyRate))
	out.OvertimePay = Cents(out.OvertimeHours.Mul(in.HourlyRate).Mul(multiplier))

	vacationBase := sum(out.RegularPay, out.OvertimePay, out.Bonus, out.Commission, out.Tip)
	switch {
	case in.VacationAmount != nil:
		out.VacationFixed = true
		out.VacationPay = Cents(*in.VacationAmount)
	default:
		out.VacationPercent = valueOr(in.VacationPercent, valueOr(p.DefaultVacationPercent, decimal.Zero))
		out.VacationPay = Cents(PercentOf(vacationBase, out.VacationPercent))
	}

	threshold := p.VacationAdvisoryPercent
	if !threshold.IsPositive() {
		threshold = DefaultVacationAdvisoryPercent
	}
	if !out.VacationFixed && out.VacationPercent.GreaterThan(threshold) {
		out.Advisories = append(out.Advisories, Advisory{
			Code:    AdvisoryHighVacation,
			Message: fmt.Sprintf("vacation percentage %s%% exceeds %s%%", out.VacationPercent, threshold),
		})
	}

	out.Gross = vacationBase.Add(out.VacationPay).Add(out.Allowances)
	return out, nil
}
