/*
Package payroll provides the payroll computation and finalization engine.

PURPOSE:
  Turns caller-supplied earnings for one employee and one pay period into a
  fully itemized PayrollRecord (gross, statutory and voluntary deductions,
  employer-side contributions, net pay), and owns the lifecycle of that
  record from draft to finalized to superseded. Every finalize or overwrite
  is captured by the AuditLedger as a versioned, diffable entry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Region / Frequency / Status: closed sets of codes
  - PayPeriod: region-independent period value object
  - EarningsInput: caller-owned inputs, read-only per computation
  - GrossBreakdown / DeductionBreakdown: fixed-shape results, no open maps
  - PayrollRecord: the central entity

DESIGN PRINCIPLES:
  1. Explicit parameters: rule sets and periods are arguments, never ambient
  2. Precision: decimal.Decimal everywhere, cents rounding at production
  3. Closed shapes: every deduction a region can produce has its own field
  4. Immutability: finalized records are only ever superseded, never edited

USAGE:
  rules, _ := factory.NewRuleSetFactory().Defaults()
  rec, err := payroll.Recompute(payroll.PayrollRecord{
      EmployeeID: "emp-1",
      Region:     payroll.RegionQuebec,
      Period:     payroll.NewPayPeriod(payroll.Biweekly, start, end),
      Input:      payroll.EarningsInput{Hours: payroll.Dec("40"), HourlyRate: payroll.Dec("21.50")},
  }, rules, payroll.YTDContributions{})

SEE ALSO:
  - rules.go: RegionRuleSet and RuleBook
  - gross.go: GrossPayAssembler
  - deductions.go: DeductionCalculator
  - service.go: PayrollRecordService
  - audit.go: AuditLedger
*/
package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CODES
// =============================================================================

// Region identifies a RegionRuleSet.
type Region string

const (
	RegionCanada Region = "ca"    // Canada outside Quebec
	RegionQuebec Region = "qc"    // Quebec
	RegionUS     Region = "us"    // United States
	RegionOther  Region = "other" // passthrough, manual deductions only
)

// Frequency is a pay frequency.
type Frequency string

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// PeriodsPerYear returns how many pay periods of this frequency make a year.
func (f Frequency) PeriodsPerYear() (int, error) {
	switch f {
	case Weekly:
		return 52, nil
	case Biweekly:
		return 26, nil
	case Monthly:
		return 12, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrequency, string(f))
	}
}

// Status is the lifecycle state of a PayrollRecord.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPreviewed  Status = "previewed"
	StatusFinalized  Status = "finalized"
	StatusSuperseded Status = "superseded"
)

// Mutable reports whether a record in this status may still be edited.
func (s Status) Mutable() bool { return s == StatusDraft || s == StatusPreviewed }

type EmployeeID string
type RecordID string

// =============================================================================
// PAY PERIOD
// =============================================================================

// PayPeriod is immutable once attached to a record. Dates are calendar days
// in UTC, both ends inclusive.
type PayPeriod struct {
	Frequency Frequency `json:"frequency"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// NewPayPeriod normalizes start and end to UTC calendar days.
func NewPayPeriod(f Frequency, start, end time.Time) PayPeriod {
	return PayPeriod{Frequency: f, Start: Day(start), End: Day(end)}
}

// MonthPeriod returns the implicit calendar-month period.
func MonthPeriod(year int, month time.Month) PayPeriod {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return PayPeriod{Frequency: Monthly, Start: start, End: start.AddDate(0, 1, -1)}
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Validate checks the frequency and the date order.
func (p PayPeriod) Validate() error {
	if _, err := p.Frequency.PeriodsPerYear(); err != nil {
		return err
	}
	if p.Start.IsZero() || p.End.IsZero() {
		return &InputError{Field: "period", Reason: "start and end dates are required"}
	}
	if p.End.Before(p.Start) {
		return &InputError{Field: "period", Reason: "end before start"}
	}
	return nil
}

// Year is the tax year the period is reported in (the year it ends).
func (p PayPeriod) Year() int { return p.End.Year() }

// Overlaps reports whether the period intersects [from, to]. Nil bounds are open.
func (p PayPeriod) Overlaps(from, to *time.Time) bool {
	if from != nil && p.End.Before(Day(*from)) {
		return false
	}
	if to != nil && p.Start.After(Day(*to)) {
		return false
	}
	return true
}

func (p PayPeriod) String() string {
	return p.Start.Format(DateLayout) + ".." + p.End.Format(DateLayout)
}

// DateLayout is the wire and storage format for period dates.
const DateLayout = "2006-01-02"

// RecordKey identifies the slot a finalized record occupies. At most one
// finalized record exists per key.
type RecordKey struct {
	EmployeeID EmployeeID
	Region     Region
	Start      time.Time
	End        time.Time
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.EmployeeID, k.Region, k.Start.Format(DateLayout), k.End.Format(DateLayout))
}

// =============================================================================
// INPUTS
// =============================================================================

// EarningsInput is the caller-owned snapshot a computation reads. Optional
// values are pointers so "absent" and "zero" stay distinguishable.
type EarningsInput struct {
	Hours      decimal.Decimal `json:"hours"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
	Bonus      decimal.Decimal `json:"bonus"`
	Commission decimal.Decimal `json:"commission"`
	Tip        decimal.Decimal `json:"tip"`
	Allowances decimal.Decimal `json:"allowances"` // travel, family and other declared taxable allowances

	VacationPercent *decimal.Decimal `json:"vacation_percent,omitempty"`
	VacationAmount  *decimal.Decimal `json:"vacation_amount,omitempty"` // wins over the percentage

	Subdivision           string           `json:"subdivision,omitempty"` // province or state code
	SubdivisionTaxPercent *decimal.Decimal `json:"subdivision_tax_percent,omitempty"`
	IncomeTaxOverride     *decimal.Decimal `json:"income_tax_override,omitempty"` // manual federal/income tax entry

	Voluntary VoluntaryDeductions `json:"voluntary"`
}

// VoluntaryDeductions are employee-elected or court-ordered amounts.
type VoluntaryDeductions struct {
	RetirementPercent decimal.Decimal `json:"retirement_percent"` // of earnings excluding vacation
	RetirementAmount  decimal.Decimal `json:"retirement_amount"`
	UnionDues         decimal.Decimal `json:"union_dues"`
	Garnishment       decimal.Decimal `json:"garnishment"`
	MedicalInsurance  decimal.Decimal `json:"medical_insurance"`
	DentalInsurance   decimal.Decimal `json:"dental_insurance"`
	LifeInsurance     decimal.Decimal `json:"life_insurance"`
	Other             decimal.Decimal `json:"other"`
}

// Validate rejects negative or malformed numeric fields before computation.
func (in EarningsInput) Validate() error {
	checks := []struct {
		field string
		value decimal.Decimal
	}{
		{"hours", in.Hours},
		{"hourly_rate", in.HourlyRate},
		{"bonus", in.Bonus},
		{"commission", in.Commission},
		{"tip", in.Tip},
		{"allowances", in.Allowances},
		{"vacation_percent", valueOr(in.VacationPercent, decimal.Zero)},
		{"vacation_amount", valueOr(in.VacationAmount, decimal.Zero)},
		{"subdivision_tax_percent", valueOr(in.SubdivisionTaxPercent, decimal.Zero)},
		{"income_tax_override", valueOr(in.IncomeTaxOverride, decimal.Zero)},
		{"voluntary.retirement_percent", in.Voluntary.RetirementPercent},
		{"voluntary.retirement_amount", in.Voluntary.RetirementAmount},
		{"voluntary.union_dues", in.Voluntary.UnionDues},
		{"voluntary.garnishment", in.Voluntary.Garnishment},
		{"voluntary.medical_insurance", in.Voluntary.MedicalInsurance},
		{"voluntary.dental_insurance", in.Voluntary.DentalInsurance},
		{"voluntary.life_insurance", in.Voluntary.LifeInsurance},
		{"voluntary.other", in.Voluntary.Other},
	}
	for _, c := range checks {
		if c.value.IsNegative() {
			return &InputError{Field: c.field, Reason: "must not be negative"}
		}
	}
	for _, c := range []struct {
		field string
		value decimal.Decimal
	}{
		{"vacation_percent", valueOr(in.VacationPercent, decimal.Zero)},
		{"subdivision_tax_percent", valueOr(in.SubdivisionTaxPercent, decimal.Zero)},
		{"voluntary.retirement_percent", in.Voluntary.RetirementPercent},
	} {
		if c.value.GreaterThan(hundred) {
			return &InputError{Field: c.field, Reason: "must not exceed 100"}
		}
	}
	return nil
}

// Policy is the organizational gross-pay policy. The zero value pays no
// overtime premium, takes the region's default vacation percentage and
// includes vacation pay in taxable income.
type Policy struct {
	OvertimeThreshold  *decimal.Decimal `json:"overtime_threshold,omitempty"` // hours per period
	OvertimeMultiplier decimal.Decimal  `json:"overtime_multiplier"`
	UseRegionOvertime  bool             `json:"use_region_overtime,omitempty"`

	DefaultVacationPercent  *decimal.Decimal `json:"default_vacation_percent,omitempty"`
	VacationAdvisoryPercent decimal.Decimal  `json:"vacation_advisory_percent"` // zero means DefaultVacationAdvisoryPercent

	ExcludeVacationFromTaxable bool `json:"exclude_vacation_from_taxable,omitempty"`
}

// Validate rejects negative percentages and an overtime multiplier that
// would pay overtime hours below the regular rate. A zero multiplier means 1.
func (p Policy) Validate() error {
	if p.OvertimeThreshold != nil && p.OvertimeThreshold.IsNegative() {
		return &InputError{Field: "policy.overtime_threshold", Reason: "must not be negative"}
	}
	if !p.OvertimeMultiplier.IsZero() && p.OvertimeMultiplier.LessThan(one) {
		return &InputError{Field: "policy.overtime_multiplier", Reason: "must be at least 1"}
	}
	if valueOr(p.DefaultVacationPercent, decimal.Zero).IsNegative() {
		return &InputError{Field: "policy.default_vacation_percent", Reason: "must not be negative"}
	}
	if p.VacationAdvisoryPercent.IsNegative() {
		return &InputError{Field: "policy.vacation_advisory_percent", Reason: "must not be negative"}
	}
	return nil
}

// DefaultVacationAdvisoryPercent is the soft vacation threshold above which
// an advisory is attached.
var DefaultVacationAdvisoryPercent = decimal.NewFromInt(10)

// resolve fills policy gaps from the region's rule set.
func (p Policy) resolve(rules RegionRuleSet) Policy {
	out := p
	if out.UseRegionOvertime && out.OvertimeThreshold == nil && rules.Overtime != nil {
		threshold := rules.Overtime.ThresholdHours
		out.OvertimeThreshold = &threshold
		out.OvertimeMultiplier = rules.Overtime.Multiplier
	}
	if out.DefaultVacationPercent == nil {
		pct := rules.DefaultVacationPercent
		out.DefaultVacationPercent = &pct
	}
	return out
}

// =============================================================================
// RESULTS
// =============================================================================

// Advisory is a non-fatal warning attached to a result for caller display.
type Advisory struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	AdvisoryHighVacation       = "high_vacation_percent"
	AdvisoryZeroTax            = "zero_tax"
	AdvisoryMissingSubdivision = "missing_subdivision"
	AdvisoryCapReached         = "statutory_cap_reached"
	AdvisoryManualRegion       = "manual_region"
)

// GrossBreakdown is the output of the GrossPayAssembler.
type GrossBreakdown struct {
	RegularHours    decimal.Decimal `json:"regular_hours"`
	OvertimeHours   decimal.Decimal `json:"overtime_hours"`
	RegularPay      decimal.Decimal `json:"regular_pay"`
	OvertimePay     decimal.Decimal `json:"overtime_pay"`
	Bonus           decimal.Decimal `json:"bonus"`
	Commission      decimal.Decimal `json:"commission"`
	Tip             decimal.Decimal `json:"tip"`
	Allowances      decimal.Decimal `json:"allowances"`
	VacationPercent decimal.Decimal `json:"vacation_percent"`
	VacationPay     decimal.Decimal `json:"vacation_pay"`
	VacationFixed   bool            `json:"vacation_fixed"`
	Gross           decimal.Decimal `json:"gross"`

	Advisories []Advisory `json:"advisories,omitempty"`
}

// DeductionBreakdown itemizes employee-side deductions. Employer-side
// amounts live in EmployerSide and are never part of EmployeeTotal.
type DeductionBreakdown struct {
	TaxableIncome   decimal.Decimal `json:"taxable_income"`
	PeriodAllowance decimal.Decimal `json:"period_allowance"`

	FederalTax    decimal.Decimal `json:"federal_tax"`
	ProvincialTax decimal.Decimal `json:"provincial_tax"`
	StateTax      decimal.Decimal `json:"state_tax"`

	CPP      decimal.Decimal `json:"cpp"`
	QPP      decimal.Decimal `json:"qpp"`
	EI       decimal.Decimal `json:"ei"`
	RQAP     decimal.Decimal `json:"rqap"`
	FICA     decimal.Decimal `json:"fica"`
	Medicare decimal.Decimal `json:"medicare"`

	Retirement       decimal.Decimal `json:"retirement"`
	UnionDues        decimal.Decimal `json:"union_dues"`
	Garnishment      decimal.Decimal `json:"garnishment"`
	MedicalInsurance decimal.Decimal `json:"medical_insurance"`
	DentalInsurance  decimal.Decimal `json:"dental_insurance"`
	LifeInsurance    decimal.Decimal `json:"life_insurance"`
	Other            decimal.Decimal `json:"other"`

	EmployeeTotal decimal.Decimal       `json:"employee_total"`
	EmployerSide  EmployerContributions `json:"employer_side"`

	Advisories []Advisory `json:"advisories,omitempty"`
}

// IncomeTax is federal + provincial + state income tax.
func (d DeductionBreakdown) IncomeTax() decimal.Decimal {
	return d.FederalTax.Add(d.ProvincialTax).Add(d.StateTax)
}

// EmployerContributions mirrors the statutory contributions paid by the employer.
type EmployerContributions struct {
	CPP      decimal.Decimal `json:"cpp"`
	QPP      decimal.Decimal `json:"qpp"`
	EI       decimal.Decimal `json:"ei"`
	RQAP     decimal.Decimal `json:"rqap"`
	FICA     decimal.Decimal `json:"fica"`
	Medicare decimal.Decimal `json:"medicare"`
	Total    decimal.Decimal `json:"total"`
}

// =============================================================================
// PAYROLL RECORD
// =============================================================================

// PayrollRecord is the central entity. Invariant, enforced by Recompute:
// NetPay == Earnings.Gross - Deductions.EmployeeTotal.
type PayrollRecord struct {
	ID         RecordID   `json:"id"`
	EmployeeID EmployeeID `json:"employee_id"`
	Region     Region     `json:"region"`
	Period     PayPeriod  `json:"period"`

	Input  EarningsInput `json:"input"`
	Policy Policy        `json:"policy"`

	Earnings   GrossBreakdown     `json:"earnings"`
	Deductions DeductionBreakdown `json:"deductions"`
	NetPay     decimal.Decimal    `json:"net_pay"`
	Advisories []Advisory         `json:"advisories,omitempty"`

	Status       Status   `json:"status"`
	ContentHash  string   `json:"content_hash"`
	BasedOn      RecordID `json:"based_on,omitempty"` // finalized record current when this draft was computed
	SupersededBy RecordID `json:"superseded_by,omitempty"`

	CreatedBy    string     `json:"created_by,omitempty"`
	FinalizedBy  string     `json:"finalized_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`

	// Downstream accounting reference; metadata outside the content hash.
	JournalRef string     `json:"journal_ref,omitempty"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
}

// Key returns the (employee, region, period) slot of the record.
func (r PayrollRecord) Key() RecordKey {
	return RecordKey{EmployeeID: r.EmployeeID, Region: r.Region, Start: r.Period.Start, End: r.Period.End}
}
