/*
rules.go - Region rule sets

PURPOSE:
  A RegionRuleSet is the static table of statutory rates, annual caps,
  income-tax brackets and the annual tax-free allowance for one region.
  Rule sets are built at deployment time (see factory/), validated once,
  and never mutated afterwards. A RuleBook is the lookup by region code.

BRACKETS:
  Thresholds are annual amounts, ascending, starting at zero, with an
  open-ended top bracket. The calculator annualizes a period's taxable
  income, applies the brackets, and divides back by the number of periods.

CAPS:
  AnnualCap is the maximum employee contribution for a calendar year.
  A nil cap means uncapped (e.g. Medicare).

SEE ALSO:
  - deductions.go: Applies a rule set to a gross amount
  - factory/ruleset.go: Builds rule sets from YAML or JSON
*/
package payroll

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ContributionKind names a statutory contribution.
type ContributionKind string

const (
	ContributionCPP      ContributionKind = "cpp"
	ContributionQPP      ContributionKind = "qpp"
	ContributionEI       ContributionKind = "ei"
	ContributionRQAP     ContributionKind = "rqap"
	ContributionFICA     ContributionKind = "fica"
	ContributionMedicare ContributionKind = "medicare"
)

func (k ContributionKind) valid() bool {
	switch k {
	case ContributionCPP, ContributionQPP, ContributionEI, ContributionRQAP, ContributionFICA, ContributionMedicare:
		return true
	}
	return false
}

// ContributionRule is one statutory contribution of a region.
type ContributionRule struct {
	Kind              ContributionKind
	EmployeeRate      decimal.Decimal // percent of gross
	EmployerRate      decimal.Decimal // percent of gross
	AnnualCap         *decimal.Decimal
	EmployerAnnualCap *decimal.Decimal
}

// TaxBracket starts at Threshold (annual) and taxes income above it at Rate percent.
type TaxBracket struct {
	Threshold decimal.Decimal
	Rate      decimal.Decimal
}

// ScheduleLevel says which deduction field a tax schedule feeds.
type ScheduleLevel string

const (
	LevelFederal    ScheduleLevel = "federal"
	LevelProvincial ScheduleLevel = "provincial"
)

// TaxSchedule is an ordered, gapless set of brackets.
type TaxSchedule struct {
	Level    ScheduleLevel
	Brackets []TaxBracket
}

// SubdivisionTax says how a caller-supplied sub-national percentage is used.
type SubdivisionTax string

const (
	SubdivisionNone       SubdivisionTax = ""
	SubdivisionProvincial SubdivisionTax = "provincial_percent"
	SubdivisionState      SubdivisionTax = "state_percent"
)

// OvertimeRule is a region's customary overtime threshold, used only when a
// policy opts in with UseRegionOvertime.
type OvertimeRule struct {
	ThresholdHours decimal.Decimal
	Multiplier     decimal.Decimal
}

// RegionRuleSet is immutable configuration keyed by region code.
type RegionRuleSet struct {
	Region                 Region
	Name                   string
	Currency               string
	AnnualAllowance        decimal.Decimal
	Schedules              []TaxSchedule
	Contributions          []ContributionRule
	SubdivisionTax         SubdivisionTax
	DefaultVacationPercent decimal.Decimal
	Overtime               *OvertimeRule

	// ManualOnly regions run no statutory math; only caller-entered
	// amounts are deducted.
	ManualOnly bool
}

// Validate checks bracket ordering, rates and contribution uniqueness.
func (rs RegionRuleSet) Validate() error {
	if rs.Region == "" {
		return fmt.Errorf("rule set: region code is required")
	}
	if rs.AnnualAllowance.IsNegative() {
		return fmt.Errorf("rule set %s: negative annual allowance", rs.Region)
	}
	if rs.DefaultVacationPercent.IsNegative() {
		return fmt.Errorf("rule set %s: negative default vacation percent", rs.Region)
	}
	if rs.ManualOnly && (len(rs.Schedules) > 0 || len(rs.Contributions) > 0) {
		return fmt.Errorf("rule set %s: manual-only regions carry no schedules or contributions", rs.Region)
	}

	levels := make(map[ScheduleLevel]bool)
	for _, s := range rs.Schedules {
		if s.Level != LevelFederal && s.Level != LevelProvincial {
			return fmt.Errorf("rule set %s: unknown schedule level %q", rs.Region, s.Level)
		}
		if levels[s.Level] {
			return fmt.Errorf("rule set %s: duplicate %s schedule", rs.Region, s.Level)
		}
		levels[s.Level] = true
		if err := validateBrackets(s.Brackets); err != nil {
			return fmt.Errorf("rule set %s: %s schedule: %w", rs.Region, s.Level, err)
		}
	}
	if levels[LevelProvincial] && rs.SubdivisionTax == SubdivisionProvincial {
		return fmt.Errorf("rule set %s: provincial schedule and provincial percent are exclusive", rs.Region)
	}

	kinds := make(map[ContributionKind]bool)
	for _, c := range rs.Contributions {
		if !c.Kind.valid() {
			return fmt.Errorf("rule set %s: unknown contribution %q", rs.Region, c.Kind)
		}
		if kinds[c.Kind] {
			return fmt.Errorf("rule set %s: duplicate contribution %s", rs.Region, c.Kind)
		}
		kinds[c.Kind] = true
		if c.EmployeeRate.IsNegative() || c.EmployerRate.IsNegative() {
			return fmt.Errorf("rule set %s: negative %s rate", rs.Region, c.Kind)
		}
		if (c.AnnualCap != nil && c.AnnualCap.IsNegative()) || (c.EmployerAnnualCap != nil && c.EmployerAnnualCap.IsNegative()) {
			return fmt.Errorf("rule set %s: negative %s cap", rs.Region, c.Kind)
		}
	}
	if rs.Overtime != nil && (!rs.Overtime.ThresholdHours.IsPositive() || rs.Overtime.Multiplier.LessThan(one)) {
		return fmt.Errorf("rule set %s: overtime needs a positive threshold and a multiplier of at least 1", rs.Region)
	}
	return nil
}

func validateBrackets(brackets []TaxBracket) error {
	if len(brackets) == 0 {
		return fmt.Errorf("no brackets")
	}
	if !brackets[0].Threshold.IsZero() {
		return fmt.Errorf("first bracket must start at 0")
	}
	for i, b := range brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThan(hundred) {
			return fmt.Errorf("bracket %d: rate out of range", i)
		}
		if i > 0 && !b.Threshold.GreaterThan(brackets[i-1].Threshold) {
			return fmt.Errorf("bracket %d: thresholds must ascend", i)
		}
	}
	return nil
}

func (rs RegionRuleSet) clone() RegionRuleSet {
	out := rs
	out.Schedules = make([]TaxSchedule, len(rs.Schedules))
	for i, s := range rs.Schedules {
		out.Schedules[i] = TaxSchedule{Level: s.Level, Brackets: append([]TaxBracket(nil), s.Brackets...)}
	}
	out.Contributions = append([]ContributionRule(nil), rs.Contributions...)
	if rs.Overtime != nil {
		ot := *rs.Overtime
		out.Overtime = &ot
	}
	return out
}

// =============================================================================
// RULE BOOK - Lookup by region code
// =============================================================================

// RuleBook holds validated rule sets. It is safe for concurrent reads and
// hands out copies, so callers can never mutate the configuration.
type RuleBook struct {
	sets map[Region]RegionRuleSet
}

// NewRuleBook validates every set and rejects duplicates.
func NewRuleBook(sets ...RegionRuleSet) (*RuleBook, error) {
	book := &RuleBook{sets: make(map[Region]RegionRuleSet, len(sets))}
	for _, rs := range sets {
		if err := rs.Validate(); err != nil {
			return nil, err
		}
		if _, dup := book.sets[rs.Region]; dup {
			return nil, fmt.Errorf("rule set %s: defined twice", rs.Region)
		}
		book.sets[rs.Region] = rs.clone()
	}
	return book, nil
}

// Lookup returns the rule set for a region, or ErrUnsupportedRegion.
func (b *RuleBook) Lookup(region Region) (RegionRuleSet, error) {
	if b == nil {
		return RegionRuleSet{}, fmt.Errorf("%w: %q", ErrUnsupportedRegion, string(region))
	}
	rs, ok := b.sets[region]
	if !ok {
		return RegionRuleSet{}, fmt.Errorf("%w: %q", ErrUnsupportedRegion, string(region))
	}
	return rs.clone(), nil
}

// Regions lists configured region codes in sorted order.
func (b *RuleBook) Regions() []Region {
	out := make([]Region, 0, len(b.sets))
	for r := range b.sets {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
