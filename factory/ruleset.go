/*
Package factory provides YAML/JSON to Go rule set conversion.

PURPOSE:
  Converts rule set documents into payroll.RegionRuleSet values and a
  validated payroll.RuleBook. Rates, brackets and caps change every tax
  year; keeping them in a document means a new year is a config change, not
  a code change.

DOCUMENT SCHEMA (YAML shown, JSON uses the same keys):
  version: 1
  rule_sets:
    - region: qc
      name: Quebec 2025
      currency: CAD
      annual_allowance: 15000
      default_vacation_percent: 4
      overtime: {threshold_hours: 40, multiplier: 1.5}
      schedules:
        - level: federal
          brackets:
            - {threshold: 0, rate: 15}
            - {threshold: 57375, rate: 20.5}
      contributions:
        - {kind: qpp, employee_rate: 6.4, employer_rate: 6.4, annual_cap: 4339.20}

  subdivision_tax is "", "provincial_percent" or "state_percent".
  manual_only regions carry no schedules or contributions.
  Rates are percents. A missing employer_annual_cap copies annual_cap.

USAGE:
  f := factory.NewRuleSetFactory()
  book, err := f.Defaults()                 // embedded 2025 figures
  book, err := f.LoadFile("rules.yaml")     // .json also accepted

SEE ALSO:
  - payroll/rules.go: RegionRuleSet and RuleBook
  - defaults.yaml: Shipped rule sets
*/
package factory

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// RuleBookDocument is the top-level rule set file.
type RuleBookDocument struct {
	Version  int               `yaml:"version" json:"version"`
	RuleSets []RuleSetDocument `yaml:"rule_sets" json:"rule_sets"`
}

// RuleSetDocument is one region.
type RuleSetDocument struct {
	Region                 string                 `yaml:"region" json:"region"`
	Name                   string                 `yaml:"name" json:"name"`
	Currency               string                 `yaml:"currency" json:"currency"`
	AnnualAllowance        float64                `yaml:"annual_allowance" json:"annual_allowance"`
	DefaultVacationPercent float64                `yaml:"default_vacation_percent" json:"default_vacation_percent"`
	SubdivisionTax         string                 `yaml:"subdivision_tax,omitempty" json:"subdivision_tax,omitempty"`
	ManualOnly             bool                   `yaml:"manual_only,omitempty" json:"manual_only,omitempty"`
	Overtime               *OvertimeDocument      `yaml:"overtime,omitempty" json:"overtime,omitempty"`
	Schedules              []ScheduleDocument     `yaml:"schedules,omitempty" json:"schedules,omitempty"`
	Contributions          []ContributionDocument `yaml:"contributions,omitempty" json:"contributions,omitempty"`
}

type OvertimeDocument struct {
	ThresholdHours float64 `yaml:"threshold_hours" json:"threshold_hours"`
	Multiplier     float64 `yaml:"multiplier" json:"multiplier"`
}

type ScheduleDocument struct {
	Level    string            `yaml:"level" json:"level"`
	Brackets []BracketDocument `yaml:"brackets" json:"brackets"`
}

type BracketDocument struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Rate      float64 `yaml:"rate" json:"rate"`
}

type ContributionDocument struct {
	Kind              string   `yaml:"kind" json:"kind"`
	EmployeeRate      float64  `yaml:"employee_rate" json:"employee_rate"`
	EmployerRate      float64  `yaml:"employer_rate" json:"employer_rate"`
	AnnualCap         *float64 `yaml:"annual_cap,omitempty" json:"annual_cap,omitempty"`
	EmployerAnnualCap *float64 `yaml:"employer_annual_cap,omitempty" json:"employer_annual_cap,omitempty"`
}

// =============================================================================
// RULE SET FACTORY
// =============================================================================

// RuleSetFactory converts rule set documents to Go structs.
type RuleSetFactory struct{}

func NewRuleSetFactory() *RuleSetFactory {
	return &RuleSetFactory{}
}

// Defaults builds the RuleBook shipped with the binary.
func (f *RuleSetFactory) Defaults() (*payroll.RuleBook, error) {
	return f.ParseYAML(defaultsYAML)
}

// LoadFile reads a rule book from disk. The extension picks the decoder.
func (f *RuleSetFactory) LoadFile(path string) (*payroll.RuleBook, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule sets: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return f.ParseJSON(b)
	case ".yaml", ".yml":
		return f.ParseYAML(b)
	default:
		return nil, fmt.Errorf("rule sets %s: unsupported extension", path)
	}
}

func (f *RuleSetFactory) ParseYAML(b []byte) (*payroll.RuleBook, error) {
	var doc RuleBookDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule sets YAML: %w", err)
	}
	return f.FromDocument(doc)
}

func (f *RuleSetFactory) ParseJSON(b []byte) (*payroll.RuleBook, error) {
	var doc RuleBookDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule sets JSON: %w", err)
	}
	return f.FromDocument(doc)
}

// FromDocument converts and validates every rule set.
func (f *RuleSetFactory) FromDocument(doc RuleBookDocument) (*payroll.RuleBook, error) {
	if doc.Version != 1 {
		return nil, fmt.Errorf("rule sets: unsupported version %d", doc.Version)
	}
	if len(doc.RuleSets) == 0 {
		return nil, fmt.Errorf("rule sets: empty")
	}
	sets := make([]payroll.RegionRuleSet, 0, len(doc.RuleSets))
	for _, d := range doc.RuleSets {
		sets = append(sets, f.FromRuleSetDocument(d))
	}
	return payroll.NewRuleBook(sets...)
}

// FromRuleSetDocument converts without validating; NewRuleBook validates.
func (f *RuleSetFactory) FromRuleSetDocument(d RuleSetDocument) payroll.RegionRuleSet {
	rs := payroll.RegionRuleSet{
		Region:                 payroll.Region(strings.ToLower(strings.TrimSpace(d.Region))),
		Name:                   d.Name,
		Currency:               d.Currency,
		AnnualAllowance:        decimal.NewFromFloat(d.AnnualAllowance),
		DefaultVacationPercent: decimal.NewFromFloat(d.DefaultVacationPercent),
		SubdivisionTax:         payroll.SubdivisionTax(d.SubdivisionTax),
		ManualOnly:             d.ManualOnly,
	}
	if d.Overtime != nil {
		rs.Overtime = &payroll.OvertimeRule{
			ThresholdHours: decimal.NewFromFloat(d.Overtime.ThresholdHours),
			Multiplier:     decimal.NewFromFloat(d.Overtime.Multiplier),
		}
	}
	for _, s := range d.Schedules {
		sched := payroll.TaxSchedule{Level: payroll.ScheduleLevel(s.Level)}
		for _, b := range s.Brackets {
			sched.Brackets = append(sched.Brackets, payroll.TaxBracket{
				Threshold: decimal.NewFromFloat(b.Threshold),
				Rate:      decimal.NewFromFloat(b.Rate),
			})
		}
		rs.Schedules = append(rs.Schedules, sched)
	}
	for _, c := range d.Contributions {
		rule := payroll.ContributionRule{
			Kind:         payroll.ContributionKind(c.Kind),
			EmployeeRate: decimal.NewFromFloat(c.EmployeeRate),
			EmployerRate: decimal.NewFromFloat(c.EmployerRate),
			AnnualCap:    decPtr(c.AnnualCap),
		}
		rule.EmployerAnnualCap = decPtr(c.EmployerAnnualCap)
		if rule.EmployerAnnualCap == nil {
			rule.EmployerAnnualCap = rule.AnnualCap
		}
		rs.Contributions = append(rs.Contributions, rule)
	}
	return rs
}

// ToDocument converts a rule set back to its document form.
func (f *RuleSetFactory) ToDocument(rs payroll.RegionRuleSet) RuleSetDocument {
	d := RuleSetDocument{
		Region:                 string(rs.Region),
		Name:                   rs.Name,
		Currency:               rs.Currency,
		AnnualAllowance:        rs.AnnualAllowance.InexactFloat64(),
		DefaultVacationPercent: rs.DefaultVacationPercent.InexactFloat64(),
		SubdivisionTax:         string(rs.SubdivisionTax),
		ManualOnly:             rs.ManualOnly,
	}
	if rs.Overtime != nil {
		d.Overtime = &OvertimeDocument{
			ThresholdHours: rs.Overtime.ThresholdHours.InexactFloat64(),
			Multiplier:     rs.Overtime.Multiplier.InexactFloat64(),
		}
	}
	for _, s := range rs.Schedules {
		sd := ScheduleDocument{Level: string(s.Level)}
		for _, b := range s.Brackets {
			sd.Brackets = append(sd.Brackets, BracketDocument{
				Threshold: b.Threshold.InexactFloat64(),
				Rate:      b.Rate.InexactFloat64(),
			})
		}
		d.Schedules = append(d.Schedules, sd)
	}
	for _, c := range rs.Contributions {
		d.Contributions = append(d.Contributions, ContributionDocument{
			Kind:              string(c.Kind),
			EmployeeRate:      c.EmployeeRate.InexactFloat64(),
			EmployerRate:      c.EmployerRate.InexactFloat64(),
			AnnualCap:         floatPtr(c.AnnualCap),
			EmployerAnnualCap: floatPtr(c.EmployerAnnualCap),
		})
	}
	return d
}

func decPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func floatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	v := d.InexactFloat64()
	return &v
}
