package payroll

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// DeductionCategory selects the payroll item field a deduction rule feeds.
type DeductionCategory string

const (
	DeductionIncomeTax       DeductionCategory = "income_tax"
	DeductionSocialSecurity  DeductionCategory = "social_security"
	DeductionHealthInsurance DeductionCategory = "health_insurance"
	DeductionRetirement      DeductionCategory = "retirement_contribution"
	DeductionLoan            DeductionCategory = "loan"
	DeductionOther           DeductionCategory = "other"
)

var deductionCategories = []string{
	string(DeductionIncomeTax), string(DeductionSocialSecurity), string(DeductionHealthInsurance),
	string(DeductionRetirement), string(DeductionLoan), string(DeductionOther),
}

// BenefitCategory selects the payroll item field a benefit rule feeds.
type BenefitCategory string

const (
	BenefitHealth     BenefitCategory = "health"
	BenefitRetirement BenefitCategory = "retirement"
	BenefitOther      BenefitCategory = "other"
)

var benefitCategories = []string{string(BenefitHealth), string(BenefitRetirement), string(BenefitOther)}

// Rule holds what deduction and benefit rules have in common: identity, the
// calculation, optional clamps and the employee scope.
type Rule struct {
	ID                  string
	CompanyID           string
	Code                string
	Name                string
	Calculation         Calculation
	MinimumAmount       decimal.NullDecimal
	MaximumAmount       decimal.NullDecimal
	ApplicableEmployees []string
	Condition           string
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Calculate evaluates the rule against base. The raw amount is floored by
// MinimumAmount first and then capped by MaximumAmount.
func (r Rule) Calculate(base decimal.Decimal) decimal.Decimal {
	if r.Calculation == nil {
		return decimal.Zero
	}
	if base.IsNegative() {
		base = decimal.Zero
	}

	amount := r.Calculation.compute(base)
	if r.MinimumAmount.Valid && amount.LessThan(r.MinimumAmount.Decimal) {
		amount = r.MinimumAmount.Decimal
	}
	if r.MaximumAmount.Valid && amount.GreaterThan(r.MaximumAmount.Decimal) {
		amount = r.MaximumAmount.Decimal
	}
	return amount
}

// IsApplicableTo reports whether the rule covers employeeID. An empty
// employee set covers everyone.
func (r Rule) IsApplicableTo(employeeID string) bool {
	if len(r.ApplicableEmployees) == 0 {
		return true
	}
	return slices.Contains(r.ApplicableEmployees, employeeID)
}

// Validate checks the calculation and the clamp bounds.
func (r Rule) Validate() error {
	if r.Calculation == nil {
		return fmt.Errorf("%w: calculation is required", ErrRuleConfiguration)
	}
	if err := r.Calculation.Validate(); err != nil {
		return err
	}
	if r.MinimumAmount.Valid && r.MinimumAmount.Decimal.IsNegative() {
		return fmt.Errorf("%w: minimum amount must be non-negative", ErrRuleConfiguration)
	}
	if r.MaximumAmount.Valid && r.MaximumAmount.Decimal.IsNegative() {
		return fmt.Errorf("%w: maximum amount must be non-negative", ErrRuleConfiguration)
	}
	if r.MinimumAmount.Valid && r.MaximumAmount.Valid && r.MinimumAmount.Decimal.GreaterThan(r.MaximumAmount.Decimal) {
		return fmt.Errorf("%w: minimum amount exceeds maximum amount", ErrRuleConfiguration)
	}
	return nil
}

type DeductionRule struct {
	Rule
	Category DeductionCategory
}

func (r DeductionRule) Validate() error {
	if !slices.Contains(deductionCategories, string(r.Category)) {
		return fmt.Errorf("%w: unknown deduction category %q", ErrRuleConfiguration, r.Category)
	}
	return r.Rule.Validate()
}

type BenefitRule struct {
	Rule
	Category      BenefitCategory
	EffectiveDate *time.Time
	ExpiryDate    *time.Time
}

// IsEffective reports whether asOf falls inside the benefit's window. Both
// ends are inclusive and compared by calendar day.
func (r BenefitRule) IsEffective(asOf time.Time) bool {
	day := dateOnly(asOf)
	if r.EffectiveDate != nil && day.Before(dateOnly(*r.EffectiveDate)) {
		return false
	}
	if r.ExpiryDate != nil && day.After(dateOnly(*r.ExpiryDate)) {
		return false
	}
	return true
}

func (r BenefitRule) Validate() error {
	if !slices.Contains(benefitCategories, string(r.Category)) {
		return fmt.Errorf("%w: unknown benefit category %q", ErrRuleConfiguration, r.Category)
	}
	if r.EffectiveDate != nil && r.ExpiryDate != nil && dateOnly(*r.ExpiryDate).Before(dateOnly(*r.EffectiveDate)) {
		return fmt.Errorf("%w: expiry date is before effective date", ErrRuleConfiguration)
	}
	return r.Rule.Validate()
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
