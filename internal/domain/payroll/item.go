package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/validator"
	"github.com/shopspring/decimal"
)

// ConditionFacts are the values a rule condition can refer to.
type ConditionFacts struct {
	EmployeeID   string
	PayFrequency PayFrequency
	BasicSalary  decimal.Decimal
	GrossPay     decimal.Decimal
}

// ConditionEvaluator decides rule eligibility from a rule's condition
// expression. Check is used when a rule is saved, Eligible when it is applied.
type ConditionEvaluator interface {
	Check(expr string) error
	Eligible(expr string, facts ConditionFacts) (bool, error)
}

// CreateForEmployee starts a draft item for emp in period. Salary and pay
// frequency are copied so later employee changes do not alter the item.
func CreateForEmployee(emp Employee, period PayrollPeriod) (PayrollItem, error) {
	if emp.BasicSalary.IsNegative() {
		return PayrollItem{}, validator.ValidationErrors{{Field: "basic_salary", Message: "must not be negative"}}
	}
	hours, err := emp.PayFrequency.HoursPerPeriod()
	if err != nil {
		return PayrollItem{}, fmt.Errorf("%w: %q", err, emp.PayFrequency)
	}

	item := PayrollItem{
		CompanyID:    emp.CompanyID,
		EmployeeID:   emp.ID,
		PeriodID:     period.ID,
		PayFrequency: emp.PayFrequency,
		BasicSalary:  emp.BasicSalary,
		OvertimeRate: emp.BasicSalary.Div(hours).Round(2),
		Status:       PayrollStatusDraft,
	}
	if emp.FullName != "" {
		name := emp.FullName
		item.EmployeeName = &name
	}
	item.EmployeeCode = emp.EmployeeCode
	if period.Name != "" {
		name := period.Name
		item.PeriodName = &name
	}
	item.CalculateTotals()
	return item, nil
}

// CalculateOvertimePay sets OvertimePay from hours and rate, rounded to cents.
func (p *PayrollItem) CalculateOvertimePay() {
	p.OvertimePay = p.OvertimeHours.Mul(p.OvertimeRate).Round(2)
}

func (p *PayrollItem) grossPay() decimal.Decimal {
	return decimal.Sum(p.BasicSalary, p.OvertimePay, p.Bonus, p.Commission, p.Allowances, p.OtherEarnings)
}

// CalculateTotals recomputes gross, deduction and benefit totals and net pay.
func (p *PayrollItem) CalculateTotals() {
	p.GrossPay = p.grossPay()
	p.TotalDeductions = decimal.Sum(p.IncomeTax, p.SocialSecurity, p.HealthInsurance,
		p.RetirementContribution, p.LoanDeductions, p.OtherDeductions)
	p.TotalBenefits = decimal.Sum(p.HealthBenefits, p.RetirementBenefits, p.OtherBenefits)
	p.NetPay = p.GrossPay.Sub(p.TotalDeductions).Add(p.TotalBenefits)
}

func (p *PayrollItem) IsDraft() bool {
	return p.Status == PayrollStatusDraft
}

// ========== Custom lines ==========

func (p *PayrollItem) AddCustomEarning(name string, amount decimal.Decimal, note string) error {
	line, err := p.newCustomLine(name, amount, note)
	if err != nil {
		return err
	}
	p.CustomEarnings = append(p.CustomEarnings, line)
	p.OtherEarnings = p.OtherEarnings.Add(line.Amount)
	p.CalculateTotals()
	return nil
}

func (p *PayrollItem) AddCustomDeduction(name string, amount decimal.Decimal, note string) error {
	line, err := p.newCustomLine(name, amount, note)
	if err != nil {
		return err
	}
	p.CustomDeductions = append(p.CustomDeductions, line)
	p.OtherDeductions = p.OtherDeductions.Add(line.Amount)
	p.CalculateTotals()
	return nil
}

func (p *PayrollItem) AddCustomBenefit(name string, amount decimal.Decimal, note string) error {
	line, err := p.newCustomLine(name, amount, note)
	if err != nil {
		return err
	}
	p.CustomBenefits = append(p.CustomBenefits, line)
	p.OtherBenefits = p.OtherBenefits.Add(line.Amount)
	p.CalculateTotals()
	return nil
}

func (p *PayrollItem) newCustomLine(name string, amount decimal.Decimal, note string) (CustomLine, error) {
	if !p.IsDraft() {
		return CustomLine{}, ErrPayrollItemNotEditable
	}

	var errs validator.ValidationErrors
	if validator.IsEmpty(name) {
		errs = append(errs, validator.ValidationError{Field: "name", Message: "name is required"})
	}
	if amount.IsNegative() {
		errs = append(errs, validator.ValidationError{Field: "amount", Message: "amount must not be negative"})
	}
	if len(errs) > 0 {
		return CustomLine{}, errs
	}
	return CustomLine{Name: strings.TrimSpace(name), Amount: amount, Note: note}, nil
}

// ParseAmount parses a decimal amount coming from user input. Anything that is
// not a number is reported as a validation error on the amount field.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, validator.ValidationErrors{{Field: "amount", Message: "amount must be a number"}}
	}
	return d, nil
}

// ========== Status transitions ==========

// Approve moves a draft to approved, recomputing totals first. It reports
// false and changes nothing when the item is not a draft.
func (p *PayrollItem) Approve() bool {
	if p.Status != PayrollStatusDraft {
		return false
	}
	p.CalculateTotals()
	now := time.Now()
	p.Status = PayrollStatusApproved
	p.ApprovedAt = &now
	return true
}

// MarkAsPaid moves an approved item to paid. It reports false and changes
// nothing from any other status.
func (p *PayrollItem) MarkAsPaid() bool {
	if p.Status != PayrollStatusApproved {
		return false
	}
	now := time.Now()
	p.Status = PayrollStatusPaid
	p.PaidAt = &now
	return true
}

func (p *PayrollItem) Summary() PayrollSummary {
	s := PayrollSummary{
		ItemID:          p.ID,
		EmployeeID:      p.EmployeeID,
		PeriodID:        p.PeriodID,
		GrossPay:        p.GrossPay,
		TotalDeductions: p.TotalDeductions,
		TotalBenefits:   p.TotalBenefits,
		NetPay:          p.NetPay,
		Status:          string(p.Status),
	}
	if p.EmployeeName != nil {
		s.EmployeeName = *p.EmployeeName
	}
	if p.PeriodName != nil {
		s.PeriodName = *p.PeriodName
	}
	return s
}

// ========== Rule application ==========

// ApplyRules replaces the contributions of previously applied rules with the
// result of evaluating deductions and benefits against the current gross pay.
// Inactive rules, rules not covering the employee, benefits not effective on
// asOf and rules whose condition is false are skipped. Each amount is rounded
// to cents. The item is left untouched when an error is returned.
func (p *PayrollItem) ApplyRules(deductions []DeductionRule, benefits []BenefitRule, asOf time.Time, conditions ConditionEvaluator) error {
	if !p.IsDraft() {
		return ErrPayrollItemNotEditable
	}

	overtimePay := p.OvertimeHours.Mul(p.OvertimeRate).Round(2)
	gross := decimal.Sum(p.BasicSalary, overtimePay, p.Bonus, p.Commission, p.Allowances, p.OtherEarnings)
	facts := ConditionFacts{
		EmployeeID:   p.EmployeeID,
		PayFrequency: p.PayFrequency,
		BasicSalary:  p.BasicSalary,
		GrossPay:     gross,
	}

	var applied []AppliedRule
	for _, r := range deductions {
		ok, err := p.ruleApplies(r.Rule, facts, conditions)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		applied = append(applied, AppliedRule{
			RuleID:   r.ID,
			Code:     r.Code,
			Name:     r.Name,
			Type:     RuleTypeDeduction,
			Category: string(r.Category),
			Amount:   r.Calculate(gross).Round(2),
		})
	}
	for _, r := range benefits {
		if !r.IsEffective(asOf) {
			continue
		}
		ok, err := p.ruleApplies(r.Rule, facts, conditions)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		applied = append(applied, AppliedRule{
			RuleID:   r.ID,
			Code:     r.Code,
			Name:     r.Name,
			Type:     RuleTypeBenefit,
			Category: string(r.Category),
			Amount:   r.Calculate(gross).Round(2),
		})
	}

	p.OvertimePay = overtimePay
	for _, a := range p.AppliedRules {
		if f := p.ruleField(a.Type, a.Category); f != nil {
			*f = f.Sub(a.Amount)
		}
	}
	for _, a := range applied {
		if f := p.ruleField(a.Type, a.Category); f != nil {
			*f = f.Add(a.Amount)
		}
	}
	p.AppliedRules = applied
	p.CalculateTotals()
	return nil
}

// appliedAmount sums the rule contributions currently booked to one field.
func (p *PayrollItem) appliedAmount(t RuleType, category string) decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.AppliedRules {
		if a.Type == t && a.Category == category {
			total = total.Add(a.Amount)
		}
	}
	return total
}

func (p *PayrollItem) ruleApplies(r Rule, facts ConditionFacts, conditions ConditionEvaluator) (bool, error) {
	if !r.IsActive || !r.IsApplicableTo(p.EmployeeID) {
		return false, nil
	}
	if r.Condition == "" {
		return true, nil
	}
	if conditions == nil {
		return false, fmt.Errorf("%w: rule %s has a condition but no evaluator is configured", ErrRuleConfiguration, r.Code)
	}
	ok, err := conditions.Eligible(r.Condition, facts)
	if err != nil {
		return false, fmt.Errorf("rule %s: %w", r.Code, err)
	}
	return ok, nil
}

func (p *PayrollItem) ruleField(t RuleType, category string) *decimal.Decimal {
	if t == RuleTypeBenefit {
		switch BenefitCategory(category) {
		case BenefitHealth:
			return &p.HealthBenefits
		case BenefitRetirement:
			return &p.RetirementBenefits
		case BenefitOther:
			return &p.OtherBenefits
		}
		return nil
	}

	switch DeductionCategory(category) {
	case DeductionIncomeTax:
		return &p.IncomeTax
	case DeductionSocialSecurity:
		return &p.SocialSecurity
	case DeductionHealthInsurance:
		return &p.HealthInsurance
	case DeductionRetirement:
		return &p.RetirementContribution
	case DeductionLoan:
		return &p.LoanDeductions
	case DeductionOther:
		return &p.OtherDeductions
	}
	return nil
}
