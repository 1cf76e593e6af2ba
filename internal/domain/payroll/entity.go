package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayrollStatus enum
type PayrollStatus string

const (
	PayrollStatusDraft    PayrollStatus = "draft"
	PayrollStatusApproved PayrollStatus = "approved"
	PayrollStatusPaid     PayrollStatus = "paid"
)

// PayFrequency enum
type PayFrequency string

const (
	PayFrequencyMonthly     PayFrequency = "monthly"
	PayFrequencySemiMonthly PayFrequency = "semi_monthly"
	PayFrequencyBiweekly    PayFrequency = "biweekly"
	PayFrequencyWeekly      PayFrequency = "weekly"
	PayFrequencyDaily       PayFrequency = "daily"
)

var hoursPerPeriod = map[PayFrequency]decimal.Decimal{
	PayFrequencyMonthly:     decimal.RequireFromString("173.33"),
	PayFrequencySemiMonthly: decimal.RequireFromString("86.67"),
	PayFrequencyBiweekly:    decimal.NewFromInt(80),
	PayFrequencyWeekly:      decimal.NewFromInt(40),
	PayFrequencyDaily:       decimal.NewFromInt(8),
}

// HoursPerPeriod is the divisor turning a salary for this frequency into an
// hourly rate.
func (f PayFrequency) HoursPerPeriod() (decimal.Decimal, error) {
	h, ok := hoursPerPeriod[f]
	if !ok {
		return decimal.Zero, ErrUnsupportedPayFrequency
	}
	return h, nil
}

// PeriodStatus enum
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "open"
	PeriodStatusClosed PeriodStatus = "closed"
)

// Employee - payroll view of an employee record
type Employee struct {
	ID           string
	CompanyID    string
	FullName     string
	EmployeeCode *string
	BasicSalary  decimal.Decimal
	PayFrequency PayFrequency
}

// PayrollPeriod - date range a payroll is run for
type PayrollPeriod struct {
	ID           string
	CompanyID    string
	Name         string
	StartDate    time.Time
	EndDate      time.Time
	PayDate      *time.Time
	Status       PeriodStatus
	RegisterPath *string
	ClosedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CustomLine - ad hoc earning, deduction or benefit
type CustomLine struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

// RuleType enum
type RuleType string

const (
	RuleTypeDeduction RuleType = "deduction"
	RuleTypeBenefit   RuleType = "benefit"
)

// AppliedRule - contribution of one rule to a payroll item
type AppliedRule struct {
	RuleID   string          `json:"rule_id"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Type     RuleType        `json:"type"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// PayrollItem - one employee's pay line for one period
type PayrollItem struct {
	ID           string
	CompanyID    string
	EmployeeID   string
	PeriodID     string
	PayFrequency PayFrequency

	// Earnings
	BasicSalary    decimal.Decimal
	OvertimeHours  decimal.Decimal
	OvertimeRate   decimal.Decimal
	OvertimePay    decimal.Decimal
	Bonus          decimal.Decimal
	Commission     decimal.Decimal
	Allowances     decimal.Decimal
	OtherEarnings  decimal.Decimal
	CustomEarnings []CustomLine

	// Deductions
	IncomeTax              decimal.Decimal
	SocialSecurity         decimal.Decimal
	HealthInsurance        decimal.Decimal
	RetirementContribution decimal.Decimal
	LoanDeductions         decimal.Decimal
	OtherDeductions        decimal.Decimal
	CustomDeductions       []CustomLine

	// Benefits
	HealthBenefits     decimal.Decimal
	RetirementBenefits decimal.Decimal
	OtherBenefits      decimal.Decimal
	CustomBenefits     []CustomLine

	// Derived
	GrossPay        decimal.Decimal
	TotalDeductions decimal.Decimal
	TotalBenefits   decimal.Decimal
	NetPay          decimal.Decimal

	AppliedRules []AppliedRule
	Status       PayrollStatus
	ApprovedAt   *time.Time
	ApprovedBy   *string
	PaidAt       *time.Time
	PaidBy       *string
	Notes        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Joined fields
	EmployeeName *string
	EmployeeCode *string
	PeriodName   *string
}

// PayrollSummary - read-only projection of a payroll item
type PayrollSummary struct {
	ItemID          string          `json:"item_id"`
	EmployeeID      string          `json:"employee_id"`
	EmployeeName    string          `json:"employee_name"`
	PeriodID        string          `json:"period_id"`
	PeriodName      string          `json:"period_name"`
	GrossPay        decimal.Decimal `json:"gross_pay"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	TotalBenefits   decimal.Decimal `json:"total_benefits"`
	NetPay          decimal.Decimal `json:"net_pay"`
	Status          string          `json:"status"`
}

// PeriodTotals - aggregate of all items in a period
type PeriodTotals struct {
	ItemCount       int
	DraftCount      int
	ApprovedCount   int
	PaidCount       int
	GrossPay        decimal.Decimal
	TotalDeductions decimal.Decimal
	TotalBenefits   decimal.Decimal
	NetPay          decimal.Decimal
}
