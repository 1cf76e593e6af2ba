package payroll

import (
	"context"
	"time"
)

// PayrollRepository defines data access methods for payroll.
// All methods include companyID parameter to prevent cross-company data access attacks.
type PayrollRepository interface {
	// Deduction rules
	CreateDeductionRule(ctx context.Context, rule DeductionRule) (DeductionRule, error)
	GetDeductionRule(ctx context.Context, id string, companyID string) (DeductionRule, error)
	ListDeductionRules(ctx context.Context, companyID string, filter RuleFilter) ([]DeductionRule, error)
	UpdateDeductionRule(ctx context.Context, rule DeductionRule) (DeductionRule, error)
	SetDeductionRuleActive(ctx context.Context, id string, companyID string, active bool) error

	// Benefit rules
	CreateBenefitRule(ctx context.Context, rule BenefitRule) (BenefitRule, error)
	GetBenefitRule(ctx context.Context, id string, companyID string) (BenefitRule, error)
	ListBenefitRules(ctx context.Context, companyID string, filter RuleFilter) ([]BenefitRule, error)
	UpdateBenefitRule(ctx context.Context, rule BenefitRule) (BenefitRule, error)
	SetBenefitRuleActive(ctx context.Context, id string, companyID string, active bool) error

	// Periods
	CreatePeriod(ctx context.Context, period PayrollPeriod) (PayrollPeriod, error)
	GetPeriod(ctx context.Context, id string, companyID string) (PayrollPeriod, error)
	ListPeriods(ctx context.Context, companyID string, filter PeriodFilter) ([]PayrollPeriod, int64, error)
	ClosePeriod(ctx context.Context, id string, companyID string, registerPath string, closedAt time.Time) error

	// Employees
	GetEmployee(ctx context.Context, id string, companyID string) (Employee, error)
	ListPayableEmployees(ctx context.Context, companyID string, employeeIDs []string) ([]Employee, error)

	// Payroll items
	CreateItem(ctx context.Context, item PayrollItem) (PayrollItem, error)
	GetItem(ctx context.Context, id string, companyID string) (PayrollItem, error)
	ListItems(ctx context.Context, companyID string, filter PayrollItemFilter) ([]PayrollItem, int64, error)
	ListItemsByPeriod(ctx context.Context, periodID string, companyID string) ([]PayrollItem, error)
	ExistingItemEmployees(ctx context.Context, periodID string, companyID string) (map[string]bool, error)
	// UpdateItem persists the inputs and computed amounts of a draft item.
	UpdateItem(ctx context.Context, item PayrollItem) error
	// UpdateItemStatus writes the item's status fields only if the stored
	// status still equals from, returning ErrInvalidStatusTransition otherwise.
	UpdateItemStatus(ctx context.Context, item PayrollItem, from PayrollStatus) error
	DeleteItem(ctx context.Context, id string, companyID string) error

	// Aggregations
	GetPeriodTotals(ctx context.Context, periodID string, companyID string) (PeriodTotals, error)
}

// TxManager runs fn inside a database transaction carried by the context.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
