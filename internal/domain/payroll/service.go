package payroll

import "context"

// PayrollService resolves the company and user from the JWT claims in ctx.
type PayrollService interface {
	// Deduction rules
	CreateDeductionRule(ctx context.Context, req CreateDeductionRuleRequest) (DeductionRuleResponse, error)
	GetDeductionRule(ctx context.Context, id string) (DeductionRuleResponse, error)
	ListDeductionRules(ctx context.Context, activeOnly bool) ([]DeductionRuleResponse, error)
	UpdateDeductionRule(ctx context.Context, req UpdateDeductionRuleRequest) (DeductionRuleResponse, error)
	DisableDeductionRule(ctx context.Context, id string) error

	// Benefit rules
	CreateBenefitRule(ctx context.Context, req CreateBenefitRuleRequest) (BenefitRuleResponse, error)
	GetBenefitRule(ctx context.Context, id string) (BenefitRuleResponse, error)
	ListBenefitRules(ctx context.Context, activeOnly bool) ([]BenefitRuleResponse, error)
	UpdateBenefitRule(ctx context.Context, req UpdateBenefitRuleRequest) (BenefitRuleResponse, error)
	DisableBenefitRule(ctx context.Context, id string) error

	PreviewRule(ctx context.Context, req PreviewRuleRequest) (PreviewRuleResponse, error)
	ListRulePresets(ctx context.Context) ([]RulePresetResponse, error)
	ApplyRulePreset(ctx context.Context, code string) (ApplyRulePresetResponse, error)

	// Periods
	CreatePeriod(ctx context.Context, req CreatePeriodRequest) (PeriodResponse, error)
	GetPeriod(ctx context.Context, id string) (PeriodResponse, error)
	ListPeriods(ctx context.Context, filter PeriodFilter) (ListPeriodResponse, error)
	ClosePeriod(ctx context.Context, id string) (PeriodResponse, error)

	// Payroll items
	GeneratePayroll(ctx context.Context, req GeneratePayrollRequest) (GeneratePayrollResponse, error)
	GetPayrollItem(ctx context.Context, id string) (PayrollItemResponse, error)
	ListPayrollItems(ctx context.Context, filter PayrollItemFilter) (ListPayrollItemResponse, error)
	UpdatePayrollItem(ctx context.Context, req UpdatePayrollItemRequest) (PayrollItemResponse, error)
	RecalculatePayrollItem(ctx context.Context, id string) (PayrollItemResponse, error)
	AddCustomEarning(ctx context.Context, req AddCustomLineRequest) (PayrollItemResponse, error)
	AddCustomDeduction(ctx context.Context, req AddCustomLineRequest) (PayrollItemResponse, error)
	AddCustomBenefit(ctx context.Context, req AddCustomLineRequest) (PayrollItemResponse, error)
	ApprovePayrollItem(ctx context.Context, id string) (PayrollItemResponse, error)
	ApprovePayrollItems(ctx context.Context, req BulkItemsRequest) (BulkTransitionResponse, error)
	MarkPayrollItemPaid(ctx context.Context, id string) (PayrollItemResponse, error)
	MarkPayrollItemsPaid(ctx context.Context, req BulkItemsRequest) (BulkTransitionResponse, error)
	DeletePayrollItem(ctx context.Context, id string) error

	// Reporting
	GetItemSummary(ctx context.Context, id string) (PayrollSummary, error)
	GetPeriodSummary(ctx context.Context, periodID string) (PeriodSummaryResponse, error)
	ExportPeriodRegister(ctx context.Context, periodID string) ([]byte, error)
}

// RulePreset is a named bundle of statutory rules that can be installed for
// a company.
type RulePreset struct {
	Code        string
	Name        string
	Country     string
	Description string
	Deductions  []DeductionRule
	Benefits    []BenefitRule
}

type RulePresetCatalog interface {
	Presets() []RulePreset
	Preset(code string) (RulePreset, error)
}
