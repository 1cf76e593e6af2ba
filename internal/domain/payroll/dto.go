package payroll

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/validator"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// ========== RULE DTOs ==========

// CalculationInput is the flat wire form of a rule calculation and its clamps.
type CalculationInput struct {
	Kind          string              `json:"kind" validate:"required,oneof=percentage fixed_amount tiered"`
	Rate          *decimal.Decimal    `json:"rate,omitempty"`
	Amount        *decimal.Decimal    `json:"amount,omitempty"`
	Bands         []Band              `json:"bands,omitempty" validate:"max=20"`
	MinimumAmount decimal.NullDecimal `json:"minimum_amount"`
	MaximumAmount decimal.NullDecimal `json:"maximum_amount"`
}

func (c CalculationInput) rule() (Rule, error) {
	calc, err := NewCalculation(CalculationKind(c.Kind), c.Rate, c.Amount, c.Bands)
	if err != nil {
		return Rule{}, err
	}
	r := Rule{
		Calculation:   calc,
		MinimumAmount: c.MinimumAmount,
		MaximumAmount: c.MaximumAmount,
		IsActive:      true,
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

type RuleRequest struct {
	CalculationInput
	Code                string   `json:"code" validate:"required,max=50"`
	Name                string   `json:"name" validate:"required,max=255"`
	ApplicableEmployees []string `json:"applicable_employees,omitempty" validate:"omitempty,max=1000,dive,required"`
	Condition           string   `json:"condition,omitempty" validate:"max=1000"`
	IsActive            *bool    `json:"is_active,omitempty"`
}

// normalizeCode upper-cases the code and reports a malformed one.
func (r *RuleRequest) normalizeCode() validator.ValidationErrors {
	r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
	if r.Code != "" && !validator.IsValidRuleCode(r.Code) {
		return validator.ValidationErrors{{Field: "code", Message: "must be upper case letters, digits or underscores"}}
	}
	return nil
}

func (r *RuleRequest) toRule(companyID string) (Rule, error) {
	rule, err := r.CalculationInput.rule()
	if err != nil {
		return Rule{}, err
	}
	rule.CompanyID = companyID
	rule.Code = r.Code
	rule.Name = strings.TrimSpace(r.Name)
	rule.ApplicableEmployees = r.ApplicableEmployees
	rule.Condition = strings.TrimSpace(r.Condition)
	if r.IsActive != nil {
		rule.IsActive = *r.IsActive
	}
	return rule, nil
}

type CreateDeductionRuleRequest struct {
	RuleRequest
	Category string `json:"category" validate:"required,oneof=income_tax social_security health_insurance retirement_contribution loan other"`
}

func (r *CreateDeductionRuleRequest) Validate() error {
	errs := r.normalizeCode()
	errs = append(errs, validator.Struct(r)...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ToDeductionRule builds the domain rule. Calculation problems are reported
// as ErrRuleConfiguration.
func (r *CreateDeductionRuleRequest) ToDeductionRule(companyID string) (DeductionRule, error) {
	rule, err := r.RuleRequest.toRule(companyID)
	if err != nil {
		return DeductionRule{}, err
	}
	d := DeductionRule{Rule: rule, Category: DeductionCategory(r.Category)}
	if err := d.Validate(); err != nil {
		return DeductionRule{}, err
	}
	return d, nil
}

type UpdateDeductionRuleRequest struct {
	ID string `json:"-"`
	CreateDeductionRuleRequest
}

type CreateBenefitRuleRequest struct {
	RuleRequest
	Category      string  `json:"category" validate:"required,oneof=health retirement other"`
	EffectiveDate *string `json:"effective_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate    *string `json:"expiry_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (r *CreateBenefitRuleRequest) Validate() error {
	errs := r.normalizeCode()
	errs = append(errs, validator.Struct(r)...)
	if r.EffectiveDate != nil && r.ExpiryDate != nil {
		effective, ok1 := validator.IsValidDate(*r.EffectiveDate)
		expiry, ok2 := validator.IsValidDate(*r.ExpiryDate)
		if ok1 && ok2 && expiry.Before(effective) {
			errs = append(errs, validator.ValidationError{Field: "expiry_date", Message: "must not be before effective_date"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (r *CreateBenefitRuleRequest) ToBenefitRule(companyID string) (BenefitRule, error) {
	rule, err := r.RuleRequest.toRule(companyID)
	if err != nil {
		return BenefitRule{}, err
	}
	b := BenefitRule{
		Rule:          rule,
		Category:      BenefitCategory(r.Category),
		EffectiveDate: parseOptionalDate(r.EffectiveDate),
		ExpiryDate:    parseOptionalDate(r.ExpiryDate),
	}
	if err := b.Validate(); err != nil {
		return BenefitRule{}, err
	}
	return b, nil
}

type UpdateBenefitRuleRequest struct {
	ID string `json:"-"`
	CreateBenefitRuleRequest
}

type RuleFilter struct {
	ActiveOnly bool
	Category   *string
}

type RuleResponse struct {
	ID                  string              `json:"id"`
	CompanyID           string              `json:"company_id"`
	Code                string              `json:"code"`
	Name                string              `json:"name"`
	Category            string              `json:"category"`
	Kind                CalculationKind     `json:"kind"`
	Rate                *decimal.Decimal    `json:"rate,omitempty"`
	Amount              *decimal.Decimal    `json:"amount,omitempty"`
	Bands               []Band              `json:"bands,omitempty"`
	MinimumAmount       decimal.NullDecimal `json:"minimum_amount"`
	MaximumAmount       decimal.NullDecimal `json:"maximum_amount"`
	ApplicableEmployees []string            `json:"applicable_employees"`
	Condition           string              `json:"condition,omitempty"`
	IsActive            bool                `json:"is_active"`
	CreatedAt           string              `json:"created_at"`
	UpdatedAt           string              `json:"updated_at"`
}

type DeductionRuleResponse struct {
	RuleResponse
}

type BenefitRuleResponse struct {
	RuleResponse
	EffectiveDate *string `json:"effective_date,omitempty"`
	ExpiryDate    *string `json:"expiry_date,omitempty"`
}

func newRuleResponse(r Rule, category string) RuleResponse {
	kind, rate, amount, bands := Flatten(r.Calculation)
	employees := r.ApplicableEmployees
	if employees == nil {
		employees = []string{}
	}
	return RuleResponse{
		ID:                  r.ID,
		CompanyID:           r.CompanyID,
		Code:                r.Code,
		Name:                r.Name,
		Category:            category,
		Kind:                kind,
		Rate:                rate,
		Amount:              amount,
		Bands:               bands,
		MinimumAmount:       r.MinimumAmount,
		MaximumAmount:       r.MaximumAmount,
		ApplicableEmployees: employees,
		Condition:           r.Condition,
		IsActive:            r.IsActive,
		CreatedAt:           r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           r.UpdatedAt.Format(time.RFC3339),
	}
}

func NewDeductionRuleResponse(r DeductionRule) DeductionRuleResponse {
	return DeductionRuleResponse{RuleResponse: newRuleResponse(r.Rule, string(r.Category))}
}

func NewBenefitRuleResponse(r BenefitRule) BenefitRuleResponse {
	return BenefitRuleResponse{
		RuleResponse:  newRuleResponse(r.Rule, string(r.Category)),
		EffectiveDate: formatOptionalDate(r.EffectiveDate),
		ExpiryDate:    formatOptionalDate(r.ExpiryDate),
	}
}

// PreviewRuleRequest evaluates an unsaved calculation against a base amount.
type PreviewRuleRequest struct {
	CalculationInput
	BaseAmount decimal.Decimal `json:"base_amount"`
}

func (r *PreviewRuleRequest) Validate() error {
	errs := validator.Struct(r)
	if r.BaseAmount.IsNegative() {
		errs = append(errs, validator.ValidationError{Field: "base_amount", Message: "must be non-negative"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (r *PreviewRuleRequest) ToRule() (Rule, error) {
	return r.CalculationInput.rule()
}

type PreviewRuleResponse struct {
	Kind       CalculationKind `json:"kind"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	Amount     decimal.Decimal `json:"amount"`
}

type RulePresetResponse struct {
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	Country        string   `json:"country"`
	Description    string   `json:"description,omitempty"`
	DeductionCodes []string `json:"deduction_codes"`
	BenefitCodes   []string `json:"benefit_codes"`
}

type ApplyRulePresetResponse struct {
	Preset    string   `json:"preset"`
	Installed []string `json:"installed"`
	Skipped   []string `json:"skipped"`
}

// ========== PERIOD DTOs ==========

type CreatePeriodRequest struct {
	Name      string  `json:"name" validate:"required,max=100"`
	StartDate string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string  `json:"end_date" validate:"required,datetime=2006-01-02"`
	PayDate   *string `json:"pay_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (r *CreatePeriodRequest) Validate() error {
	errs := validator.Struct(r)
	start, ok1 := validator.IsValidDate(r.StartDate)
	end, ok2 := validator.IsValidDate(r.EndDate)
	if ok1 && ok2 && end.Before(start) {
		errs = append(errs, validator.ValidationError{Field: "end_date", Message: "must not be before start_date"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ToPeriod assumes Validate has passed.
func (r *CreatePeriodRequest) ToPeriod(companyID string) PayrollPeriod {
	start, _ := time.Parse(dateLayout, r.StartDate)
	end, _ := time.Parse(dateLayout, r.EndDate)
	return PayrollPeriod{
		CompanyID: companyID,
		Name:      strings.TrimSpace(r.Name),
		StartDate: start,
		EndDate:   end,
		PayDate:   parseOptionalDate(r.PayDate),
		Status:    PeriodStatusOpen,
	}
}

type PeriodFilter struct {
	Status *string
	Year   *int
	Page   int
	Limit  int
}

type PeriodResponse struct {
	ID          string  `json:"id"`
	CompanyID   string  `json:"company_id"`
	Name        string  `json:"name"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	PayDate     *string `json:"pay_date,omitempty"`
	Status      string  `json:"status"`
	RegisterURL *string `json:"register_url,omitempty"`
	ClosedAt    *string `json:"closed_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func NewPeriodResponse(p PayrollPeriod, registerURL *string) PeriodResponse {
	resp := PeriodResponse{
		ID:          p.ID,
		CompanyID:   p.CompanyID,
		Name:        p.Name,
		StartDate:   p.StartDate.Format(dateLayout),
		EndDate:     p.EndDate.Format(dateLayout),
		PayDate:     formatOptionalDate(p.PayDate),
		Status:      string(p.Status),
		RegisterURL: registerURL,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
	if p.ClosedAt != nil {
		s := p.ClosedAt.Format(time.RFC3339)
		resp.ClosedAt = &s
	}
	return resp
}

type ListPeriodResponse struct {
	Periods    []PeriodResponse `json:"periods"`
	TotalCount int64            `json:"total_count"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
}

// ========== PAYROLL ITEM DTOs ==========

type GeneratePayrollRequest struct {
	PeriodID      string                     `json:"-"`
	EmployeeIDs   []string                   `json:"employee_ids,omitempty" validate:"omitempty,max=5000,dive,required"` // Empty = all payable employees
	OvertimeHours map[string]decimal.Decimal `json:"overtime_hours,omitempty"`                                            // employee_id -> hours
}

func (r *GeneratePayrollRequest) Validate() error {
	errs := validator.Struct(r)
	for employeeID, hours := range r.OvertimeHours {
		if hours.IsNegative() {
			errs = append(errs, validator.ValidationError{Field: "overtime_hours." + employeeID, Message: "must be non-negative"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type GeneratePayrollResponse struct {
	PeriodID string                `json:"period_id"`
	Created  int                   `json:"created"`
	Skipped  []string              `json:"skipped"`
	Items    []PayrollItemResponse `json:"items"`
}

type UpdatePayrollItemRequest struct {
	ID             string           `json:"-"`
	OvertimeHours  *decimal.Decimal `json:"overtime_hours,omitempty"`
	Bonus          *decimal.Decimal `json:"bonus,omitempty"`
	Commission     *decimal.Decimal `json:"commission,omitempty"`
	Allowances     *decimal.Decimal `json:"allowances,omitempty"`
	LoanDeductions *decimal.Decimal `json:"loan_deductions,omitempty"`
	Notes          *string          `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

func (r *UpdatePayrollItemRequest) Validate() error {
	errs := validator.Struct(r)
	amounts := []struct {
		field string
		value *decimal.Decimal
	}{
		{"overtime_hours", r.OvertimeHours},
		{"bonus", r.Bonus},
		{"commission", r.Commission},
		{"allowances", r.Allowances},
		{"loan_deductions", r.LoanDeductions},
	}
	for _, a := range amounts {
		if !validator.IsNonNegative(a.value) {
			errs = append(errs, validator.ValidationError{Field: a.field, Message: "must be non-negative"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Apply copies the provided inputs onto item. LoanDeductions is the manual
// portion only; amounts booked by loan rules stay on top of it.
func (r *UpdatePayrollItemRequest) Apply(item *PayrollItem) {
	if r.OvertimeHours != nil {
		item.OvertimeHours = *r.OvertimeHours
	}
	if r.Bonus != nil {
		item.Bonus = *r.Bonus
	}
	if r.Commission != nil {
		item.Commission = *r.Commission
	}
	if r.Allowances != nil {
		item.Allowances = *r.Allowances
	}
	if r.LoanDeductions != nil {
		item.LoanDeductions = r.LoanDeductions.Add(item.appliedAmount(RuleTypeDeduction, string(DeductionLoan)))
	}
	if r.Notes != nil {
		item.Notes = r.Notes
	}
}

// AddCustomLineRequest keeps amount raw so that a non-numeric value is
// reported as a field error instead of a malformed body.
type AddCustomLineRequest struct {
	ItemID string          `json:"-"`
	Name   string          `json:"name"`
	Amount json.RawMessage `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

func (r *AddCustomLineRequest) Validate() error {
	var errs validator.ValidationErrors
	if validator.IsEmpty(r.Name) {
		errs = append(errs, validator.ValidationError{Field: "name", Message: "name is required"})
	}
	if amount, err := r.ParsedAmount(); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok {
			errs = append(errs, ve...)
		}
	} else if amount.IsNegative() {
		errs = append(errs, validator.ValidationError{Field: "amount", Message: "amount must not be negative"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParsedAmount accepts the amount as a JSON number or a numeric string.
func (r *AddCustomLineRequest) ParsedAmount() (decimal.Decimal, error) {
	raw := strings.TrimSpace(string(r.Amount))
	if raw == "" || raw == "null" {
		return decimal.Zero, validator.ValidationErrors{{Field: "amount", Message: "amount is required"}}
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(r.Amount, &s); err != nil {
			return decimal.Zero, validator.ValidationErrors{{Field: "amount", Message: "amount must be a number"}}
		}
		raw = s
	}
	return ParseAmount(raw)
}

type BulkItemsRequest struct {
	ItemIDs []string `json:"item_ids" validate:"required,min=1,max=500,dive,required"`
}

func (r *BulkItemsRequest) Validate() error {
	if errs := validator.Struct(r); len(errs) > 0 {
		return errs
	}
	return nil
}

type BulkTransitionResponse struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

type PayrollItemFilter struct {
	PeriodID   *string `json:"period_id,omitempty"`
	Status     *string `json:"status,omitempty"`
	EmployeeID *string `json:"employee_id,omitempty"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	SortBy     string  `json:"sort_by"`
	SortOrder  string  `json:"sort_order"`
}

func (f *PayrollItemFilter) Validate() error {
	var errs validator.ValidationErrors
	if f.Status != nil && !validator.IsInSlice(*f.Status, []string{string(PayrollStatusDraft), string(PayrollStatusApproved), string(PayrollStatusPaid)}) {
		errs = append(errs, validator.ValidationError{Field: "status", Message: "must be one of: draft, approved, paid"})
	}
	if f.SortOrder != "" && f.SortOrder != "asc" && f.SortOrder != "desc" {
		errs = append(errs, validator.ValidationError{Field: "sort_order", Message: "must be asc or desc"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type PayrollItemResponse struct {
	ID           string  `json:"id"`
	EmployeeID   string  `json:"employee_id"`
	EmployeeName *string `json:"employee_name,omitempty"`
	EmployeeCode *string `json:"employee_code,omitempty"`
	PeriodID     string  `json:"period_id"`
	PeriodName   *string `json:"period_name,omitempty"`
	PayFrequency string  `json:"pay_frequency"`

	BasicSalary    decimal.Decimal `json:"basic_salary"`
	OvertimeHours  decimal.Decimal `json:"overtime_hours"`
	OvertimeRate   decimal.Decimal `json:"overtime_rate"`
	OvertimePay    decimal.Decimal `json:"overtime_pay"`
	Bonus          decimal.Decimal `json:"bonus"`
	Commission     decimal.Decimal `json:"commission"`
	Allowances     decimal.Decimal `json:"allowances"`
	OtherEarnings  decimal.Decimal `json:"other_earnings"`
	CustomEarnings []CustomLine    `json:"custom_earnings"`

	IncomeTax              decimal.Decimal `json:"income_tax"`
	SocialSecurity         decimal.Decimal `json:"social_security"`
	HealthInsurance        decimal.Decimal `json:"health_insurance"`
	RetirementContribution decimal.Decimal `json:"retirement_contribution"`
	LoanDeductions         decimal.Decimal `json:"loan_deductions"`
	OtherDeductions        decimal.Decimal `json:"other_deductions"`
	CustomDeductions       []CustomLine    `json:"custom_deductions"`

	HealthBenefits     decimal.Decimal `json:"health_benefits"`
	RetirementBenefits decimal.Decimal `json:"retirement_benefits"`
	OtherBenefits      decimal.Decimal `json:"other_benefits"`
	CustomBenefits     []CustomLine    `json:"custom_benefits"`

	GrossPay        decimal.Decimal `json:"gross_pay"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	TotalBenefits   decimal.Decimal `json:"total_benefits"`
	NetPay          decimal.Decimal `json:"net_pay"`

	AppliedRules []AppliedRule `json:"applied_rules"`
	Status       string        `json:"status"`
	ApprovedAt   *string       `json:"approved_at,omitempty"`
	ApprovedBy   *string       `json:"approved_by,omitempty"`
	PaidAt       *string       `json:"paid_at,omitempty"`
	PaidBy       *string       `json:"paid_by,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
}

func NewPayrollItemResponse(p PayrollItem) PayrollItemResponse {
	return PayrollItemResponse{
		ID:                     p.ID,
		EmployeeID:             p.EmployeeID,
		EmployeeName:           p.EmployeeName,
		EmployeeCode:           p.EmployeeCode,
		PeriodID:               p.PeriodID,
		PeriodName:             p.PeriodName,
		PayFrequency:           string(p.PayFrequency),
		BasicSalary:            p.BasicSalary,
		OvertimeHours:          p.OvertimeHours,
		OvertimeRate:           p.OvertimeRate,
		OvertimePay:            p.OvertimePay,
		Bonus:                  p.Bonus,
		Commission:             p.Commission,
		Allowances:             p.Allowances,
		OtherEarnings:          p.OtherEarnings,
		CustomEarnings:         nonNilLines(p.CustomEarnings),
		IncomeTax:              p.IncomeTax,
		SocialSecurity:         p.SocialSecurity,
		HealthInsurance:        p.HealthInsurance,
		RetirementContribution: p.RetirementContribution,
		LoanDeductions:         p.LoanDeductions,
		OtherDeductions:        p.OtherDeductions,
		CustomDeductions:       nonNilLines(p.CustomDeductions),
		HealthBenefits:         p.HealthBenefits,
		RetirementBenefits:     p.RetirementBenefits,
		OtherBenefits:          p.OtherBenefits,
		CustomBenefits:         nonNilLines(p.CustomBenefits),
		GrossPay:               p.GrossPay,
		TotalDeductions:        p.TotalDeductions,
		TotalBenefits:          p.TotalBenefits,
		NetPay:                 p.NetPay,
		AppliedRules:           nonNilApplied(p.AppliedRules),
		Status:                 string(p.Status),
		ApprovedAt:             formatOptionalTime(p.ApprovedAt),
		ApprovedBy:             p.ApprovedBy,
		PaidAt:                 formatOptionalTime(p.PaidAt),
		PaidBy:                 p.PaidBy,
		Notes:                  p.Notes,
	}
}

type ListPayrollItemResponse struct {
	Items      []PayrollItemResponse `json:"items"`
	TotalCount int64                 `json:"total_count"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
}

type PeriodSummaryResponse struct {
	PeriodID        string          `json:"period_id"`
	PeriodName      string          `json:"period_name"`
	Status          string          `json:"status"`
	ItemCount       int             `json:"item_count"`
	DraftCount      int             `json:"draft_count"`
	ApprovedCount   int             `json:"approved_count"`
	PaidCount       int             `json:"paid_count"`
	GrossPay        decimal.Decimal `json:"gross_pay"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	TotalBenefits   decimal.Decimal `json:"total_benefits"`
	NetPay          decimal.Decimal `json:"net_pay"`
}

// ========== HELPERS ==========

func parseOptionalDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}

func formatOptionalDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func nonNilLines(lines []CustomLine) []CustomLine {
	if lines == nil {
		return []CustomLine{}
	}
	return lines
}

func nonNilApplied(rules []AppliedRule) []AppliedRule {
	if rules == nil {
		return []AppliedRule{}
	}
	return rules
}

