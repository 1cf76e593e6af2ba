package payroll

import (
	"errors"
	"testing"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDraftItem(t *testing.T, salary string, freq PayFrequency) PayrollItem {
	t.Helper()
	item, err := CreateForEmployee(
		Employee{ID: "emp-1", CompanyID: "co-1", FullName: "Jane Wanjiku", BasicSalary: dec(salary), PayFrequency: freq},
		PayrollPeriod{ID: "period-1", Name: "June 2024"},
	)
	require.NoError(t, err)
	return item
}

func TestCreateForEmployee_SnapshotsSalary(t *testing.T) {
	emp := Employee{ID: "emp-1", CompanyID: "co-1", BasicSalary: dec("50000"), PayFrequency: PayFrequencyMonthly}

	item, err := CreateForEmployee(emp, PayrollPeriod{ID: "period-1"})
	require.NoError(t, err)

	emp.BasicSalary = dec("90000")
	assertDecimal(t, "50000", item.BasicSalary)
	assert.Equal(t, PayrollStatusDraft, item.Status)
	assert.Equal(t, "emp-1", item.EmployeeID)
	assert.Equal(t, "period-1", item.PeriodID)
	assert.Nil(t, item.ApprovedAt)
}

func TestCreateForEmployee_OvertimeRate(t *testing.T) {
	tests := []struct {
		freq   PayFrequency
		salary string
		want   string
	}{
		{PayFrequencyMonthly, "50000", "288.47"},
		{PayFrequencySemiMonthly, "25000", "288.45"},
		{PayFrequencyBiweekly, "20000", "250"},
		{PayFrequencyWeekly, "1000", "25"},
		{PayFrequencyDaily, "800", "100"},
	}
	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			item := newDraftItem(t, tt.salary, tt.freq)
			assertDecimal(t, tt.want, item.OvertimeRate)
		})
	}
}

func TestCreateForEmployee_Errors(t *testing.T) {
	_, err := CreateForEmployee(Employee{BasicSalary: dec("1000"), PayFrequency: "fortnightly"}, PayrollPeriod{})
	assert.ErrorIs(t, err, ErrUnsupportedPayFrequency)

	_, err = CreateForEmployee(Employee{BasicSalary: dec("-1"), PayFrequency: PayFrequencyMonthly}, PayrollPeriod{})
	var ve validator.ValidationErrors
	assert.True(t, errors.As(err, &ve))
}

func TestPayrollItem_CalculateOvertimePay(t *testing.T) {
	item := PayrollItem{OvertimeHours: dec("10"), OvertimeRate: dec("500")}
	item.CalculateOvertimePay()
	assertDecimal(t, "5000", item.OvertimePay)
}

func fullyPopulatedItem() PayrollItem {
	return PayrollItem{
		Status:                 PayrollStatusDraft,
		BasicSalary:            dec("50000"),
		OvertimePay:            dec("5000"),
		Bonus:                  dec("2000"),
		Commission:             dec("1000"),
		Allowances:             dec("3000"),
		OtherEarnings:          dec("1000"),
		IncomeTax:              dec("5000"),
		SocialSecurity:         dec("3000"),
		HealthInsurance:        dec("500"),
		RetirementContribution: dec("2000"),
		LoanDeductions:         dec("1000"),
		OtherDeductions:        dec("500"),
		HealthBenefits:         dec("2000"),
		RetirementBenefits:     dec("3000"),
		OtherBenefits:          dec("1000"),
	}
}

func TestPayrollItem_CalculateTotals(t *testing.T) {
	item := fullyPopulatedItem()

	item.CalculateTotals()

	assertDecimal(t, "62000", item.GrossPay)
	assertDecimal(t, "12000", item.TotalDeductions)
	assertDecimal(t, "6000", item.TotalBenefits)
	assertDecimal(t, "56000", item.NetPay)
}

func TestPayrollItem_CalculateTotals_Idempotent(t *testing.T) {
	item := fullyPopulatedItem()
	item.CalculateTotals()
	first := item

	item.CalculateTotals()

	assertDecimal(t, first.GrossPay.String(), item.GrossPay)
	assertDecimal(t, first.TotalDeductions.String(), item.TotalDeductions)
	assertDecimal(t, first.TotalBenefits.String(), item.TotalBenefits)
	assertDecimal(t, first.NetPay.String(), item.NetPay)
}

func TestPayrollItem_StateMachine(t *testing.T) {
	item := newDraftItem(t, "50000", PayFrequencyMonthly)
	assert.Equal(t, PayrollStatusDraft, item.Status)

	assert.True(t, item.Approve())
	assert.Equal(t, PayrollStatusApproved, item.Status)
	require.NotNil(t, item.ApprovedAt)
	approvedAt := *item.ApprovedAt

	assert.False(t, item.Approve())
	assert.Equal(t, PayrollStatusApproved, item.Status)
	assert.Equal(t, approvedAt, *item.ApprovedAt)

	assert.True(t, item.MarkAsPaid())
	assert.Equal(t, PayrollStatusPaid, item.Status)
	assert.NotNil(t, item.PaidAt)

	assert.False(t, item.MarkAsPaid())
	assert.False(t, item.Approve())
	assert.Equal(t, PayrollStatusPaid, item.Status)
}

func TestPayrollItem_MarkAsPaid_FromDraftFails(t *testing.T) {
	item := newDraftItem(t, "50000", PayFrequencyMonthly)

	assert.False(t, item.MarkAsPaid())
	assert.Equal(t, PayrollStatusDraft, item.Status)
	assert.Nil(t, item.PaidAt)
}

func TestPayrollItem_Approve_RecomputesStaleTotals(t *testing.T) {
	item := fullyPopulatedItem()
	item.GrossPay = dec("1")

	require.True(t, item.Approve())
	assertDecimal(t, "62000", item.GrossPay)
	assertDecimal(t, "56000", item.NetPay)
}

func TestPayrollItem_AddCustomEarning(t *testing.T) {
	item := newDraftItem(t, "50000", PayFrequencyMonthly)

	err := item.AddCustomEarning("Performance Bonus", dec("2000"), "Q4 bonus")

	require.NoError(t, err)
	assertDecimal(t, "2000", item.OtherEarnings)
	require.Len(t, item.CustomEarnings, 1)
	assert.Equal(t, "Performance Bonus", item.CustomEarnings[0].Name)
	assertDecimal(t, "2000", item.CustomEarnings[0].Amount)
	assert.Equal(t, "Q4 bonus", item.CustomEarnings[0].Note)
	assertDecimal(t, "52000", item.GrossPay)
}

func TestPayrollItem_AddCustomLines_UpdateOtherFields(t *testing.T) {
	item := newDraftItem(t, "50000", PayFrequencyMonthly)

	require.NoError(t, item.AddCustomDeduction("Staff welfare", dec("300"), ""))
	require.NoError(t, item.AddCustomBenefit("Airtime", dec("1000"), ""))

	assertDecimal(t, "300", item.OtherDeductions)
	assertDecimal(t, "1000", item.OtherBenefits)
	assert.Len(t, item.CustomDeductions, 1)
	assert.Len(t, item.CustomBenefits, 1)
	assertDecimal(t, "50700", item.NetPay)
}

func TestPayrollItem_AddCustomEarning_Invalid(t *testing.T) {
	item := newDraftItem(t, "50000", PayFrequencyMonthly)

	tests := []struct {
		name   string
		line   string
		amount string
		field  string
	}{
		{"empty name", "  ", "100", "name"},
		{"negative amount", "Bonus", "-100", "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := item.AddCustomEarning(tt.line, dec(tt.amount), "")
			var ve validator.ValidationErrors
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, ve.ToMap(), tt.field)
		})
	}
	assert.Empty(t, item.CustomEarnings)
	assertDecimal(t, "0", item.OtherEarnings)
}

func TestParseAmount_NonNumeric(t *testing.T) {
	_, err := ParseAmount("abc")
	var ve validator.ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "amount must be a number", ve.ToMap()["amount"])

	d, err := ParseAmount(" 2000.50 ")
	require.NoError(t, err)
	assertDecimal(t, "2000.5", d)
}

func TestPayrollItem_NotEditableAfterApproval(t *testing.T) {
	item := newDraftItem(t, "50000", PayFrequencyMonthly)
	require.True(t, item.Approve())

	assert.ErrorIs(t, item.AddCustomEarning("Bonus", dec("1"), ""), ErrPayrollItemNotEditable)
	assert.ErrorIs(t, item.AddCustomDeduction("Loan", dec("1"), ""), ErrPayrollItemNotEditable)
	assert.ErrorIs(t, item.AddCustomBenefit("Meal", dec("1"), ""), ErrPayrollItemNotEditable)
	assert.ErrorIs(t, item.ApplyRules(nil, nil, time.Now(), nil), ErrPayrollItemNotEditable)
}

func TestPayrollItem_Summary(t *testing.T) {
	item := newDraftItem(t, "50000", PayFrequencyMonthly)
	item.ID = "item-1"

	s := item.Summary()

	assert.Equal(t, "item-1", s.ItemID)
	assert.Equal(t, "Jane Wanjiku", s.EmployeeName)
	assert.Equal(t, "June 2024", s.PeriodName)
	assert.Equal(t, "draft", s.Status)
	assertDecimal(t, "50000", s.NetPay)
}

func TestPayrollItem_Summary_WithoutJoinedNames(t *testing.T) {
	item := PayrollItem{ID: "item-1", EmployeeID: "emp-1", PeriodID: "period-1", Status: PayrollStatusDraft}

	s := item.Summary()

	assert.Equal(t, "emp-1", s.EmployeeID)
	assert.Equal(t, "period-1", s.PeriodID)
	assert.Empty(t, s.EmployeeName)
	assert.Empty(t, s.PeriodName)
}

// ===== RULE APPLICATION =====

type stubConditions struct {
	eligible map[string]bool
	err      error
}

func (s stubConditions) Check(string) error { return s.err }

func (s stubConditions) Eligible(expr string, _ ConditionFacts) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.eligible[expr], nil
}

func statutoryRules() ([]DeductionRule, []BenefitRule) {
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	deductions := []DeductionRule{
		{Rule: Rule{ID: "d1", Code: "PAYE", Calculation: Tiered{Bands: kenyaStyleBands()}, IsActive: true}, Category: DeductionIncomeTax},
		{Rule: Rule{ID: "d2", Code: "NHIF", Calculation: FixedAmount{Amount: dec("500")}, IsActive: true}, Category: DeductionHealthInsurance},
		{Rule: Rule{ID: "d3", Code: "OLD", Calculation: FixedAmount{Amount: dec("999")}, IsActive: false}, Category: DeductionOther},
		{Rule: Rule{ID: "d4", Code: "SACCO", Calculation: FixedAmount{Amount: dec("700")}, IsActive: true, ApplicableEmployees: []string{"emp-2"}}, Category: DeductionLoan},
	}
	benefits := []BenefitRule{
		{Rule: Rule{ID: "b1", Code: "MEDICAL", Calculation: Percentage{Rate: dec("2")}, IsActive: true}, Category: BenefitHealth},
		{Rule: Rule{ID: "b2", Code: "FUTURE", Calculation: FixedAmount{Amount: dec("5000")}, IsActive: true}, Category: BenefitOther, EffectiveDate: &future},
	}
	return deductions, benefits
}

func TestPayrollItem_ApplyRules(t *testing.T) {
	item := newDraftItem(t, "60000", PayFrequencyMonthly)
	deductions, benefits := statutoryRules()

	err := item.ApplyRules(deductions, benefits, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), nil)

	require.NoError(t, err)
	assertDecimal(t, "6000", item.IncomeTax)
	assertDecimal(t, "500", item.HealthInsurance)
	assertDecimal(t, "0", item.OtherDeductions)
	assertDecimal(t, "0", item.LoanDeductions)
	assertDecimal(t, "1200", item.HealthBenefits)
	assertDecimal(t, "0", item.OtherBenefits)
	assertDecimal(t, "60000", item.GrossPay)
	assertDecimal(t, "6500", item.TotalDeductions)
	assertDecimal(t, "54700", item.NetPay)
	assert.Len(t, item.AppliedRules, 3)
}

func TestPayrollItem_ApplyRules_ReapplyReplacesContributions(t *testing.T) {
	item := newDraftItem(t, "60000", PayFrequencyMonthly)
	require.NoError(t, item.AddCustomDeduction("Welfare", dec("250"), ""))
	deductions, benefits := statutoryRules()
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	require.NoError(t, item.ApplyRules(deductions, benefits, asOf, nil))
	require.NoError(t, item.ApplyRules(deductions, benefits, asOf, nil))

	assertDecimal(t, "6000", item.IncomeTax)
	assertDecimal(t, "250", item.OtherDeductions)
	assertDecimal(t, "1200", item.HealthBenefits)

	// A raise in overtime moves the tax base.
	item.OvertimeHours = dec("10")
	require.NoError(t, item.ApplyRules(deductions, benefits, asOf, nil))
	assert.True(t, item.IncomeTax.GreaterThan(dec("6000")))
	assert.True(t, item.OvertimePay.IsPositive())
}

func TestPayrollItem_ApplyRules_Conditions(t *testing.T) {
	item := newDraftItem(t, "60000", PayFrequencyMonthly)
	deductions := []DeductionRule{
		{Rule: Rule{ID: "d1", Code: "HIGH", Calculation: FixedAmount{Amount: dec("100")}, IsActive: true, Condition: "gross_pay > 100000.0"}, Category: DeductionOther},
		{Rule: Rule{ID: "d2", Code: "LOW", Calculation: FixedAmount{Amount: dec("50")}, IsActive: true, Condition: "gross_pay > 1000.0"}, Category: DeductionOther},
	}
	conds := stubConditions{eligible: map[string]bool{"gross_pay > 1000.0": true}}

	require.NoError(t, item.ApplyRules(deductions, nil, time.Now(), conds))

	assertDecimal(t, "50", item.OtherDeductions)
	require.Len(t, item.AppliedRules, 1)
	assert.Equal(t, "LOW", item.AppliedRules[0].Code)
}

func TestPayrollItem_ApplyRules_ConditionErrorLeavesItemUntouched(t *testing.T) {
	item := newDraftItem(t, "60000", PayFrequencyMonthly)
	deductions, benefits := statutoryRules()
	require.NoError(t, item.ApplyRules(deductions, benefits, time.Now(), nil))
	before := item.NetPay

	broken := append(deductions, DeductionRule{
		Rule:     Rule{ID: "d9", Code: "BROKEN", Calculation: FixedAmount{Amount: dec("1")}, IsActive: true, Condition: "nope"},
		Category: DeductionOther,
	})
	err := item.ApplyRules(broken, benefits, time.Now(), stubConditions{err: errors.New("boom")})

	assert.Error(t, err)
	assertDecimal(t, before.String(), item.NetPay)
	assert.Len(t, item.AppliedRules, 3)
}

func TestPayrollItem_ApplyRules_ConditionWithoutEvaluator(t *testing.T) {
	item := newDraftItem(t, "60000", PayFrequencyMonthly)
	deductions := []DeductionRule{
		{Rule: Rule{Code: "COND", Calculation: FixedAmount{Amount: dec("1")}, IsActive: true, Condition: "true"}, Category: DeductionOther},
	}

	err := item.ApplyRules(deductions, nil, time.Now(), nil)
	assert.ErrorIs(t, err, ErrRuleConfiguration)
}


func TestPayrollItem_ApplyRules_ConditionErrorKeepsOvertimePay(t *testing.T) {
	item := newDraftItem(t, "60000", PayFrequencyMonthly)
	item.OvertimeHours = dec("10")
	deductions := []DeductionRule{
		{Rule: Rule{Code: "COND", Calculation: FixedAmount{Amount: dec("1")}, IsActive: true, Condition: "true"}, Category: DeductionOther},
	}

	err := item.ApplyRules(deductions, nil, time.Now(), nil)

	assert.ErrorIs(t, err, ErrRuleConfiguration)
	assertDecimal(t, "0", item.OvertimePay)
	assertDecimal(t, "60000", item.GrossPay)
}

func TestPayrollItem_ManualLoanSurvivesRuleChanges(t *testing.T) {
	item := newDraftItem(t, "60000", PayFrequencyMonthly)
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	sacco := DeductionRule{
		Rule:     Rule{ID: "d1", Code: "SACCO", Calculation: FixedAmount{Amount: dec("1000")}, IsActive: true},
		Category: DeductionLoan,
	}

	require.NoError(t, item.ApplyRules([]DeductionRule{sacco}, nil, asOf, nil))
	assertDecimal(t, "1000", item.LoanDeductions)

	// A manual loan is kept alongside the rule amount across recalculation.
	edit := UpdatePayrollItemRequest{LoanDeductions: decPtr("500")}
	edit.Apply(&item)
	require.NoError(t, item.ApplyRules([]DeductionRule{sacco}, nil, asOf, nil))
	assertDecimal(t, "1500", item.LoanDeductions)
	assertDecimal(t, "58500", item.NetPay)

	// Clearing the manual portion then disabling the rule leaves nothing behind.
	edit = UpdatePayrollItemRequest{LoanDeductions: decPtr("0")}
	edit.Apply(&item)
	assertDecimal(t, "1000", item.LoanDeductions)

	sacco.IsActive = false
	require.NoError(t, item.ApplyRules([]DeductionRule{sacco}, nil, asOf, nil))
	assertDecimal(t, "0", item.LoanDeductions)
	assertDecimal(t, "0", item.TotalDeductions)
	assertDecimal(t, "60000", item.NetPay)
	assert.Empty(t, item.AppliedRules)
}
