package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/payroll"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type payrollRepository struct {
	db *database.DB
}

func NewPayrollRepository(db *database.DB) payroll.PayrollRepository {
	return &payrollRepository{db: db}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ========== RULES ==========

const ruleColumns = `id, company_id, code, name, category, calculation_kind, rate, amount, bands,
	minimum_amount, maximum_amount, applicable_employees, condition, is_active, created_at, updated_at`

const benefitRuleColumns = ruleColumns + `, effective_date, expiry_date`

// ruleParams is the flat column form of a rule, in ruleColumns order from
// code onwards.
type ruleParams struct {
	kind      payroll.CalculationKind
	rate      *decimal.Decimal
	amount    *decimal.Decimal
	bands     []byte
	employees []string
}

func flattenRule(r payroll.Rule) (ruleParams, error) {
	kind, rate, amount, bands := payroll.Flatten(r.Calculation)
	p := ruleParams{kind: kind, rate: rate, amount: amount, employees: r.ApplicableEmployees}
	if p.employees == nil {
		p.employees = []string{}
	}
	if bands != nil {
		b, err := json.Marshal(bands)
		if err != nil {
			return ruleParams{}, fmt.Errorf("failed to encode rule bands: %w", err)
		}
		p.bands = b
	}
	return p, nil
}

// scanRule reads ruleColumns followed by any extra destinations.
func scanRule(row pgx.Row, extra ...any) (payroll.Rule, string, error) {
	var (
		r         payroll.Rule
		category  string
		kind      string
		rate      *decimal.Decimal
		amount    *decimal.Decimal
		bandsJSON []byte
	)
	dest := append([]any{
		&r.ID, &r.CompanyID, &r.Code, &r.Name, &category, &kind, &rate, &amount, &bandsJSON,
		&r.MinimumAmount, &r.MaximumAmount, &r.ApplicableEmployees, &r.Condition, &r.IsActive,
		&r.CreatedAt, &r.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return payroll.Rule{}, "", err
	}

	var bands []payroll.Band
	if len(bandsJSON) > 0 {
		if err := json.Unmarshal(bandsJSON, &bands); err != nil {
			return payroll.Rule{}, "", fmt.Errorf("failed to decode bands of rule %s: %w", r.Code, err)
		}
	}
	calc, err := payroll.NewCalculation(payroll.CalculationKind(kind), rate, amount, bands)
	if err != nil {
		return payroll.Rule{}, "", fmt.Errorf("stored rule %s: %w", r.Code, err)
	}
	r.Calculation = calc
	return r, category, nil
}

func scanDeductionRule(row pgx.Row) (payroll.DeductionRule, error) {
	r, category, err := scanRule(row)
	if err != nil {
		return payroll.DeductionRule{}, err
	}
	return payroll.DeductionRule{Rule: r, Category: payroll.DeductionCategory(category)}, nil
}

func scanBenefitRule(row pgx.Row) (payroll.BenefitRule, error) {
	var effective, expiry *time.Time
	r, category, err := scanRule(row, &effective, &expiry)
	if err != nil {
		return payroll.BenefitRule{}, err
	}
	return payroll.BenefitRule{Rule: r, Category: payroll.BenefitCategory(category), EffectiveDate: effective, ExpiryDate: expiry}, nil
}

func (r *payrollRepository) CreateDeductionRule(ctx context.Context, rule payroll.DeductionRule) (payroll.DeductionRule, error) {
	q := GetQuerier(ctx, r.db)

	p, err := flattenRule(rule.Rule)
	if err != nil {
		return payroll.DeductionRule{}, err
	}

	query := `
		INSERT INTO payroll_deduction_rules (
			id, company_id, code, name, category, calculation_kind, rate, amount, bands,
			minimum_amount, maximum_amount, applicable_employees, condition, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + ruleColumns

	created, err := scanDeductionRule(q.QueryRow(ctx, query,
		newID(), rule.CompanyID, rule.Code, rule.Name, rule.Category, p.kind, p.rate, p.amount, p.bands,
		rule.MinimumAmount, rule.MaximumAmount, p.employees, rule.Condition, rule.IsActive,
	))
	if err != nil {
		if database.IsUniqueViolation(err, "uk_payroll_deduction_rule_code") {
			return payroll.DeductionRule{}, payroll.ErrRuleCodeExists
		}
		return payroll.DeductionRule{}, fmt.Errorf("failed to create deduction rule: %w", err)
	}

	return created, nil
}

func (r *payrollRepository) GetDeductionRule(ctx context.Context, id string, companyID string) (payroll.DeductionRule, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + ruleColumns + ` FROM payroll_deduction_rules WHERE id = $1 AND company_id = $2`

	rule, err := scanDeductionRule(q.QueryRow(ctx, query, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.DeductionRule{}, payroll.ErrDeductionRuleNotFound
		}
		return payroll.DeductionRule{}, fmt.Errorf("failed to get deduction rule: %w", err)
	}

	return rule, nil
}

func (r *payrollRepository) ListDeductionRules(ctx context.Context, companyID string, filter payroll.RuleFilter) ([]payroll.DeductionRule, error) {
	q := GetQuerier(ctx, r.db)

	query, args := ruleListQuery("payroll_deduction_rules", ruleColumns, companyID, filter)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deduction rules: %w", err)
	}
	defer rows.Close()

	var rules []payroll.DeductionRule
	for rows.Next() {
		rule, err := scanDeductionRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deduction rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *payrollRepository) UpdateDeductionRule(ctx context.Context, rule payroll.DeductionRule) (payroll.DeductionRule, error) {
	q := GetQuerier(ctx, r.db)

	p, err := flattenRule(rule.Rule)
	if err != nil {
		return payroll.DeductionRule{}, err
	}

	query := `
		UPDATE payroll_deduction_rules SET
			code = $3, name = $4, category = $5, calculation_kind = $6, rate = $7, amount = $8, bands = $9,
			minimum_amount = $10, maximum_amount = $11, applicable_employees = $12, condition = $13,
			is_active = $14, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING ` + ruleColumns

	updated, err := scanDeductionRule(q.QueryRow(ctx, query,
		rule.ID, rule.CompanyID, rule.Code, rule.Name, rule.Category, p.kind, p.rate, p.amount, p.bands,
		rule.MinimumAmount, rule.MaximumAmount, p.employees, rule.Condition, rule.IsActive,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.DeductionRule{}, payroll.ErrDeductionRuleNotFound
		}
		if database.IsUniqueViolation(err, "uk_payroll_deduction_rule_code") {
			return payroll.DeductionRule{}, payroll.ErrRuleCodeExists
		}
		return payroll.DeductionRule{}, fmt.Errorf("failed to update deduction rule: %w", err)
	}

	return updated, nil
}

func (r *payrollRepository) SetDeductionRuleActive(ctx context.Context, id string, companyID string, active bool) error {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE payroll_deduction_rules SET is_active = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
	`, id, companyID, active)
	if err != nil {
		return fmt.Errorf("failed to update deduction rule status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrDeductionRuleNotFound
	}

	return nil
}

func (r *payrollRepository) CreateBenefitRule(ctx context.Context, rule payroll.BenefitRule) (payroll.BenefitRule, error) {
	q := GetQuerier(ctx, r.db)

	p, err := flattenRule(rule.Rule)
	if err != nil {
		return payroll.BenefitRule{}, err
	}

	query := `
		INSERT INTO payroll_benefit_rules (
			id, company_id, code, name, category, calculation_kind, rate, amount, bands,
			minimum_amount, maximum_amount, applicable_employees, condition, is_active,
			effective_date, expiry_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING ` + benefitRuleColumns

	created, err := scanBenefitRule(q.QueryRow(ctx, query,
		newID(), rule.CompanyID, rule.Code, rule.Name, rule.Category, p.kind, p.rate, p.amount, p.bands,
		rule.MinimumAmount, rule.MaximumAmount, p.employees, rule.Condition, rule.IsActive,
		rule.EffectiveDate, rule.ExpiryDate,
	))
	if err != nil {
		if database.IsUniqueViolation(err, "uk_payroll_benefit_rule_code") {
			return payroll.BenefitRule{}, payroll.ErrRuleCodeExists
		}
		return payroll.BenefitRule{}, fmt.Errorf("failed to create benefit rule: %w", err)
	}

	return created, nil
}

func (r *payrollRepository) GetBenefitRule(ctx context.Context, id string, companyID string) (payroll.BenefitRule, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + benefitRuleColumns + ` FROM payroll_benefit_rules WHERE id = $1 AND company_id = $2`

	rule, err := scanBenefitRule(q.QueryRow(ctx, query, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.BenefitRule{}, payroll.ErrBenefitRuleNotFound
		}
		return payroll.BenefitRule{}, fmt.Errorf("failed to get benefit rule: %w", err)
	}

	return rule, nil
}

func (r *payrollRepository) ListBenefitRules(ctx context.Context, companyID string, filter payroll.RuleFilter) ([]payroll.BenefitRule, error) {
	q := GetQuerier(ctx, r.db)

	query, args := ruleListQuery("payroll_benefit_rules", benefitRuleColumns, companyID, filter)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list benefit rules: %w", err)
	}
	defer rows.Close()

	var rules []payroll.BenefitRule
	for rows.Next() {
		rule, err := scanBenefitRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan benefit rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *payrollRepository) UpdateBenefitRule(ctx context.Context, rule payroll.BenefitRule) (payroll.BenefitRule, error) {
	q := GetQuerier(ctx, r.db)

	p, err := flattenRule(rule.Rule)
	if err != nil {
		return payroll.BenefitRule{}, err
	}

	query := `
		UPDATE payroll_benefit_rules SET
			code = $3, name = $4, category = $5, calculation_kind = $6, rate = $7, amount = $8, bands = $9,
			minimum_amount = $10, maximum_amount = $11, applicable_employees = $12, condition = $13,
			is_active = $14, effective_date = $15, expiry_date = $16, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING ` + benefitRuleColumns

	updated, err := scanBenefitRule(q.QueryRow(ctx, query,
		rule.ID, rule.CompanyID, rule.Code, rule.Name, rule.Category, p.kind, p.rate, p.amount, p.bands,
		rule.MinimumAmount, rule.MaximumAmount, p.employees, rule.Condition, rule.IsActive,
		rule.EffectiveDate, rule.ExpiryDate,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.BenefitRule{}, payroll.ErrBenefitRuleNotFound
		}
		if database.IsUniqueViolation(err, "uk_payroll_benefit_rule_code") {
			return payroll.BenefitRule{}, payroll.ErrRuleCodeExists
		}
		return payroll.BenefitRule{}, fmt.Errorf("failed to update benefit rule: %w", err)
	}

	return updated, nil
}

func (r *payrollRepository) SetBenefitRuleActive(ctx context.Context, id string, companyID string, active bool) error {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE payroll_benefit_rules SET is_active = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
	`, id, companyID, active)
	if err != nil {
		return fmt.Errorf("failed to update benefit rule status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrBenefitRuleNotFound
	}

	return nil
}

func ruleListQuery(table, columns, companyID string, filter payroll.RuleFilter) (string, []interface{}) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE company_id = $1", columns, table)
	args := []interface{}{companyID}
	argIdx := 2

	if filter.ActiveOnly {
		query += " AND is_active = TRUE"
	}
	if filter.Category != nil {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, *filter.Category)
		argIdx++
	}

	query += " ORDER BY category, code"
	return query, args
}

// ========== PERIODS ==========

const periodColumns = `id, company_id, name, start_date, end_date, pay_date, status, register_path, closed_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (payroll.PayrollPeriod, error) {
	var p payroll.PayrollPeriod
	err := row.Scan(
		&p.ID, &p.CompanyID, &p.Name, &p.StartDate, &p.EndDate, &p.PayDate, &p.Status,
		&p.RegisterPath, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (r *payrollRepository) CreatePeriod(ctx context.Context, period payroll.PayrollPeriod) (payroll.PayrollPeriod, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		INSERT INTO payroll_periods (id, company_id, name, start_date, end_date, pay_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + periodColumns

	created, err := scanPeriod(q.QueryRow(ctx, query,
		newID(), period.CompanyID, period.Name, period.StartDate, period.EndDate, period.PayDate, period.Status,
	))
	if err != nil {
		if database.IsUniqueViolation(err, "uk_payroll_period_range") {
			return payroll.PayrollPeriod{}, payroll.ErrPeriodExists
		}
		return payroll.PayrollPeriod{}, fmt.Errorf("failed to create payroll period: %w", err)
	}

	return created, nil
}

func (r *payrollRepository) GetPeriod(ctx context.Context, id string, companyID string) (payroll.PayrollPeriod, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + periodColumns + ` FROM payroll_periods WHERE id = $1 AND company_id = $2`

	period, err := scanPeriod(q.QueryRow(ctx, query, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.PayrollPeriod{}, payroll.ErrPeriodNotFound
		}
		return payroll.PayrollPeriod{}, fmt.Errorf("failed to get payroll period: %w", err)
	}

	return period, nil
}

func (r *payrollRepository) ListPeriods(ctx context.Context, companyID string, filter payroll.PeriodFilter) ([]payroll.PayrollPeriod, int64, error) {
	q := GetQuerier(ctx, r.db)

	baseQuery := ` FROM payroll_periods WHERE company_id = $1`
	args := []interface{}{companyID}
	argIdx := 2

	if filter.Status != nil {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}
	if filter.Year != nil {
		baseQuery += fmt.Sprintf(" AND EXTRACT(YEAR FROM start_date) = $%d", argIdx)
		args = append(args, *filter.Year)
		argIdx++
	}

	var totalCount int64
	if err := q.QueryRow(ctx, "SELECT COUNT(*)"+baseQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count payroll periods: %w", err)
	}

	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	offset := (filter.Page - 1) * filter.Limit

	selectQuery := fmt.Sprintf(`SELECT %s %s ORDER BY start_date DESC LIMIT $%d OFFSET $%d`,
		periodColumns, baseQuery, argIdx, argIdx+1)
	args = append(args, filter.Limit, offset)

	rows, err := q.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payroll periods: %w", err)
	}
	defer rows.Close()

	var periods []payroll.PayrollPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payroll period: %w", err)
		}
		periods = append(periods, p)
	}

	return periods, totalCount, rows.Err()
}

func (r *payrollRepository) ClosePeriod(ctx context.Context, id string, companyID string, registerPath string, closedAt time.Time) error {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE payroll_periods
		SET status = $3, register_path = $4, closed_at = $5, updated_at = NOW()
		WHERE id = $1 AND company_id = $2 AND status = $6
	`, id, companyID, payroll.PeriodStatusClosed, registerPath, closedAt, payroll.PeriodStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to close payroll period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrPeriodClosed
	}

	return nil
}

// ========== EMPLOYEES ==========

const employeeColumns = `id, company_id, full_name, employee_code, basic_salary, pay_frequency`

func scanEmployee(row pgx.Row) (payroll.Employee, error) {
	var e payroll.Employee
	err := row.Scan(&e.ID, &e.CompanyID, &e.FullName, &e.EmployeeCode, &e.BasicSalary, &e.PayFrequency)
	return e, err
}

func (r *payrollRepository) GetEmployee(ctx context.Context, id string, companyID string) (payroll.Employee, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1 AND company_id = $2`

	emp, err := scanEmployee(q.QueryRow(ctx, query, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Employee{}, payroll.ErrEmployeeNotFound
		}
		return payroll.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}

	return emp, nil
}

// ListPayableEmployees returns active employees with a positive salary,
// optionally restricted to employeeIDs.
func (r *payrollRepository) ListPayableEmployees(ctx context.Context, companyID string, employeeIDs []string) ([]payroll.Employee, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + employeeColumns + `
		FROM employees
		WHERE company_id = $1 AND employment_status = 'active' AND basic_salary > 0`
	args := []interface{}{companyID}
	if len(employeeIDs) > 0 {
		query += " AND id = ANY($2::uuid[])"
		args = append(args, employeeIDs)
	}
	query += " ORDER BY full_name"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payable employees: %w", err)
	}
	defer rows.Close()

	var employees []payroll.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, emp)
	}

	return employees, rows.Err()
}

// ========== PAYROLL ITEMS ==========

const itemSelect = `
	SELECT pi.id, pi.company_id, pi.employee_id, pi.period_id, pi.pay_frequency,
		   pi.basic_salary, pi.overtime_hours, pi.overtime_rate, pi.overtime_pay, pi.bonus, pi.commission,
		   pi.allowances, pi.other_earnings, pi.custom_earnings,
		   pi.income_tax, pi.social_security, pi.health_insurance, pi.retirement_contribution,
		   pi.loan_deductions, pi.other_deductions, pi.custom_deductions,
		   pi.health_benefits, pi.retirement_benefits, pi.other_benefits, pi.custom_benefits,
		   pi.gross_pay, pi.total_deductions, pi.total_benefits, pi.net_pay,
		   pi.applied_rules, pi.status, pi.approved_at, pi.approved_by, pi.paid_at, pi.paid_by, pi.notes,
		   pi.created_at, pi.updated_at,
		   e.full_name AS employee_name, e.employee_code, pp.name AS period_name
	FROM payroll_items pi
	JOIN employees e ON e.id = pi.employee_id
	JOIN payroll_periods pp ON pp.id = pi.period_id`

func scanItem(row pgx.Row) (payroll.PayrollItem, error) {
	var it payroll.PayrollItem
	var earningsJSON, deductionsJSON, benefitsJSON, appliedJSON []byte
	if err := row.Scan(
		&it.ID, &it.CompanyID, &it.EmployeeID, &it.PeriodID, &it.PayFrequency,
		&it.BasicSalary, &it.OvertimeHours, &it.OvertimeRate, &it.OvertimePay, &it.Bonus, &it.Commission,
		&it.Allowances, &it.OtherEarnings, &earningsJSON,
		&it.IncomeTax, &it.SocialSecurity, &it.HealthInsurance, &it.RetirementContribution,
		&it.LoanDeductions, &it.OtherDeductions, &deductionsJSON,
		&it.HealthBenefits, &it.RetirementBenefits, &it.OtherBenefits, &benefitsJSON,
		&it.GrossPay, &it.TotalDeductions, &it.TotalBenefits, &it.NetPay,
		&appliedJSON, &it.Status, &it.ApprovedAt, &it.ApprovedBy, &it.PaidAt, &it.PaidBy, &it.Notes,
		&it.CreatedAt, &it.UpdatedAt,
		&it.EmployeeName, &it.EmployeeCode, &it.PeriodName,
	); err != nil {
		return payroll.PayrollItem{}, err
	}
	_ = json.Unmarshal(earningsJSON, &it.CustomEarnings)
	_ = json.Unmarshal(deductionsJSON, &it.CustomDeductions)
	_ = json.Unmarshal(benefitsJSON, &it.CustomBenefits)
	_ = json.Unmarshal(appliedJSON, &it.AppliedRules)
	return it, nil
}

type itemJSON struct {
	earnings, deductions, benefits, applied []byte
}

func encodeItemJSON(item payroll.PayrollItem) (itemJSON, error) {
	var out itemJSON
	var err error
	if out.earnings, err = json.Marshal(orEmpty(item.CustomEarnings)); err != nil {
		return out, err
	}
	if out.deductions, err = json.Marshal(orEmpty(item.CustomDeductions)); err != nil {
		return out, err
	}
	if out.benefits, err = json.Marshal(orEmpty(item.CustomBenefits)); err != nil {
		return out, err
	}
	applied := item.AppliedRules
	if applied == nil {
		applied = []payroll.AppliedRule{}
	}
	out.applied, err = json.Marshal(applied)
	return out, err
}

func orEmpty(lines []payroll.CustomLine) []payroll.CustomLine {
	if lines == nil {
		return []payroll.CustomLine{}
	}
	return lines
}

func (r *payrollRepository) CreateItem(ctx context.Context, item payroll.PayrollItem) (payroll.PayrollItem, error) {
	q := GetQuerier(ctx, r.db)

	js, err := encodeItemJSON(item)
	if err != nil {
		return payroll.PayrollItem{}, fmt.Errorf("failed to encode payroll item lines: %w", err)
	}

	query := `
		INSERT INTO payroll_items (
			id, company_id, employee_id, period_id, pay_frequency,
			basic_salary, overtime_hours, overtime_rate, overtime_pay, bonus, commission,
			allowances, other_earnings, custom_earnings,
			income_tax, social_security, health_insurance, retirement_contribution,
			loan_deductions, other_deductions, custom_deductions,
			health_benefits, retirement_benefits, other_benefits, custom_benefits,
			gross_pay, total_deductions, total_benefits, net_pay,
			applied_rules, status, notes
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32
		)
		RETURNING id, created_at, updated_at
	`

	err = q.QueryRow(ctx, query,
		newID(), item.CompanyID, item.EmployeeID, item.PeriodID, item.PayFrequency,
		item.BasicSalary, item.OvertimeHours, item.OvertimeRate, item.OvertimePay, item.Bonus, item.Commission,
		item.Allowances, item.OtherEarnings, js.earnings,
		item.IncomeTax, item.SocialSecurity, item.HealthInsurance, item.RetirementContribution,
		item.LoanDeductions, item.OtherDeductions, js.deductions,
		item.HealthBenefits, item.RetirementBenefits, item.OtherBenefits, js.benefits,
		item.GrossPay, item.TotalDeductions, item.TotalBenefits, item.NetPay,
		js.applied, item.Status, item.Notes,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "uk_payroll_item_employee_period") {
			return payroll.PayrollItem{}, payroll.ErrPayrollItemAlreadyExists
		}
		return payroll.PayrollItem{}, fmt.Errorf("failed to create payroll item: %w", err)
	}

	return item, nil
}

func (r *payrollRepository) GetItem(ctx context.Context, id string, companyID string) (payroll.PayrollItem, error) {
	q := GetQuerier(ctx, r.db)

	item, err := scanItem(q.QueryRow(ctx, itemSelect+` WHERE pi.id = $1 AND pi.company_id = $2`, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.PayrollItem{}, payroll.ErrPayrollItemNotFound
		}
		return payroll.PayrollItem{}, fmt.Errorf("failed to get payroll item: %w", err)
	}

	return item, nil
}

func (r *payrollRepository) ListItems(ctx context.Context, companyID string, filter payroll.PayrollItemFilter) ([]payroll.PayrollItem, int64, error) {
	q := GetQuerier(ctx, r.db)

	where := ` WHERE pi.company_id = $1`
	args := []interface{}{companyID}
	argIdx := 2

	if filter.PeriodID != nil {
		where += fmt.Sprintf(" AND pi.period_id = $%d", argIdx)
		args = append(args, *filter.PeriodID)
		argIdx++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND pi.status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}
	if filter.EmployeeID != nil {
		where += fmt.Sprintf(" AND pi.employee_id = $%d", argIdx)
		args = append(args, *filter.EmployeeID)
		argIdx++
	}

	// Count query
	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM payroll_items pi" + where
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count payroll items: %w", err)
	}

	// Sort
	sortColumn := "pi.created_at"
	if filter.SortBy != "" {
		allowedColumns := map[string]string{
			"created_at":    "pi.created_at",
			"employee_name": "e.full_name",
			"gross_pay":     "pi.gross_pay",
			"net_pay":       "pi.net_pay",
			"status":        "pi.status",
		}
		if col, ok := allowedColumns[filter.SortBy]; ok {
			sortColumn = col
		}
	}
	sortOrder := "DESC"
	if filter.SortOrder == "asc" {
		sortOrder = "ASC"
	}

	// Pagination
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	offset := (filter.Page - 1) * filter.Limit

	selectQuery := fmt.Sprintf(`%s %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		itemSelect, where, sortColumn, sortOrder, argIdx, argIdx+1)
	args = append(args, filter.Limit, offset)

	rows, err := q.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payroll items: %w", err)
	}
	defer rows.Close()

	var items []payroll.PayrollItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payroll item: %w", err)
		}
		items = append(items, it)
	}

	return items, totalCount, rows.Err()
}

func (r *payrollRepository) ListItemsByPeriod(ctx context.Context, periodID string, companyID string) ([]payroll.PayrollItem, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, itemSelect+` WHERE pi.period_id = $1 AND pi.company_id = $2 ORDER BY e.full_name`, periodID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payroll items for period: %w", err)
	}
	defer rows.Close()

	var items []payroll.PayrollItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payroll item: %w", err)
		}
		items = append(items, it)
	}

	return items, rows.Err()
}

func (r *payrollRepository) ExistingItemEmployees(ctx context.Context, periodID string, companyID string) (map[string]bool, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `SELECT employee_id FROM payroll_items WHERE period_id = $1 AND company_id = $2`, periodID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing payroll items: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var employeeID string
		if err := rows.Scan(&employeeID); err != nil {
			return nil, fmt.Errorf("failed to scan employee id: %w", err)
		}
		existing[employeeID] = true
	}

	return existing, rows.Err()
}

func (r *payrollRepository) UpdateItem(ctx context.Context, item payroll.PayrollItem) error {
	q := GetQuerier(ctx, r.db)

	js, err := encodeItemJSON(item)
	if err != nil {
		return fmt.Errorf("failed to encode payroll item lines: %w", err)
	}

	setParts := []string{
		"overtime_hours = $3", "overtime_rate = $4", "overtime_pay = $5", "bonus = $6", "commission = $7",
		"allowances = $8", "other_earnings = $9", "custom_earnings = $10",
		"income_tax = $11", "social_security = $12", "health_insurance = $13", "retirement_contribution = $14",
		"loan_deductions = $15", "other_deductions = $16", "custom_deductions = $17",
		"health_benefits = $18", "retirement_benefits = $19", "other_benefits = $20", "custom_benefits = $21",
		"gross_pay = $22", "total_deductions = $23", "total_benefits = $24", "net_pay = $25",
		"applied_rules = $26", "notes = $27", "updated_at = NOW()",
	}
	query := fmt.Sprintf(`
		UPDATE payroll_items SET %s
		WHERE id = $1 AND company_id = $2 AND status = 'draft'
	`, strings.Join(setParts, ", "))

	tag, err := q.Exec(ctx, query,
		item.ID, item.CompanyID,
		item.OvertimeHours, item.OvertimeRate, item.OvertimePay, item.Bonus, item.Commission,
		item.Allowances, item.OtherEarnings, js.earnings,
		item.IncomeTax, item.SocialSecurity, item.HealthInsurance, item.RetirementContribution,
		item.LoanDeductions, item.OtherDeductions, js.deductions,
		item.HealthBenefits, item.RetirementBenefits, item.OtherBenefits, js.benefits,
		item.GrossPay, item.TotalDeductions, item.TotalBenefits, item.NetPay,
		js.applied, item.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to update payroll item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrPayrollItemNotEditable
	}

	return nil
}

func (r *payrollRepository) UpdateItemStatus(ctx context.Context, item payroll.PayrollItem, from payroll.PayrollStatus) error {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE payroll_items SET
			status = $3, approved_at = $4, approved_by = $5, paid_at = $6, paid_by = $7,
			gross_pay = $8, total_deductions = $9, total_benefits = $10, net_pay = $11,
			updated_at = NOW()
		WHERE id = $1 AND company_id = $2 AND status = $12
	`, item.ID, item.CompanyID, item.Status, item.ApprovedAt, item.ApprovedBy, item.PaidAt, item.PaidBy,
		item.GrossPay, item.TotalDeductions, item.TotalBenefits, item.NetPay, from)
	if err != nil {
		return fmt.Errorf("failed to update payroll item status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrInvalidStatusTransition
	}

	return nil
}

func (r *payrollRepository) DeleteItem(ctx context.Context, id string, companyID string) error {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `DELETE FROM payroll_items WHERE id = $1 AND company_id = $2 AND status = 'draft'`, id, companyID)
	if err != nil {
		return fmt.Errorf("failed to delete payroll item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrPayrollItemNotEditable
	}

	return nil
}

// ========== AGGREGATIONS ==========

func (r *payrollRepository) GetPeriodTotals(ctx context.Context, periodID string, companyID string) (payroll.PeriodTotals, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'draft'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'paid'),
			COALESCE(SUM(gross_pay), 0),
			COALESCE(SUM(total_deductions), 0),
			COALESCE(SUM(total_benefits), 0),
			COALESCE(SUM(net_pay), 0)
		FROM payroll_items
		WHERE period_id = $1 AND company_id = $2
	`

	var t payroll.PeriodTotals
	err := q.QueryRow(ctx, query, periodID, companyID).Scan(
		&t.ItemCount, &t.DraftCount, &t.ApprovedCount, &t.PaidCount,
		&t.GrossPay, &t.TotalDeductions, &t.TotalBenefits, &t.NetPay,
	)
	if err != nil {
		return payroll.PeriodTotals{}, fmt.Errorf("failed to get period totals: %w", err)
	}

	return t, nil
}
