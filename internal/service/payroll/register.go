package payroll

import (
	"github.com/Chrisphine10/intellicash-sub009/internal/domain/payroll"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// registerRow is one line of the period register CSV. Amounts are
// formatted with two decimals.
type registerRow struct {
	EmployeeID             string `csv:"employee_id"`
	EmployeeCode           string `csv:"employee_code"`
	EmployeeName           string `csv:"employee_name"`
	BasicSalary            string `csv:"basic_salary"`
	OvertimePay            string `csv:"overtime_pay"`
	Bonus                  string `csv:"bonus"`
	Commission             string `csv:"commission"`
	Allowances             string `csv:"allowances"`
	OtherEarnings          string `csv:"other_earnings"`
	GrossPay               string `csv:"gross_pay"`
	IncomeTax              string `csv:"income_tax"`
	SocialSecurity         string `csv:"social_security"`
	HealthInsurance        string `csv:"health_insurance"`
	RetirementContribution string `csv:"retirement_contribution"`
	LoanDeductions         string `csv:"loan_deductions"`
	OtherDeductions        string `csv:"other_deductions"`
	TotalDeductions        string `csv:"total_deductions"`
	TotalBenefits          string `csv:"total_benefits"`
	NetPay                 string `csv:"net_pay"`
	Status                 string `csv:"status"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// buildRegister renders items followed by a TOTAL row.
func buildRegister(items []payroll.PayrollItem) ([]byte, error) {
	rows := make([]*registerRow, 0, len(items)+1)
	var gross, deductions, benefits, net decimal.Decimal

	for _, it := range items {
		rows = append(rows, &registerRow{
			EmployeeID:             it.EmployeeID,
			EmployeeCode:           deref(it.EmployeeCode),
			EmployeeName:           deref(it.EmployeeName),
			BasicSalary:            money(it.BasicSalary),
			OvertimePay:            money(it.OvertimePay),
			Bonus:                  money(it.Bonus),
			Commission:             money(it.Commission),
			Allowances:             money(it.Allowances),
			OtherEarnings:          money(it.OtherEarnings),
			GrossPay:               money(it.GrossPay),
			IncomeTax:              money(it.IncomeTax),
			SocialSecurity:         money(it.SocialSecurity),
			HealthInsurance:        money(it.HealthInsurance),
			RetirementContribution: money(it.RetirementContribution),
			LoanDeductions:         money(it.LoanDeductions),
			OtherDeductions:        money(it.OtherDeductions),
			TotalDeductions:        money(it.TotalDeductions),
			TotalBenefits:          money(it.TotalBenefits),
			NetPay:                 money(it.NetPay),
			Status:                 string(it.Status),
		})
		gross = gross.Add(it.GrossPay)
		deductions = deductions.Add(it.TotalDeductions)
		benefits = benefits.Add(it.TotalBenefits)
		net = net.Add(it.NetPay)
	}

	rows = append(rows, &registerRow{
		EmployeeName:    "TOTAL",
		GrossPay:        money(gross),
		TotalDeductions: money(deductions),
		TotalBenefits:   money(benefits),
		NetPay:          money(net),
	})

	return gocsv.MarshalBytes(&rows)
}
