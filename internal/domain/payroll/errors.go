package payroll

import "errors"

var (
	ErrRuleConfiguration        = errors.New("invalid payroll rule configuration")
	ErrDeductionRuleNotFound    = errors.New("deduction rule not found")
	ErrBenefitRuleNotFound      = errors.New("benefit rule not found")
	ErrRuleCodeExists           = errors.New("payroll rule code already exists")
	ErrRulePresetNotFound       = errors.New("payroll rule preset not found")
	ErrPeriodNotFound           = errors.New("payroll period not found")
	ErrPeriodExists             = errors.New("payroll period already exists for this date range")
	ErrPeriodClosed             = errors.New("payroll period is closed")
	ErrPeriodNotSettled         = errors.New("payroll period has unpaid items")
	ErrInvalidPeriod            = errors.New("invalid payroll period")
	ErrPayrollItemNotFound      = errors.New("payroll item not found")
	ErrPayrollItemAlreadyExists = errors.New("payroll item already exists for this employee and period")
	ErrPayrollItemNotEditable   = errors.New("payroll item is no longer a draft, cannot modify")
	ErrInvalidStatusTransition  = errors.New("invalid payroll item status transition")
	ErrUnsupportedPayFrequency  = errors.New("unsupported pay frequency")
	ErrEmployeeNotFound         = errors.New("employee not found")
	ErrEmployeeHasNoBaseSalary  = errors.New("employee has no base salary configured")
	ErrNoPayableEmployees       = errors.New("no payable employees found")
)
