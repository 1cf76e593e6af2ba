package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/payroll"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	// Check if it's a validation error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	// Rule errors
	case errors.Is(err, payroll.ErrRuleConfiguration):
		UnprocessableEntity(w, CodeRuleConfiguration, err.Error())
	case errors.Is(err, payroll.ErrDeductionRuleNotFound):
		NotFound(w, "Deduction rule not found")
	case errors.Is(err, payroll.ErrBenefitRuleNotFound):
		NotFound(w, "Benefit rule not found")
	case errors.Is(err, payroll.ErrRulePresetNotFound):
		NotFound(w, "Rule preset not found")
	case errors.Is(err, payroll.ErrRuleCodeExists):
		Conflict(w, "Rule code already exists")

	// Period errors
	case errors.Is(err, payroll.ErrPeriodNotFound):
		NotFound(w, "Payroll period not found")
	case errors.Is(err, payroll.ErrPeriodExists):
		Conflict(w, "Payroll period already exists for this date range")
	case errors.Is(err, payroll.ErrPeriodClosed):
		Conflict(w, "Payroll period is closed")
	case errors.Is(err, payroll.ErrPeriodNotSettled):
		Conflict(w, "Payroll period has items that are not paid")
	case errors.Is(err, payroll.ErrInvalidPeriod):
		BadRequest(w, err.Error(), nil)

	// Item errors
	case errors.Is(err, payroll.ErrPayrollItemNotFound):
		NotFound(w, "Payroll item not found")
	case errors.Is(err, payroll.ErrPayrollItemAlreadyExists):
		Conflict(w, "Payroll item already exists for this employee and period")
	case errors.Is(err, payroll.ErrPayrollItemNotEditable):
		Conflict(w, "Payroll item is no longer a draft")
	case errors.Is(err, payroll.ErrInvalidStatusTransition):
		Conflict(w, "Invalid payroll item status transition")
	case errors.Is(err, payroll.ErrNoPayableEmployees):
		UnprocessableEntity(w, CodeNoPayableEmployees, "No payable employees found")
	case errors.Is(err, payroll.ErrUnsupportedPayFrequency), errors.Is(err, payroll.ErrEmployeeHasNoBaseSalary):
		UnprocessableEntity(w, CodeEmployeeNotPayable, err.Error())
	case errors.Is(err, payroll.ErrEmployeeNotFound):
		NotFound(w, "Employee not found")

	// Default
	default:
		slog.Error("unhandled error", "error", err)
		InternalServerError(w, "An unexpected error occurred")
	}
}
