package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/payroll"
	"github.com/Chrisphine10/intellicash-sub009/internal/handler/http/response"
	"github.com/go-chi/chi/v5"
)

type PayrollHandler interface {
	// Deduction rules
	CreateDeductionRule(w http.ResponseWriter, r *http.Request)
	GetDeductionRule(w http.ResponseWriter, r *http.Request)
	ListDeductionRules(w http.ResponseWriter, r *http.Request)
	UpdateDeductionRule(w http.ResponseWriter, r *http.Request)
	DisableDeductionRule(w http.ResponseWriter, r *http.Request)

	// Benefit rules
	CreateBenefitRule(w http.ResponseWriter, r *http.Request)
	GetBenefitRule(w http.ResponseWriter, r *http.Request)
	ListBenefitRules(w http.ResponseWriter, r *http.Request)
	UpdateBenefitRule(w http.ResponseWriter, r *http.Request)
	DisableBenefitRule(w http.ResponseWriter, r *http.Request)

	PreviewRule(w http.ResponseWriter, r *http.Request)
	ListRulePresets(w http.ResponseWriter, r *http.Request)
	ApplyRulePreset(w http.ResponseWriter, r *http.Request)

	// Periods
	CreatePeriod(w http.ResponseWriter, r *http.Request)
	GetPeriod(w http.ResponseWriter, r *http.Request)
	ListPeriods(w http.ResponseWriter, r *http.Request)
	ClosePeriod(w http.ResponseWriter, r *http.Request)
	GetPeriodSummary(w http.ResponseWriter, r *http.Request)
	ExportPeriodRegister(w http.ResponseWriter, r *http.Request)

	// Payroll items
	GeneratePayroll(w http.ResponseWriter, r *http.Request)
	GetPayrollItem(w http.ResponseWriter, r *http.Request)
	ListPayrollItems(w http.ResponseWriter, r *http.Request)
	UpdatePayrollItem(w http.ResponseWriter, r *http.Request)
	RecalculatePayrollItem(w http.ResponseWriter, r *http.Request)
	AddCustomEarning(w http.ResponseWriter, r *http.Request)
	AddCustomDeduction(w http.ResponseWriter, r *http.Request)
	AddCustomBenefit(w http.ResponseWriter, r *http.Request)
	DeletePayrollItem(w http.ResponseWriter, r *http.Request)
	GetItemSummary(w http.ResponseWriter, r *http.Request)

	// Transitions
	ApprovePayrollItem(w http.ResponseWriter, r *http.Request)
	ApprovePayrollItems(w http.ResponseWriter, r *http.Request)
	MarkPayrollItemPaid(w http.ResponseWriter, r *http.Request)
	MarkPayrollItemsPaid(w http.ResponseWriter, r *http.Request)
}

type payrollHandlerImpl struct {
	payrollService payroll.PayrollService
}

func NewPayrollHandler(payrollService payroll.PayrollService) PayrollHandler {
	return &payrollHandlerImpl{payrollService: payrollService}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param string, label string) (string, bool) {
	id := chi.URLParam(r, param)
	if id == "" {
		response.BadRequest(w, label+" is required", nil)
		return "", false
	}
	return id, true
}

// ========== DEDUCTION RULES ==========

func (h *payrollHandlerImpl) CreateDeductionRule(w http.ResponseWriter, r *http.Request) {
	var req payroll.CreateDeductionRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.payrollService.CreateDeductionRule(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Created(w, "Deduction rule created", result)
}

func (h *payrollHandlerImpl) GetDeductionRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Rule ID")
	if !ok {
		return
	}

	result, err := h.payrollService.GetDeductionRule(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) ListDeductionRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"

	result, err := h.payrollService.ListDeductionRules(r.Context(), activeOnly)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) UpdateDeductionRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Rule ID")
	if !ok {
		return
	}

	var req payroll.UpdateDeductionRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ID = id

	result, err := h.payrollService.UpdateDeductionRule(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) DisableDeductionRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Rule ID")
	if !ok {
		return
	}

	if err := h.payrollService.DisableDeductionRule(r.Context(), id); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Deduction rule disabled", nil)
}

// ========== BENEFIT RULES ==========

func (h *payrollHandlerImpl) CreateBenefitRule(w http.ResponseWriter, r *http.Request) {
	var req payroll.CreateBenefitRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.payrollService.CreateBenefitRule(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Created(w, "Benefit rule created", result)
}

func (h *payrollHandlerImpl) GetBenefitRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Rule ID")
	if !ok {
		return
	}

	result, err := h.payrollService.GetBenefitRule(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) ListBenefitRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"

	result, err := h.payrollService.ListBenefitRules(r.Context(), activeOnly)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) UpdateBenefitRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Rule ID")
	if !ok {
		return
	}

	var req payroll.UpdateBenefitRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ID = id

	result, err := h.payrollService.UpdateBenefitRule(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) DisableBenefitRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Rule ID")
	if !ok {
		return
	}

	if err := h.payrollService.DisableBenefitRule(r.Context(), id); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Benefit rule disabled", nil)
}

// ========== PREVIEW & PRESETS ==========

func (h *payrollHandlerImpl) PreviewRule(w http.ResponseWriter, r *http.Request) {
	var req payroll.PreviewRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.payrollService.PreviewRule(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) ListRulePresets(w http.ResponseWriter, r *http.Request) {
	result, err := h.payrollService.ListRulePresets(r.Context())
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) ApplyRulePreset(w http.ResponseWriter, r *http.Request) {
	code, ok := pathID(w, r, "code", "Preset code")
	if !ok {
		return
	}

	result, err := h.payrollService.ApplyRulePreset(r.Context(), code)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Rule preset applied", result)
}

// ========== PERIODS ==========

func (h *payrollHandlerImpl) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req payroll.CreatePeriodRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.payrollService.CreatePeriod(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Created(w, "Payroll period created", result)
}

func (h *payrollHandlerImpl) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Period ID")
	if !ok {
		return
	}

	result, err := h.payrollService.GetPeriod(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) ListPeriods(w http.ResponseWriter, r *http.Request) {
	filter := payroll.PeriodFilter{
		Page:  1,
		Limit: 20,
	}

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil && page > 0 {
			filter.Page = page
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			filter.Limit = limit
		}
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = &status
	}
	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		if year, err := strconv.Atoi(yearStr); err == nil {
			filter.Year = &year
		}
	}

	result, err := h.payrollService.ListPeriods(r.Context(), filter)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMeta(w, result.Periods, response.NewMeta(result.Page, result.Limit, result.TotalCount))
}

func (h *payrollHandlerImpl) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Period ID")
	if !ok {
		return
	}

	result, err := h.payrollService.ClosePeriod(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Payroll period closed", result)
}

func (h *payrollHandlerImpl) GetPeriodSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Period ID")
	if !ok {
		return
	}

	result, err := h.payrollService.GetPeriodSummary(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) ExportPeriodRegister(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Period ID")
	if !ok {
		return
	}

	csv, err := h.payrollService.ExportPeriodRegister(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.CSV(w, fmt.Sprintf("payroll-register-%s.csv", id), csv)
}

// ========== PAYROLL ITEMS ==========

func (h *payrollHandlerImpl) GeneratePayroll(w http.ResponseWriter, r *http.Request) {
	periodID, ok := pathID(w, r, "id", "Period ID")
	if !ok {
		return
	}

	var req payroll.GeneratePayrollRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	req.PeriodID = periodID

	result, err := h.payrollService.GeneratePayroll(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Created(w, "Payroll generated", result)
}

func (h *payrollHandlerImpl) GetPayrollItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Item ID")
	if !ok {
		return
	}

	result, err := h.payrollService.GetPayrollItem(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) ListPayrollItems(w http.ResponseWriter, r *http.Request) {
	filter := payroll.PayrollItemFilter{
		Page:      1,
		Limit:     20,
		SortBy:    "created_at",
		SortOrder: "desc",
	}

	query := r.URL.Query()
	if pageStr := query.Get("page"); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil && page > 0 {
			filter.Page = page
		}
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			filter.Limit = limit
		}
	}
	if periodID := query.Get("period_id"); periodID != "" {
		filter.PeriodID = &periodID
	}
	if status := query.Get("status"); status != "" {
		filter.Status = &status
	}
	if employeeID := query.Get("employee_id"); employeeID != "" {
		filter.EmployeeID = &employeeID
	}
	if sortBy := query.Get("sort_by"); sortBy != "" {
		filter.SortBy = sortBy
	}
	if sortOrder := query.Get("sort_order"); sortOrder != "" {
		filter.SortOrder = sortOrder
	}

	result, err := h.payrollService.ListPayrollItems(r.Context(), filter)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMeta(w, result.Items, response.NewMeta(result.Page, result.Limit, result.TotalCount))
}

func (h *payrollHandlerImpl) UpdatePayrollItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Item ID")
	if !ok {
		return
	}

	var req payroll.UpdatePayrollItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ID = id

	result, err := h.payrollService.UpdatePayrollItem(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) RecalculatePayrollItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Item ID")
	if !ok {
		return
	}

	result, err := h.payrollService.RecalculatePayrollItem(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) addCustomLine(w http.ResponseWriter, r *http.Request, add func(context.Context, payroll.AddCustomLineRequest) (payroll.PayrollItemResponse, error)) {
	id, ok := pathID(w, r, "id", "Item ID")
	if !ok {
		return
	}

	var req payroll.AddCustomLineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ItemID = id

	result, err := add(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Created(w, "Custom line added", result)
}

func (h *payrollHandlerImpl) AddCustomEarning(w http.ResponseWriter, r *http.Request) {
	h.addCustomLine(w, r, h.payrollService.AddCustomEarning)
}

func (h *payrollHandlerImpl) AddCustomDeduction(w http.ResponseWriter, r *http.Request) {
	h.addCustomLine(w, r, h.payrollService.AddCustomDeduction)
}

func (h *payrollHandlerImpl) AddCustomBenefit(w http.ResponseWriter, r *http.Request) {
	h.addCustomLine(w, r, h.payrollService.AddCustomBenefit)
}

func (h *payrollHandlerImpl) DeletePayrollItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Item ID")
	if !ok {
		return
	}

	if err := h.payrollService.DeletePayrollItem(r.Context(), id); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Payroll item deleted successfully", nil)
}

func (h *payrollHandlerImpl) GetItemSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Item ID")
	if !ok {
		return
	}

	result, err := h.payrollService.GetItemSummary(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

// ========== TRANSITIONS ==========

func (h *payrollHandlerImpl) ApprovePayrollItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Item ID")
	if !ok {
		return
	}

	result, err := h.payrollService.ApprovePayrollItem(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Payroll item approved", result)
}

func (h *payrollHandlerImpl) ApprovePayrollItems(w http.ResponseWriter, r *http.Request) {
	var req payroll.BulkItemsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.payrollService.ApprovePayrollItems(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *payrollHandlerImpl) MarkPayrollItemPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "Item ID")
	if !ok {
		return
	}

	result, err := h.payrollService.MarkPayrollItemPaid(r.Context(), id)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Payroll item marked as paid", result)
}

func (h *payrollHandlerImpl) MarkPayrollItemsPaid(w http.ResponseWriter, r *http.Request) {
	var req payroll.BulkItemsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.payrollService.MarkPayrollItemsPaid(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}
