package payroll

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/outbox"
	"github.com/Chrisphine10/intellicash-sub009/internal/domain/payroll"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/storage"
	"github.com/go-chi/jwtauth/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultWorkers    = 4
	defaultEventTopic = "payroll.events"
)

type Options struct {
	// Workers bounds how many items GeneratePayroll computes at once.
	Workers    int
	EventTopic string
}

type PayrollServiceImpl struct {
	repo       payroll.PayrollRepository
	tx         payroll.TxManager
	outbox     outbox.Repository
	conditions payroll.ConditionEvaluator
	presets    payroll.RulePresetCatalog
	storage    storage.FileStorage

	workers int
	topic   string
	runs    singleflight.Group
	now     func() time.Time
}

func NewPayrollService(
	repo payroll.PayrollRepository,
	tx payroll.TxManager,
	outboxRepo outbox.Repository,
	conditions payroll.ConditionEvaluator,
	presets payroll.RulePresetCatalog,
	fileStorage storage.FileStorage,
	opts Options,
) payroll.PayrollService {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.EventTopic == "" {
		opts.EventTopic = defaultEventTopic
	}
	return &PayrollServiceImpl{
		repo:       repo,
		tx:         tx,
		outbox:     outboxRepo,
		conditions: conditions,
		presets:    presets,
		storage:    fileStorage,
		workers:    opts.Workers,
		topic:      opts.EventTopic,
		now:        time.Now,
	}
}

// Helper to get company_id and user_id from JWT context
func getClaimsFromContext(ctx context.Context) (companyID, userID string, err error) {
	_, claims, err := jwtauth.FromContext(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to extract claims from context: %w", err)
	}

	companyID, ok := claims["company_id"].(string)
	if !ok || companyID == "" {
		return "", "", fmt.Errorf("company_id claim is missing or invalid")
	}

	userID, _ = claims["user_id"].(string)

	return companyID, userID, nil
}

func (s *PayrollServiceImpl) checkCondition(expr string) error {
	if expr == "" {
		return nil
	}
	if s.conditions == nil {
		return fmt.Errorf("%w: rule conditions are not supported", payroll.ErrRuleConfiguration)
	}
	return s.conditions.Check(expr)
}

// ========== DEDUCTION RULES ==========

func (s *PayrollServiceImpl) CreateDeductionRule(ctx context.Context, req payroll.CreateDeductionRuleRequest) (payroll.DeductionRuleResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.DeductionRuleResponse{}, err
	}

	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.DeductionRuleResponse{}, err
	}

	rule, err := req.ToDeductionRule(companyID)
	if err != nil {
		return payroll.DeductionRuleResponse{}, err
	}
	if err := s.checkCondition(rule.Condition); err != nil {
		return payroll.DeductionRuleResponse{}, err
	}

	created, err := s.repo.CreateDeductionRule(ctx, rule)
	if err != nil {
		return payroll.DeductionRuleResponse{}, err
	}

	return payroll.NewDeductionRuleResponse(created), nil
}

func (s *PayrollServiceImpl) GetDeductionRule(ctx context.Context, id string) (payroll.DeductionRuleResponse, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.DeductionRuleResponse{}, err
	}

	rule, err := s.repo.GetDeductionRule(ctx, id, companyID)
	if err != nil {
		return payroll.DeductionRuleResponse{}, err
	}

	return payroll.NewDeductionRuleResponse(rule), nil
}

func (s *PayrollServiceImpl) ListDeductionRules(ctx context.Context, activeOnly bool) ([]payroll.DeductionRuleResponse, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := s.repo.ListDeductionRules(ctx, companyID, payroll.RuleFilter{ActiveOnly: activeOnly})
	if err != nil {
		return nil, err
	}

	responses := make([]payroll.DeductionRuleResponse, 0, len(rules))
	for _, r := range rules {
		responses = append(responses, payroll.NewDeductionRuleResponse(r))
	}
	return responses, nil
}

func (s *PayrollServiceImpl) UpdateDeductionRule(ctx context.Context, req payroll.UpdateDeductionRuleRequest) (payroll.DeductionRuleResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.DeductionRuleResponse{}, err
	}

	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.DeductionRuleResponse{}, err
	}

	rule, err := req.ToDeductionRule(companyID)
	if err != nil {
		return payroll.DeductionRuleResponse{}, err
	}
	if err := s.checkCondition(rule.Condition); err != nil {
		return payroll.DeductionRuleResponse{}, err
	}
	rule.ID = req.ID

	updated, err := s.repo.UpdateDeductionRule(ctx, rule)
	if err != nil {
		return payroll.DeductionRuleResponse{}, err
	}

	return payroll.NewDeductionRuleResponse(updated), nil
}

func (s *PayrollServiceImpl) DisableDeductionRule(ctx context.Context, id string) error {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return err
	}
	return s.repo.SetDeductionRuleActive(ctx, id, companyID, false)
}

// ========== BENEFIT RULES ==========

func (s *PayrollServiceImpl) CreateBenefitRule(ctx context.Context, req payroll.CreateBenefitRuleRequest) (payroll.BenefitRuleResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.BenefitRuleResponse{}, err
	}

	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.BenefitRuleResponse{}, err
	}

	rule, err := req.ToBenefitRule(companyID)
	if err != nil {
		return payroll.BenefitRuleResponse{}, err
	}
	if err := s.checkCondition(rule.Condition); err != nil {
		return payroll.BenefitRuleResponse{}, err
	}

	created, err := s.repo.CreateBenefitRule(ctx, rule)
	if err != nil {
		return payroll.BenefitRuleResponse{}, err
	}

	return payroll.NewBenefitRuleResponse(created), nil
}

func (s *PayrollServiceImpl) GetBenefitRule(ctx context.Context, id string) (payroll.BenefitRuleResponse, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.BenefitRuleResponse{}, err
	}

	rule, err := s.repo.GetBenefitRule(ctx, id, companyID)
	if err != nil {
		return payroll.BenefitRuleResponse{}, err
	}

	return payroll.NewBenefitRuleResponse(rule), nil
}

func (s *PayrollServiceImpl) ListBenefitRules(ctx context.Context, activeOnly bool) ([]payroll.BenefitRuleResponse, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := s.repo.ListBenefitRules(ctx, companyID, payroll.RuleFilter{ActiveOnly: activeOnly})
	if err != nil {
		return nil, err
	}

	responses := make([]payroll.BenefitRuleResponse, 0, len(rules))
	for _, r := range rules {
		responses = append(responses, payroll.NewBenefitRuleResponse(r))
	}
	return responses, nil
}

func (s *PayrollServiceImpl) UpdateBenefitRule(ctx context.Context, req payroll.UpdateBenefitRuleRequest) (payroll.BenefitRuleResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.BenefitRuleResponse{}, err
	}

	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.BenefitRuleResponse{}, err
	}

	rule, err := req.ToBenefitRule(companyID)
	if err != nil {
		return payroll.BenefitRuleResponse{}, err
	}
	if err := s.checkCondition(rule.Condition); err != nil {
		return payroll.BenefitRuleResponse{}, err
	}
	rule.ID = req.ID

	updated, err := s.repo.UpdateBenefitRule(ctx, rule)
	if err != nil {
		return payroll.BenefitRuleResponse{}, err
	}

	return payroll.NewBenefitRuleResponse(updated), nil
}

func (s *PayrollServiceImpl) DisableBenefitRule(ctx context.Context, id string) error {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return err
	}
	return s.repo.SetBenefitRuleActive(ctx, id, companyID, false)
}

// ========== PREVIEW & PRESETS ==========

func (s *PayrollServiceImpl) PreviewRule(ctx context.Context, req payroll.PreviewRuleRequest) (payroll.PreviewRuleResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.PreviewRuleResponse{}, err
	}
	if _, _, err := getClaimsFromContext(ctx); err != nil {
		return payroll.PreviewRuleResponse{}, err
	}

	rule, err := req.ToRule()
	if err != nil {
		return payroll.PreviewRuleResponse{}, err
	}

	return payroll.PreviewRuleResponse{
		Kind:       rule.Calculation.Kind(),
		BaseAmount: req.BaseAmount,
		Amount:     rule.Calculate(req.BaseAmount).Round(2),
	}, nil
}

func (s *PayrollServiceImpl) ListRulePresets(ctx context.Context) ([]payroll.RulePresetResponse, error) {
	if s.presets == nil {
		return []payroll.RulePresetResponse{}, nil
	}

	presets := s.presets.Presets()
	responses := make([]payroll.RulePresetResponse, 0, len(presets))
	for _, p := range presets {
		resp := payroll.RulePresetResponse{
			Code:           p.Code,
			Name:           p.Name,
			Country:        p.Country,
			Description:    p.Description,
			DeductionCodes: make([]string, 0, len(p.Deductions)),
			BenefitCodes:   make([]string, 0, len(p.Benefits)),
		}
		for _, d := range p.Deductions {
			resp.DeductionCodes = append(resp.DeductionCodes, d.Code)
		}
		for _, b := range p.Benefits {
			resp.BenefitCodes = append(resp.BenefitCodes, b.Code)
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// ApplyRulePreset installs the preset's rules for the caller's company.
// Rules whose code the company already uses are skipped, not overwritten.
func (s *PayrollServiceImpl) ApplyRulePreset(ctx context.Context, code string) (payroll.ApplyRulePresetResponse, error) {
	if s.presets == nil {
		return payroll.ApplyRulePresetResponse{}, payroll.ErrRulePresetNotFound
	}
	preset, err := s.presets.Preset(code)
	if err != nil {
		return payroll.ApplyRulePresetResponse{}, err
	}

	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.ApplyRulePresetResponse{}, err
	}

	resp := payroll.ApplyRulePresetResponse{Preset: preset.Code, Installed: []string{}, Skipped: []string{}}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existingDeductions, err := s.repo.ListDeductionRules(ctx, companyID, payroll.RuleFilter{})
		if err != nil {
			return err
		}
		taken := make(map[string]bool, len(existingDeductions))
		for _, r := range existingDeductions {
			taken[r.Code] = true
		}
		for _, d := range preset.Deductions {
			if taken[d.Code] {
				resp.Skipped = append(resp.Skipped, d.Code)
				continue
			}
			d.CompanyID = companyID
			if _, err := s.repo.CreateDeductionRule(ctx, d); err != nil {
				return fmt.Errorf("install %s: %w", d.Code, err)
			}
			resp.Installed = append(resp.Installed, d.Code)
		}

		existingBenefits, err := s.repo.ListBenefitRules(ctx, companyID, payroll.RuleFilter{})
		if err != nil {
			return err
		}
		taken = make(map[string]bool, len(existingBenefits))
		for _, r := range existingBenefits {
			taken[r.Code] = true
		}
		for _, b := range preset.Benefits {
			if taken[b.Code] {
				resp.Skipped = append(resp.Skipped, b.Code)
				continue
			}
			b.CompanyID = companyID
			if _, err := s.repo.CreateBenefitRule(ctx, b); err != nil {
				return fmt.Errorf("install %s: %w", b.Code, err)
			}
			resp.Installed = append(resp.Installed, b.Code)
		}
		return nil
	})
	if err != nil {
		return payroll.ApplyRulePresetResponse{}, err
	}

	slog.Info("payroll rule preset applied", "company_id", companyID, "preset", preset.Code,
		"installed", len(resp.Installed), "skipped", len(resp.Skipped))
	return resp, nil
}

// ========== PERIODS ==========

func (s *PayrollServiceImpl) periodResponse(p payroll.PayrollPeriod) payroll.PeriodResponse {
	var registerURL *string
	if p.RegisterPath != nil && s.storage != nil {
		u := s.storage.URL(*p.RegisterPath)
		registerURL = &u
	}
	return payroll.NewPeriodResponse(p, registerURL)
}

func (s *PayrollServiceImpl) CreatePeriod(ctx context.Context, req payroll.CreatePeriodRequest) (payroll.PeriodResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.PeriodResponse{}, err
	}

	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.PeriodResponse{}, err
	}

	created, err := s.repo.CreatePeriod(ctx, req.ToPeriod(companyID))
	if err != nil {
		return payroll.PeriodResponse{}, err
	}

	return s.periodResponse(created), nil
}

func (s *PayrollServiceImpl) GetPeriod(ctx context.Context, id string) (payroll.PeriodResponse, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.PeriodResponse{}, err
	}

	period, err := s.repo.GetPeriod(ctx, id, companyID)
	if err != nil {
		return payroll.PeriodResponse{}, err
	}

	return s.periodResponse(period), nil
}

func (s *PayrollServiceImpl) ListPeriods(ctx context.Context, filter payroll.PeriodFilter) (payroll.ListPeriodResponse, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.ListPeriodResponse{}, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	periods, total, err := s.repo.ListPeriods(ctx, companyID, filter)
	if err != nil {
		return payroll.ListPeriodResponse{}, err
	}

	responses := make([]payroll.PeriodResponse, 0, len(periods))
	for _, p := range periods {
		responses = append(responses, s.periodResponse(p))
	}

	return payroll.ListPeriodResponse{
		Periods:    responses,
		TotalCount: total,
		Page:       filter.Page,
		Limit:      filter.Limit,
	}, nil
}

type periodClosedEvent struct {
	PeriodID        string `json:"period_id"`
	CompanyID       string `json:"company_id"`
	Name            string `json:"name"`
	ItemCount       int    `json:"item_count"`
	GrossPay        string `json:"gross_pay"`
	TotalDeductions string `json:"total_deductions"`
	TotalBenefits   string `json:"total_benefits"`
	NetPay          string `json:"net_pay"`
	RegisterPath    string `json:"register_path"`
	ClosedBy        string `json:"closed_by,omitempty"`
	ClosedAt        string `json:"closed_at"`
}

// ClosePeriod archives the register of a fully paid period and closes it.
func (s *PayrollServiceImpl) ClosePeriod(ctx context.Context, id string) (payroll.PeriodResponse, error) {
	companyID, userID, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.PeriodResponse{}, err
	}

	period, err := s.repo.GetPeriod(ctx, id, companyID)
	if err != nil {
		return payroll.PeriodResponse{}, err
	}
	if period.Status == payroll.PeriodStatusClosed {
		return payroll.PeriodResponse{}, payroll.ErrPeriodClosed
	}

	totals, err := s.repo.GetPeriodTotals(ctx, id, companyID)
	if err != nil {
		return payroll.PeriodResponse{}, err
	}
	if totals.ItemCount == 0 || totals.PaidCount != totals.ItemCount {
		return payroll.PeriodResponse{}, payroll.ErrPeriodNotSettled
	}

	items, err := s.repo.ListItemsByPeriod(ctx, id, companyID)
	if err != nil {
		return payroll.PeriodResponse{}, err
	}
	register, err := buildRegister(items)
	if err != nil {
		return payroll.PeriodResponse{}, fmt.Errorf("failed to build payroll register: %w", err)
	}

	path := fmt.Sprintf("registers/%s/%s.csv", companyID, period.ID)
	path, err = s.storage.Save(ctx, path, bytes.NewReader(register), "text/csv")
	if err != nil {
		return payroll.PeriodResponse{}, fmt.Errorf("failed to archive payroll register: %w", err)
	}

	closedAt := s.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.ClosePeriod(ctx, id, companyID, path, closedAt); err != nil {
			return err
		}
		event, err := outbox.NewEvent(companyID, "payroll_period", id, outbox.EventPeriodClosed, s.topic, periodClosedEvent{
			PeriodID:        id,
			CompanyID:       companyID,
			Name:            period.Name,
			ItemCount:       totals.ItemCount,
			GrossPay:        money(totals.GrossPay),
			TotalDeductions: money(totals.TotalDeductions),
			TotalBenefits:   money(totals.TotalBenefits),
			NetPay:          money(totals.NetPay),
			RegisterPath:    path,
			ClosedBy:        userID,
			ClosedAt:        closedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.outbox.Create(ctx, event)
	})
	if err != nil {
		if delErr := s.storage.Delete(ctx, path); delErr != nil {
			slog.Warn("failed to remove orphaned payroll register", "path", path, "error", delErr)
		}
		return payroll.PeriodResponse{}, err
	}

	period.Status = payroll.PeriodStatusClosed
	period.RegisterPath = &path
	period.ClosedAt = &closedAt

	slog.Info("payroll period closed", "company_id", companyID, "period_id", id, "items", totals.ItemCount)
	return s.periodResponse(period), nil
}

// ========== GENERATION ==========

// runKey identifies a generate request so identical concurrent calls share
// one run.
func runKey(companyID string, req payroll.GeneratePayrollRequest) string {
	ids := append([]string(nil), req.EmployeeIDs...)
	sort.Strings(ids)

	overtime := make([]string, 0, len(req.OvertimeHours))
	for id, h := range req.OvertimeHours {
		overtime = append(overtime, id+"="+h.String())
	}
	sort.Strings(overtime)

	return strings.Join([]string{companyID, req.PeriodID, strings.Join(ids, ","), strings.Join(overtime, ",")}, "|")
}

func (s *PayrollServiceImpl) GeneratePayroll(ctx context.Context, req payroll.GeneratePayrollRequest) (payroll.GeneratePayrollResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.GeneratePayrollResponse{}, err
	}

	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.GeneratePayrollResponse{}, err
	}

	// The run is shared by every caller with the same key and ignores the
	// cancellation of any one of them.
	v, err, shared := s.runs.Do(runKey(companyID, req), func() (interface{}, error) {
		return s.generate(context.WithoutCancel(ctx), companyID, req)
	})
	if err != nil {
		return payroll.GeneratePayrollResponse{}, err
	}
	if shared {
		slog.Debug("payroll generation shared with a concurrent run", "company_id", companyID, "period_id", req.PeriodID)
	}
	return v.(payroll.GeneratePayrollResponse), nil
}

func (s *PayrollServiceImpl) generate(ctx context.Context, companyID string, req payroll.GeneratePayrollRequest) (payroll.GeneratePayrollResponse, error) {
	period, err := s.repo.GetPeriod(ctx, req.PeriodID, companyID)
	if err != nil {
		return payroll.GeneratePayrollResponse{}, err
	}
	if period.Status == payroll.PeriodStatusClosed {
		return payroll.GeneratePayrollResponse{}, payroll.ErrPeriodClosed
	}

	employees, err := s.repo.ListPayableEmployees(ctx, companyID, req.EmployeeIDs)
	if err != nil {
		return payroll.GeneratePayrollResponse{}, err
	}
	if len(employees) == 0 {
		return payroll.GeneratePayrollResponse{}, payroll.ErrNoPayableEmployees
	}

	existing, err := s.repo.ExistingItemEmployees(ctx, period.ID, companyID)
	if err != nil {
		return payroll.GeneratePayrollResponse{}, err
	}

	deductions, err := s.repo.ListDeductionRules(ctx, companyID, payroll.RuleFilter{ActiveOnly: true})
	if err != nil {
		return payroll.GeneratePayrollResponse{}, err
	}
	benefits, err := s.repo.ListBenefitRules(ctx, companyID, payroll.RuleFilter{ActiveOnly: true})
	if err != nil {
		return payroll.GeneratePayrollResponse{}, err
	}

	var (
		mu      sync.Mutex
		skipped []string
		created = make([]*payroll.PayrollItem, len(employees))
	)
	skip := func(employeeID string) {
		mu.Lock()
		skipped = append(skipped, employeeID)
		mu.Unlock()
	}

	payable := make(map[string]bool, len(employees))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, emp := range employees {
		payable[emp.ID] = true
		if existing[emp.ID] {
			skip(emp.ID)
			continue
		}

		g.Go(func() error {
			item, err := payroll.CreateForEmployee(emp, period)
			if err != nil {
				return fmt.Errorf("employee %s: %w", emp.ID, err)
			}
			if hours, ok := req.OvertimeHours[emp.ID]; ok {
				item.OvertimeHours = hours
			}
			if err := item.ApplyRules(deductions, benefits, period.EndDate, s.conditions); err != nil {
				return fmt.Errorf("employee %s: %w", emp.ID, err)
			}

			saved, err := s.repo.CreateItem(gCtx, item)
			if err != nil {
				if errors.Is(err, payroll.ErrPayrollItemAlreadyExists) {
					skip(emp.ID)
					return nil
				}
				return err
			}
			created[i] = &saved
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return payroll.GeneratePayrollResponse{}, err
	}

	for _, id := range req.EmployeeIDs {
		if !payable[id] {
			skipped = append(skipped, id)
		}
	}

	resp := payroll.GeneratePayrollResponse{
		PeriodID: period.ID,
		Skipped:  skipped,
		Items:    make([]payroll.PayrollItemResponse, 0, len(employees)),
	}
	if resp.Skipped == nil {
		resp.Skipped = []string{}
	}
	sort.Strings(resp.Skipped)
	for _, item := range created {
		if item != nil {
			resp.Items = append(resp.Items, payroll.NewPayrollItemResponse(*item))
		}
	}
	resp.Created = len(resp.Items)

	slog.Info("payroll generated", "company_id", companyID, "period_id", period.ID,
		"created", resp.Created, "skipped", len(resp.Skipped))
	return resp, nil
}

// ========== PAYROLL ITEMS ==========

func (s *PayrollServiceImpl) GetPayrollItem(ctx context.Context, id string) (payroll.PayrollItemResponse, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.PayrollItemResponse{}, err
	}

	item, err := s.repo.GetItem(ctx, id, companyID)
	if err != nil {
		return payroll.PayrollItemResponse{}, err
	}

	return payroll.NewPayrollItemResponse(item), nil
}

func (s *PayrollServiceImpl) ListPayrollItems(ctx context.Context, filter payroll.PayrollItemFilter) (payroll.ListPayrollItemResponse, error) {
	if err := filter.Validate(); err != nil {
		return payroll.ListPayrollItemResponse{}, err
	}

	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.ListPayrollItemResponse{}, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	items, total, err := s.repo.ListItems(ctx, companyID, filter)
	if err != nil {
		return payroll.ListPayrollItemResponse{}, err
	}

	responses := make([]payroll.PayrollItemResponse, 0, len(items))
	for _, it := range items {
		responses = append(responses, payroll.NewPayrollItemResponse(it))
	}

	return payroll.ListPayrollItemResponse{
		Items:      responses,
		TotalCount: total,
		Page:       filter.Page,
		Limit:      filter.Limit,
	}, nil
}

// editDraft loads a draft item, lets fn change it, re-evaluates the rules
// and saves it.
func (s *PayrollServiceImpl) editDraft(ctx context.Context, id string, fn func(item *payroll.PayrollItem) error) (payroll.PayrollItem, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.PayrollItem{}, err
	}

	var item payroll.PayrollItem
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		item, err = s.repo.GetItem(ctx, id, companyID)
		if err != nil {
			return err
		}
		if !item.IsDraft() {
			return payroll.ErrPayrollItemNotEditable
		}
		if err := fn(&item); err != nil {
			return err
		}

		period, err := s.repo.GetPeriod(ctx, item.PeriodID, companyID)
		if err != nil {
			return err
		}
		if period.Status == payroll.PeriodStatusClosed {
			return payroll.ErrPeriodClosed
		}
		deductions, err := s.repo.ListDeductionRules(ctx, companyID, payroll.RuleFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		benefits, err := s.repo.ListBenefitRules(ctx, companyID, payroll.RuleFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := item.ApplyRules(deductions, benefits, period.EndDate, s.conditions); err != nil {
			return err
		}

		return s.repo.UpdateItem(ctx, item)
	})
	if err != nil {
		return payroll.PayrollItem{}, err
	}
	return item, nil
}

func (s *PayrollServiceImpl) UpdatePayrollItem(ctx context.Context, req payroll.UpdatePayrollItemRequest) (payroll.PayrollItemResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.PayrollItemResponse{}, err
	}

	item, err := s.editDraft(ctx, req.ID, func(item *payroll.PayrollItem) error {
		req.Apply(item)
		return nil
	})
	if err != nil {
		return payroll.PayrollItemResponse{}, err
	}
	return payroll.NewPayrollItemResponse(item), nil
}

func (s *PayrollServiceImpl) RecalculatePayrollItem(ctx context.Context, id string) (payroll.PayrollItemResponse, error) {
	item, err := s.editDraft(ctx, id, func(*payroll.PayrollItem) error { return nil })
	if err != nil {
		return payroll.PayrollItemResponse{}, err
	}
	return payroll.NewPayrollItemResponse(item), nil
}

func (s *PayrollServiceImpl) addCustomLine(ctx context.Context, req payroll.AddCustomLineRequest, add func(item *payroll.PayrollItem, name string, amount decimal.Decimal, note string) error) (payroll.PayrollItemResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.PayrollItemResponse{}, err
	}
	amount, err := req.ParsedAmount()
	if err != nil {
		return payroll.PayrollItemResponse{}, err
	}

	item, err := s.editDraft(ctx, req.ItemID, func(item *payroll.PayrollItem) error {
		return add(item, req.Name, amount, req.Note)
	})
	if err != nil {
		return payroll.PayrollItemResponse{}, err
	}
	return payroll.NewPayrollItemResponse(item), nil
}

func (s *PayrollServiceImpl) AddCustomEarning(ctx context.Context, req payroll.AddCustomLineRequest) (payroll.PayrollItemResponse, error) {
	return s.addCustomLine(ctx, req, (*payroll.PayrollItem).AddCustomEarning)
}

func (s *PayrollServiceImpl) AddCustomDeduction(ctx context.Context, req payroll.AddCustomLineRequest) (payroll.PayrollItemResponse, error) {
	return s.addCustomLine(ctx, req, (*payroll.PayrollItem).AddCustomDeduction)
}

func (s *PayrollServiceImpl) AddCustomBenefit(ctx context.Context, req payroll.AddCustomLineRequest) (payroll.PayrollItemResponse, error) {
	return s.addCustomLine(ctx, req, (*payroll.PayrollItem).AddCustomBenefit)
}

func (s *PayrollServiceImpl) DeletePayrollItem(ctx context.Context, id string) error {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return err
	}

	item, err := s.repo.GetItem(ctx, id, companyID)
	if err != nil {
		return err
	}
	if !item.IsDraft() {
		return payroll.ErrPayrollItemNotEditable
	}

	return s.repo.DeleteItem(ctx, id, companyID)
}

// ========== TRANSITIONS ==========

type itemStatusEvent struct {
	ItemID          string `json:"item_id"`
	CompanyID       string `json:"company_id"`
	EmployeeID      string `json:"employee_id"`
	PeriodID        string `json:"period_id"`
	Status          string `json:"status"`
	GrossPay        string `json:"gross_pay"`
	TotalDeductions string `json:"total_deductions"`
	TotalBenefits   string `json:"total_benefits"`
	NetPay          string `json:"net_pay"`
	ActorID         string `json:"actor_id,omitempty"`
	OccurredAt      string `json:"occurred_at"`
}

type transition struct {
	from      payroll.PayrollStatus
	apply     func(item *payroll.PayrollItem, userID string) bool
	eventType string
}

var (
	approveTransition = transition{
		from: payroll.PayrollStatusDraft,
		apply: func(item *payroll.PayrollItem, userID string) bool {
			if !item.Approve() {
				return false
			}
			item.ApprovedBy = &userID
			return true
		},
		eventType: outbox.EventItemApproved,
	}
	payTransition = transition{
		from: payroll.PayrollStatusApproved,
		apply: func(item *payroll.PayrollItem, userID string) bool {
			if !item.MarkAsPaid() {
				return false
			}
			item.PaidBy = &userID
			return true
		},
		eventType: outbox.EventItemPaid,
	}
)

// transitionItem moves one item and records the outbox event in the same
// transaction. The update only matches rows still in t.from, so a racing
// transition fails with ErrInvalidStatusTransition.
func (s *PayrollServiceImpl) transitionItem(ctx context.Context, id string, t transition) (payroll.PayrollItem, error) {
	companyID, userID, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.PayrollItem{}, err
	}

	var item payroll.PayrollItem
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		item, err = s.repo.GetItem(ctx, id, companyID)
		if err != nil {
			return err
		}
		if !t.apply(&item, userID) {
			return payroll.ErrInvalidStatusTransition
		}
		if err := s.repo.UpdateItemStatus(ctx, item, t.from); err != nil {
			return err
		}

		event, err := outbox.NewEvent(companyID, "payroll_item", item.ID, t.eventType, s.topic, itemStatusEvent{
			ItemID:          item.ID,
			CompanyID:       companyID,
			EmployeeID:      item.EmployeeID,
			PeriodID:        item.PeriodID,
			Status:          string(item.Status),
			GrossPay:        money(item.GrossPay),
			TotalDeductions: money(item.TotalDeductions),
			TotalBenefits:   money(item.TotalBenefits),
			NetPay:          money(item.NetPay),
			ActorID:         userID,
			OccurredAt:      s.now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.outbox.Create(ctx, event)
	})
	if err != nil {
		return payroll.PayrollItem{}, err
	}
	return item, nil
}

func (s *PayrollServiceImpl) bulkTransition(ctx context.Context, req payroll.BulkItemsRequest, t transition) (payroll.BulkTransitionResponse, error) {
	if err := req.Validate(); err != nil {
		return payroll.BulkTransitionResponse{}, err
	}
	if _, _, err := getClaimsFromContext(ctx); err != nil {
		return payroll.BulkTransitionResponse{}, err
	}

	resp := payroll.BulkTransitionResponse{Succeeded: []string{}, Failed: map[string]string{}}
	seen := make(map[string]bool, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		if _, err := s.transitionItem(ctx, id, t); err != nil {
			if ctx.Err() != nil {
				return payroll.BulkTransitionResponse{}, ctx.Err()
			}
			resp.Failed[id] = err.Error()
			continue
		}
		resp.Succeeded = append(resp.Succeeded, id)
	}
	return resp, nil
}

func (s *PayrollServiceImpl) ApprovePayrollItem(ctx context.Context, id string) (payroll.PayrollItemResponse, error) {
	item, err := s.transitionItem(ctx, id, approveTransition)
	if err != nil {
		return payroll.PayrollItemResponse{}, err
	}
	return payroll.NewPayrollItemResponse(item), nil
}

func (s *PayrollServiceImpl) ApprovePayrollItems(ctx context.Context, req payroll.BulkItemsRequest) (payroll.BulkTransitionResponse, error) {
	return s.bulkTransition(ctx, req, approveTransition)
}

func (s *PayrollServiceImpl) MarkPayrollItemPaid(ctx context.Context, id string) (payroll.PayrollItemResponse, error) {
	item, err := s.transitionItem(ctx, id, payTransition)
	if err != nil {
		return payroll.PayrollItemResponse{}, err
	}
	return payroll.NewPayrollItemResponse(item), nil
}

func (s *PayrollServiceImpl) MarkPayrollItemsPaid(ctx context.Context, req payroll.BulkItemsRequest) (payroll.BulkTransitionResponse, error) {
	return s.bulkTransition(ctx, req, payTransition)
}

// ========== REPORTING ==========

func (s *PayrollServiceImpl) GetItemSummary(ctx context.Context, id string) (payroll.PayrollSummary, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.PayrollSummary{}, err
	}

	item, err := s.repo.GetItem(ctx, id, companyID)
	if err != nil {
		return payroll.PayrollSummary{}, err
	}

	return item.Summary(), nil
}

func (s *PayrollServiceImpl) GetPeriodSummary(ctx context.Context, periodID string) (payroll.PeriodSummaryResponse, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return payroll.PeriodSummaryResponse{}, err
	}

	g, gCtx := errgroup.WithContext(ctx)

	var period payroll.PayrollPeriod
	g.Go(func() error {
		var err error
		period, err = s.repo.GetPeriod(gCtx, periodID, companyID)
		return err
	})

	var totals payroll.PeriodTotals
	g.Go(func() error {
		var err error
		totals, err = s.repo.GetPeriodTotals(gCtx, periodID, companyID)
		return err
	})

	if err := g.Wait(); err != nil {
		return payroll.PeriodSummaryResponse{}, err
	}

	return payroll.PeriodSummaryResponse{
		PeriodID:        period.ID,
		PeriodName:      period.Name,
		Status:          string(period.Status),
		ItemCount:       totals.ItemCount,
		DraftCount:      totals.DraftCount,
		ApprovedCount:   totals.ApprovedCount,
		PaidCount:       totals.PaidCount,
		GrossPay:        totals.GrossPay,
		TotalDeductions: totals.TotalDeductions,
		TotalBenefits:   totals.TotalBenefits,
		NetPay:          totals.NetPay,
	}, nil
}

func (s *PayrollServiceImpl) ExportPeriodRegister(ctx context.Context, periodID string) ([]byte, error) {
	companyID, _, err := getClaimsFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPeriod(ctx, periodID, companyID); err != nil {
		return nil, err
	}

	items, err := s.repo.ListItemsByPeriod(ctx, periodID, companyID)
	if err != nil {
		return nil, err
	}

	return buildRegister(items)
}
