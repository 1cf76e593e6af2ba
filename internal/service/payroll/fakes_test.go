package payroll

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/outbox"
	"github.com/Chrisphine10/intellicash-sub009/internal/domain/payroll"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/storage"
	"github.com/stretchr/testify/mock"
)

// memRepo is an in-memory PayrollRepository scoped by company.
type memRepo struct {
	mu         sync.Mutex
	seq        int
	deductions map[string]payroll.DeductionRule
	benefits   map[string]payroll.BenefitRule
	periods    map[string]payroll.PayrollPeriod
	employees  map[string]payroll.Employee
	items      map[string]payroll.PayrollItem
}

func newMemRepo() *memRepo {
	return &memRepo{
		deductions: map[string]payroll.DeductionRule{},
		benefits:   map[string]payroll.BenefitRule{},
		periods:    map[string]payroll.PayrollPeriod{},
		employees:  map[string]payroll.Employee{},
		items:      map[string]payroll.PayrollItem{},
	}
}

func (r *memRepo) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s-%d", prefix, r.seq)
}

func (r *memRepo) CreateDeductionRule(ctx context.Context, rule payroll.DeductionRule) (payroll.DeductionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.deductions {
		if existing.CompanyID == rule.CompanyID && existing.Code == rule.Code {
			return payroll.DeductionRule{}, payroll.ErrRuleCodeExists
		}
	}
	rule.ID = r.nextID("ded")
	r.deductions[rule.ID] = rule
	return rule, nil
}

func (r *memRepo) GetDeductionRule(ctx context.Context, id string, companyID string) (payroll.DeductionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.deductions[id]
	if !ok || rule.CompanyID != companyID {
		return payroll.DeductionRule{}, payroll.ErrDeductionRuleNotFound
	}
	return rule, nil
}

func (r *memRepo) ListDeductionRules(ctx context.Context, companyID string, filter payroll.RuleFilter) ([]payroll.DeductionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []payroll.DeductionRule
	for _, rule := range r.deductions {
		if rule.CompanyID == companyID && (!filter.ActiveOnly || rule.IsActive) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memRepo) UpdateDeductionRule(ctx context.Context, rule payroll.DeductionRule) (payroll.DeductionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.deductions[rule.ID]
	if !ok || existing.CompanyID != rule.CompanyID {
		return payroll.DeductionRule{}, payroll.ErrDeductionRuleNotFound
	}
	r.deductions[rule.ID] = rule
	return rule, nil
}

func (r *memRepo) SetDeductionRuleActive(ctx context.Context, id string, companyID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.deductions[id]
	if !ok || rule.CompanyID != companyID {
		return payroll.ErrDeductionRuleNotFound
	}
	rule.IsActive = active
	r.deductions[id] = rule
	return nil
}

func (r *memRepo) CreateBenefitRule(ctx context.Context, rule payroll.BenefitRule) (payroll.BenefitRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.benefits {
		if existing.CompanyID == rule.CompanyID && existing.Code == rule.Code {
			return payroll.BenefitRule{}, payroll.ErrRuleCodeExists
		}
	}
	rule.ID = r.nextID("ben")
	r.benefits[rule.ID] = rule
	return rule, nil
}

func (r *memRepo) GetBenefitRule(ctx context.Context, id string, companyID string) (payroll.BenefitRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.benefits[id]
	if !ok || rule.CompanyID != companyID {
		return payroll.BenefitRule{}, payroll.ErrBenefitRuleNotFound
	}
	return rule, nil
}

func (r *memRepo) ListBenefitRules(ctx context.Context, companyID string, filter payroll.RuleFilter) ([]payroll.BenefitRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []payroll.BenefitRule
	for _, rule := range r.benefits {
		if rule.CompanyID == companyID && (!filter.ActiveOnly || rule.IsActive) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memRepo) UpdateBenefitRule(ctx context.Context, rule payroll.BenefitRule) (payroll.BenefitRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.benefits[rule.ID]
	if !ok || existing.CompanyID != rule.CompanyID {
		return payroll.BenefitRule{}, payroll.ErrBenefitRuleNotFound
	}
	r.benefits[rule.ID] = rule
	return rule, nil
}

func (r *memRepo) SetBenefitRuleActive(ctx context.Context, id string, companyID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.benefits[id]
	if !ok || rule.CompanyID != companyID {
		return payroll.ErrBenefitRuleNotFound
	}
	rule.IsActive = active
	r.benefits[id] = rule
	return nil
}

func (r *memRepo) CreatePeriod(ctx context.Context, period payroll.PayrollPeriod) (payroll.PayrollPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	period.ID = r.nextID("period")
	r.periods[period.ID] = period
	return period, nil
}

func (r *memRepo) GetPeriod(ctx context.Context, id string, companyID string) (payroll.PayrollPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.periods[id]
	if !ok || p.CompanyID != companyID {
		return payroll.PayrollPeriod{}, payroll.ErrPeriodNotFound
	}
	return p, nil
}

func (r *memRepo) ListPeriods(ctx context.Context, companyID string, filter payroll.PeriodFilter) ([]payroll.PayrollPeriod, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []payroll.PayrollPeriod
	for _, p := range r.periods {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memRepo) ClosePeriod(ctx context.Context, id string, companyID string, registerPath string, closedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.periods[id]
	if !ok || p.CompanyID != companyID || p.Status != payroll.PeriodStatusOpen {
		return payroll.ErrPeriodClosed
	}
	p.Status = payroll.PeriodStatusClosed
	p.RegisterPath = &registerPath
	p.ClosedAt = &closedAt
	r.periods[id] = p
	return nil
}

func (r *memRepo) GetEmployee(ctx context.Context, id string, companyID string) (payroll.Employee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.employees[id]
	if !ok || e.CompanyID != companyID {
		return payroll.Employee{}, payroll.ErrEmployeeNotFound
	}
	return e, nil
}

func (r *memRepo) ListPayableEmployees(ctx context.Context, companyID string, employeeIDs []string) ([]payroll.Employee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range employeeIDs {
		wanted[id] = true
	}
	var out []payroll.Employee
	for _, e := range r.employees {
		if e.CompanyID != companyID || !e.BasicSalary.IsPositive() {
			continue
		}
		if len(wanted) > 0 && !wanted[e.ID] {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (r *memRepo) CreateItem(ctx context.Context, item payroll.PayrollItem) (payroll.PayrollItem, error) {
	if err := ctx.Err(); err != nil {
		return payroll.PayrollItem{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.EmployeeID == item.EmployeeID && existing.PeriodID == item.PeriodID {
			return payroll.PayrollItem{}, payroll.ErrPayrollItemAlreadyExists
		}
	}
	item.ID = r.nextID("item")
	r.items[item.ID] = item
	return item, nil
}

func (r *memRepo) GetItem(ctx context.Context, id string, companyID string) (payroll.PayrollItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok || it.CompanyID != companyID {
		return payroll.PayrollItem{}, payroll.ErrPayrollItemNotFound
	}
	return it, nil
}

func (r *memRepo) ListItems(ctx context.Context, companyID string, filter payroll.PayrollItemFilter) ([]payroll.PayrollItem, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []payroll.PayrollItem
	for _, it := range r.items {
		if it.CompanyID != companyID {
			continue
		}
		if filter.PeriodID != nil && it.PeriodID != *filter.PeriodID {
			continue
		}
		if filter.Status != nil && string(it.Status) != *filter.Status {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *memRepo) ListItemsByPeriod(ctx context.Context, periodID string, companyID string) ([]payroll.PayrollItem, error) {
	items, _, err := r.ListItems(ctx, companyID, payroll.PayrollItemFilter{PeriodID: &periodID})
	return items, err
}

func (r *memRepo) ExistingItemEmployees(ctx context.Context, periodID string, companyID string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]bool{}
	for _, it := range r.items {
		if it.PeriodID == periodID && it.CompanyID == companyID {
			out[it.EmployeeID] = true
		}
	}
	return out, nil
}

func (r *memRepo) UpdateItem(ctx context.Context, item payroll.PayrollItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[item.ID]
	if !ok || existing.Status != payroll.PayrollStatusDraft {
		return payroll.ErrPayrollItemNotEditable
	}
	r.items[item.ID] = item
	return nil
}

func (r *memRepo) UpdateItemStatus(ctx context.Context, item payroll.PayrollItem, from payroll.PayrollStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[item.ID]
	if !ok || existing.Status != from {
		return payroll.ErrInvalidStatusTransition
	}
	r.items[item.ID] = item
	return nil
}

func (r *memRepo) DeleteItem(ctx context.Context, id string, companyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok || it.Status != payroll.PayrollStatusDraft {
		return payroll.ErrPayrollItemNotEditable
	}
	delete(r.items, id)
	return nil
}

func (r *memRepo) GetPeriodTotals(ctx context.Context, periodID string, companyID string) (payroll.PeriodTotals, error) {
	items, err := r.ListItemsByPeriod(ctx, periodID, companyID)
	if err != nil {
		return payroll.PeriodTotals{}, err
	}
	var t payroll.PeriodTotals
	for _, it := range items {
		t.ItemCount++
		switch it.Status {
		case payroll.PayrollStatusDraft:
			t.DraftCount++
		case payroll.PayrollStatusApproved:
			t.ApprovedCount++
		case payroll.PayrollStatusPaid:
			t.PaidCount++
		}
		t.GrossPay = t.GrossPay.Add(it.GrossPay)
		t.TotalDeductions = t.TotalDeductions.Add(it.TotalDeductions)
		t.TotalBenefits = t.TotalBenefits.Add(it.TotalBenefits)
		t.NetPay = t.NetPay.Add(it.NetPay)
	}
	return t, nil
}

type passThroughTx struct{}

func (passThroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockOutbox struct {
	mock.Mock
}

func (m *mockOutbox) Create(ctx context.Context, event outbox.Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockOutbox) ListPending(ctx context.Context, limit int, maxRetries int) ([]outbox.Event, error) {
	args := m.Called(ctx, limit, maxRetries)
	return args.Get(0).([]outbox.Event), args.Error(1)
}

func (m *mockOutbox) MarkSent(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockOutbox) MarkFailed(ctx context.Context, id string, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}

func (m *mockOutbox) PurgeSent(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type memStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{files: map[string][]byte{}}
}

func (s *memStorage) Save(ctx context.Context, path string, r io.Reader, contentType string) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = b
	return path, nil
}

func (s *memStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path]
	if !ok {
		return nil, storage.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *memStorage) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}

func (s *memStorage) URL(path string) string {
	return "http://files.test/" + path
}

type stubPresets struct {
	presets []payroll.RulePreset
}

func (s stubPresets) Presets() []payroll.RulePreset { return s.presets }

func (s stubPresets) Preset(code string) (payroll.RulePreset, error) {
	for _, p := range s.presets {
		if p.Code == code {
			return p, nil
		}
	}
	return payroll.RulePreset{}, payroll.ErrRulePresetNotFound
}
