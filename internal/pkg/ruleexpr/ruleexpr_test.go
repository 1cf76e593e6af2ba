package ruleexpr

import (
	"testing"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/payroll"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func facts(salary string, freq payroll.PayFrequency) payroll.ConditionFacts {
	s := decimal.RequireFromString(salary)
	return payroll.ConditionFacts{EmployeeID: "emp-1", PayFrequency: freq, BasicSalary: s, GrossPay: s}
}

func TestEvaluator_Eligible(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name  string
		expr  string
		facts payroll.ConditionFacts
		want  bool
	}{
		{"empty expression", "", facts("100", payroll.PayFrequencyWeekly), true},
		{"salary threshold met", "basic_salary >= 50000.0", facts("60000", payroll.PayFrequencyMonthly), true},
		{"salary threshold not met", "basic_salary >= 50000.0", facts("40000", payroll.PayFrequencyMonthly), false},
		{"frequency", `pay_frequency == "monthly"`, facts("1000", payroll.PayFrequencyWeekly), false},
		{"employee id", `employee_id in ["emp-1", "emp-2"]`, facts("1000", payroll.PayFrequencyDaily), true},
		{"gross pay", "gross_pay > basic_salary", facts("1000", payroll.PayFrequencyMonthly), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Eligible(tt.expr, tt.facts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Check(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, ev.Check(""))
	assert.NoError(t, ev.Check(`pay_frequency == "weekly"`))
	assert.ErrorIs(t, ev.Check("basic_salary +"), payroll.ErrRuleConfiguration)
	assert.ErrorIs(t, ev.Check("basic_salary * 2.0"), payroll.ErrRuleConfiguration)
	assert.ErrorIs(t, ev.Check("unknown_field > 1.0"), payroll.ErrRuleConfiguration)
}

func TestEvaluator_CachesPrograms(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)

	expr := "basic_salary > 10.0"
	_, err = ev.Eligible(expr, facts("20", payroll.PayFrequencyMonthly))
	require.NoError(t, err)

	_, ok := ev.programs.Load(expr)
	assert.True(t, ok)
}
