// Package ruleexpr evaluates payroll rule conditions written in CEL, e.g.
//
//	pay_frequency == "monthly" && basic_salary >= 50000.0
package ruleexpr

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Chrisphine10/intellicash-sub009/internal/domain/payroll"
	"github.com/google/cel-go/cel"
)

var ErrNotBoolean = errors.New("condition must evaluate to a boolean")

type Evaluator struct {
	env      *cel.Env
	programs sync.Map // expr -> cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("employee_id", cel.StringType),
		cel.Variable("pay_frequency", cel.StringType),
		cel.Variable("basic_salary", cel.DoubleType),
		cel.Variable("gross_pay", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build condition environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Check compiles expr without evaluating it. An empty expression is valid.
func (e *Evaluator) Check(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := e.program(expr)
	return err
}

func (e *Evaluator) Eligible(expr string, facts payroll.ConditionFacts) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	program, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(map[string]any{
		"employee_id":   facts.EmployeeID,
		"pay_frequency": string(facts.PayFrequency),
		"basic_salary":  facts.BasicSalary.InexactFloat64(),
		"gross_pay":     facts.GrossPay.InexactFloat64(),
	})
	if err != nil {
		return false, fmt.Errorf("condition evaluation failed: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, ErrNotBoolean
	}
	return v, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if cached, ok := e.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", payroll.ErrRuleConfiguration, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: %v", payroll.ErrRuleConfiguration, ErrNotBoolean)
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payroll.ErrRuleConfiguration, err)
	}

	e.programs.Store(expr, program)
	return program, nil
}
