package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// OperatorHandler evaluates one condition against an entity
type OperatorHandler interface {
	Evaluate(ctx context.Context, cond Condition, entity Entity) (bool, error)
}

// Validator is implemented by operators that can reject a malformed
// condition before it is stored
type Validator interface {
	Validate(cond Condition) error
}

// OperatorFunc adapts a plain comparison of the resolved field value
// against the condition value into an OperatorHandler
type OperatorFunc func(fieldValue, compareValue any) bool

func (f OperatorFunc) Evaluate(_ context.Context, cond Condition, entity Entity) (bool, error) {
	value, _ := resolveField(entity, cond.Field)
	return f(value, cond.Value), nil
}

// Evaluator checks ordered condition lists against entities using a table
// of operator handlers. It is safe for concurrent use.
type Evaluator struct {
	operators map[Operator]OperatorHandler
	mu        sync.RWMutex
}

// NewEvaluator creates an evaluator with equals, notEquals and the CEL
// expression operator registered
func NewEvaluator() (*Evaluator, error) {
	expr, err := newExpressionOperator()
	if err != nil {
		return nil, err
	}

	ev := &Evaluator{operators: make(map[Operator]OperatorHandler)}
	ev.Register(OpEquals, OperatorFunc(looseEqual))
	ev.Register(OpNotEquals, OperatorFunc(func(a, b any) bool { return !looseEqual(a, b) }))
	ev.Register(OpExpression, expr)
	return ev, nil
}

// Register installs or replaces the handler for an operator
func (ev *Evaluator) Register(op Operator, handler OperatorHandler) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.operators[op] = handler
}

func (ev *Evaluator) handler(op Operator) (OperatorHandler, bool) {
	ev.mu.RLock()
	defer ev.mu.RUnlock()
	h, ok := ev.operators[op]
	return h, ok
}

// Evaluate reports whether every condition holds. An empty list holds.
// The first failing condition stops evaluation. An unknown operator fails
// its condition and is returned as *UnsupportedOperatorError next to false.
func (ev *Evaluator) Evaluate(ctx context.Context, conditions []Condition, entity Entity) (bool, error) {
	for _, cond := range conditions {
		h, ok := ev.handler(cond.Operator)
		if !ok {
			return false, &UnsupportedOperatorError{Field: cond.Field, Operator: cond.Operator}
		}

		passed, err := h.Evaluate(ctx, cond, entity)
		if err != nil {
			return false, &ConditionError{Field: cond.Field, Operator: cond.Operator, Err: err}
		}
		if !passed {
			return false, nil
		}
	}
	return true, nil
}

// Validate checks that every condition uses a known operator and that
// operators with their own validation accept the condition
func (ev *Evaluator) Validate(conditions []Condition) error {
	for i, cond := range conditions {
		h, ok := ev.handler(cond.Operator)
		if !ok {
			return fmt.Errorf("condition %d: %w", i, &UnsupportedOperatorError{Field: cond.Field, Operator: cond.Operator})
		}
		if v, ok := h.(Validator); ok {
			if err := v.Validate(cond); err != nil {
				return fmt.Errorf("condition %d: %w", i, err)
			}
		}
	}
	return nil
}

// expressionOperator evaluates CEL expressions with the entity's fields
// bound to `entity`. Compiled programs are cached by source text.
type expressionOperator struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

func newExpressionOperator() (*expressionOperator, error) {
	env, err := cel.NewEnv(
		cel.Variable("entity", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &expressionOperator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

func (o *expressionOperator) compile(expression string) (cel.Program, error) {
	o.mu.RLock()
	prog, ok := o.programs[expression]
	o.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := o.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	// Cost limit guards against runaway expressions stored by tenants
	prog, err := o.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	o.mu.Lock()
	o.programs[expression] = prog
	o.mu.Unlock()
	return prog, nil
}

func (o *expressionOperator) Validate(cond Condition) error {
	expression, ok := cond.Value.(string)
	if !ok || expression == "" {
		return fmt.Errorf("expression operator requires a non-empty string value")
	}
	_, err := o.compile(expression)
	return err
}

func (o *expressionOperator) Evaluate(_ context.Context, cond Condition, entity Entity) (bool, error) {
	expression, ok := cond.Value.(string)
	if !ok {
		return false, fmt.Errorf("expression value must be a string, got %T", cond.Value)
	}
	fielder, ok := entity.(Fielder)
	if !ok {
		return false, fmt.Errorf("entity %T does not expose its fields", entity)
	}

	prog, err := o.compile(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prog.Eval(map[string]any{"entity": fielder.Fields()})
	if err != nil {
		return false, err
	}

	// Non-boolean results never match
	matched, _ := out.Value().(bool)
	return matched, nil
}
