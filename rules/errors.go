package rules

import (
	"errors"
	"fmt"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleExists   = errors.New("rule already exists")
	ErrInvalidRule  = errors.New("invalid rule")
)

// UnsupportedOperatorError is reported when a condition names an operator
// the evaluator has no handler for. Evaluation treats the condition as failed.
type UnsupportedOperatorError struct {
	Field    string
	Operator Operator
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator %q for field %q", e.Operator, e.Field)
}

// UnknownActionKindError is reported when an action kind has no handler.
// The action is skipped.
type UnknownActionKindError struct {
	Kind ActionKind
}

func (e *UnknownActionKindError) Error() string {
	return fmt.Sprintf("unknown action kind %q", e.Kind)
}

// ConditionError wraps a failure while evaluating a single condition
type ConditionError struct {
	Field    string
	Operator Operator
	Err      error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition on field %q with operator %q: %v", e.Field, e.Operator, e.Err)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}

// ActionError wraps a failed side effect (task store write, mail dispatch)
type ActionError struct {
	RuleID string
	Kind   ActionKind
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("rule %s: action %s failed: %v", e.RuleID, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
