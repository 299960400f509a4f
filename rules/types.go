package rules

import "time"

// Operator names a condition comparison
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "notEquals"
	OpExpression Operator = "expression" // Value holds a CEL boolean expression over `entity`
)

// ActionKind names a side-effecting workflow action
type ActionKind string

const (
	ActionCreateTask ActionKind = "createTask"
	ActionSendEmail  ActionKind = "sendEmail"
)

// Rule is a stored workflow definition: when TriggerEvent fires and every
// condition holds, the actions run in order.
type Rule struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	TriggerEvent string      `json:"triggerEvent"`
	Active       bool        `json:"active"`
	Conditions   []Condition `json:"conditions"`
	Actions      []Action    `json:"actions"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Condition tests one entity field. Field is either an attribute name
// ("status") or a one-hop relation path ("stage.name").
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Action is a single templated side effect
type Action struct {
	Kind   ActionKind        `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

// Actor identifies who caused the triggering write. The zero value means a
// system or background invocation.
type Actor struct {
	TenantID string `json:"tenantId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Email    string `json:"email,omitempty"`
}

// RuleResult is the outcome of processing one rule for an event
type RuleResult struct {
	RuleID   string         `json:"ruleId"`
	RuleName string         `json:"ruleName"`
	Matched  bool           `json:"matched"`
	Actions  []ActionResult `json:"actions,omitempty"`
	Error    error          `json:"-"`
}

// ActionResult is the outcome of one action of a matched rule
type ActionResult struct {
	Kind      ActionKind `json:"kind"`
	TaskID    string     `json:"taskId,omitempty"`
	Recipient string     `json:"recipient,omitempty"`
	Skipped   bool       `json:"skipped,omitempty"`
	Error     error      `json:"-"`
}

// Failed reports whether any action of the rule returned an error
func (r *RuleResult) Failed() bool {
	if r.Error != nil {
		return true
	}
	for _, a := range r.Actions {
		if a.Error != nil {
			return true
		}
	}
	return false
}
