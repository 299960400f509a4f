package rules

import (
	"encoding/json"
	"errors"
	"testing"
)

// TestRuleDecodesFromJSON verifies the wire shape accepted by the rules API
func TestRuleDecodesFromJSON(t *testing.T) {
	payload := `{
		"id": "rule-1",
		"name": "Proposal follow-up",
		"triggerEvent": "deal.updated",
		"active": true,
		"conditions": [
			{"field": "stage.name", "operator": "equals", "value": "Proposal"},
			{"field": "value", "operator": "notEquals", "value": 0}
		],
		"actions": [
			{"kind": "createTask", "params": {"subject": "Follow up on {deal_name}"}},
			{"kind": "sendEmail", "params": {"subject": "Update", "body": "{deal_name} moved"}}
		]
	}`

	var rule Rule
	if err := json.Unmarshal([]byte(payload), &rule); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	if rule.ID != "rule-1" || rule.TriggerEvent != "deal.updated" || !rule.Active {
		t.Errorf("unexpected header fields: %+v", rule)
	}
	if len(rule.Conditions) != 2 {
		t.Fatalf("Conditions length = %d, want 2", len(rule.Conditions))
	}
	if rule.Conditions[0].Operator != OpEquals || rule.Conditions[0].Field != "stage.name" {
		t.Errorf("Conditions[0] = %+v", rule.Conditions[0])
	}
	if v, ok := rule.Conditions[1].Value.(float64); !ok || v != 0 {
		t.Errorf("numeric condition value decoded as %T(%v), want float64(0)", rule.Conditions[1].Value, rule.Conditions[1].Value)
	}
	if len(rule.Actions) != 2 || rule.Actions[1].Kind != ActionSendEmail {
		t.Fatalf("Actions = %+v", rule.Actions)
	}
	if rule.Actions[1].Params["body"] != "{deal_name} moved" {
		t.Errorf("Actions[1].Params[body] = %q", rule.Actions[1].Params["body"])
	}
}

func TestRuleResultFailed(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		result RuleResult
		want   bool
	}{
		{"not matched", RuleResult{RuleID: "r1"}, false},
		{"matched clean", RuleResult{Matched: true, Actions: []ActionResult{{Kind: ActionCreateTask, TaskID: "t1"}}}, false},
		{"rule error", RuleResult{Error: boom}, true},
		{"action error", RuleResult{Matched: true, Actions: []ActionResult{
			{Kind: ActionCreateTask, TaskID: "t1"},
			{Kind: ActionSendEmail, Error: boom},
		}}, true},
		{"skipped action", RuleResult{Matched: true, Actions: []ActionResult{
			{Kind: "webhook", Skipped: true, Error: &UnknownActionKindError{Kind: "webhook"}},
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Failed(); got != tt.want {
				t.Errorf("Failed() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestRuleResultOmitsErrors verifies error values are not serialized
func TestRuleResultOmitsErrors(t *testing.T) {
	result := RuleResult{
		RuleID:  "r1",
		Matched: true,
		Error:   errors.New("internal"),
		Actions: []ActionResult{{Kind: ActionSendEmail, Recipient: "a@example.com", Error: errors.New("smtp")}},
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if _, ok := decoded["Error"]; ok {
		t.Error("RuleResult.Error should not be serialized")
	}
	actions, _ := decoded["actions"].([]any)
	if len(actions) != 1 {
		t.Fatalf("actions = %v", decoded["actions"])
	}
	if actions[0].(map[string]any)["recipient"] != "a@example.com" {
		t.Errorf("recipient missing from %v", actions[0])
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("db down")

	condErr := &ConditionError{Field: "status", Operator: OpEquals, Err: cause}
	if !errors.Is(condErr, cause) {
		t.Error("ConditionError should unwrap to its cause")
	}

	actErr := &ActionError{RuleID: "r1", Kind: ActionCreateTask, Err: cause}
	if !errors.Is(actErr, cause) {
		t.Error("ActionError should unwrap to its cause")
	}

	for _, err := range []error{
		condErr,
		actErr,
		&UnsupportedOperatorError{Field: "status", Operator: "between"},
		&UnknownActionKindError{Kind: "webhook"},
	} {
		if err.Error() == "" {
			t.Errorf("%T has an empty message", err)
		}
	}
}
