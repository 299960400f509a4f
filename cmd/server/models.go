package main

import (
	"encoding/json"
	"time"

	"github.com/liamcoop/workflows/multitenantengine"
	"github.com/liamcoop/workflows/rules"
)

// CreateTenantRequest represents the request body for creating a tenant
type CreateTenantRequest struct {
	Name string `json:"name"`
}

// TenantResponse represents a tenant in API responses
type TenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Loaded    bool      `json:"loaded"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TenantsListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
}

// SchemaRequest carries a full replacement schema: object name to field
// name to field type
type SchemaRequest struct {
	Definition multitenantengine.Schema `json:"definition"`
}

type SchemaResponse struct {
	Version    int                      `json:"version"`
	Definition multitenantengine.Schema `json:"definition"`
	CreatedAt  time.Time                `json:"createdAt"`
}

// RuleRequest is used for both create and update. Active defaults to true
// on create and is left unchanged on update when omitted.
type RuleRequest struct {
	ID           string            `json:"id,omitempty"`
	Name         string            `json:"name"`
	TriggerEvent string            `json:"triggerEvent"`
	Active       *bool             `json:"active,omitempty"`
	Conditions   []rules.Condition `json:"conditions"`
	Actions      []rules.Action    `json:"actions"`
}

// RuleResponse is a stored rule plus the fields the tenant schema could
// not resolve. Warnings never block a write.
type RuleResponse struct {
	*rules.Rule
	Warnings []string `json:"warnings,omitempty"`
}

type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// EventRequest triggers workflow processing for one entity write. Entity is
// either a typed CRM record ({"type":"Deal","id":...,"name":...}) or the
// generic {type, id, attributes, relations} form.
type EventRequest struct {
	Event  string          `json:"event"`
	Entity json.RawMessage `json:"entity"`
	Actor  rules.Actor     `json:"actor"`
}

type ActionResultResponse struct {
	Kind      rules.ActionKind `json:"kind"`
	TaskID    string           `json:"taskId,omitempty"`
	Recipient string           `json:"recipient,omitempty"`
	Skipped   bool             `json:"skipped,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type RuleResultResponse struct {
	RuleID   string                 `json:"ruleId"`
	RuleName string                 `json:"ruleName"`
	Matched  bool                   `json:"matched"`
	Error    string                 `json:"error,omitempty"`
	Actions  []ActionResultResponse `json:"actions,omitempty"`
}

type EventResponse struct {
	Results        []RuleResultResponse `json:"results"`
	Matched        int                  `json:"matched"`
	ProcessingTime string               `json:"processingTime"`
}

type TasksListResponse struct {
	Tasks []*rules.Task `json:"tasks"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	TenantsLoaded int    `json:"tenantsLoaded"`
	Error         string `json:"error,omitempty"`
}

func newEventResponse(results []*rules.RuleResult, elapsed time.Duration) EventResponse {
	resp := EventResponse{
		Results:        make([]RuleResultResponse, 0, len(results)),
		ProcessingTime: elapsed.String(),
	}
	for _, r := range results {
		rr := RuleResultResponse{
			RuleID:   r.RuleID,
			RuleName: r.RuleName,
			Matched:  r.Matched,
			Error:    errorString(r.Error),
		}
		for _, a := range r.Actions {
			rr.Actions = append(rr.Actions, ActionResultResponse{
				Kind:      a.Kind,
				TaskID:    a.TaskID,
				Recipient: a.Recipient,
				Skipped:   a.Skipped,
				Error:     errorString(a.Error),
			})
		}
		if r.Matched {
			resp.Matched++
		}
		resp.Results = append(resp.Results, rr)
	}
	return resp
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
