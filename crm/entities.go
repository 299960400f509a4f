// Package crm holds the typed CRM records that trigger workflow rules.
// Each type implements rules.Entity and rules.Fielder; attribute names are
// the snake_case JSON names, relations are the nested records.
package crm

import (
	"time"

	"github.com/liamcoop/workflows/rules"
)

// Entity type discriminators, stored as taskable_type on created tasks
const (
	TypeAccount = "Account"
	TypeContact = "Contact"
	TypeStage   = "Stage"
	TypeDeal    = "Deal"
	TypeTicket  = "Ticket"
)

// Lifecycle events raised by CRM writes
const (
	EventDealCreated         = "deal.created"
	EventDealUpdated         = "deal.updated"
	EventContactCreated      = "contact.created"
	EventTicketCreated       = "ticket.created"
	EventTicketStatusChanged = "ticket.status_changed"
)

// Account is a customer organisation
type Account struct {
	EntityID string `json:"id"`
	TenantID string `json:"tenant_id,omitempty"`
	Name     string `json:"name"`
	Industry string `json:"industry,omitempty"`
}

func (a *Account) Type() string { return TypeAccount }
func (a *Account) ID() string   { return a.EntityID }

func (a *Account) Fields() map[string]any {
	return map[string]any{
		"id":                  a.EntityID,
		rules.TenantAttribute: a.TenantID,
		"name":                a.Name,
		"industry":            a.Industry,
	}
}

func (a *Account) Attribute(name string) (any, bool) { return lookup(a.Fields(), name) }

func (a *Account) Relation(string) (rules.Entity, bool) { return nil, false }

// Contact is a person, optionally attached to an account
type Contact struct {
	EntityID  string   `json:"id"`
	TenantID  string   `json:"tenant_id,omitempty"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Account   *Account `json:"account,omitempty"`
}

func (c *Contact) Type() string { return TypeContact }
func (c *Contact) ID() string   { return c.EntityID }

func (c *Contact) Fields() map[string]any {
	fields := map[string]any{
		"id":                  c.EntityID,
		rules.TenantAttribute: c.TenantID,
		"first_name":          c.FirstName,
		"last_name":           c.LastName,
		"email":               c.Email,
		"phone":               c.Phone,
	}
	if c.Account != nil {
		fields["account"] = c.Account.Fields()
	}
	return fields
}

func (c *Contact) Attribute(name string) (any, bool) { return lookup(c.Fields(), name) }

func (c *Contact) Relation(name string) (rules.Entity, bool) {
	if name == "account" && c.Account != nil {
		return c.Account, true
	}
	return nil, false
}

// Stage is a pipeline stage a deal moves through
type Stage struct {
	EntityID    string `json:"id"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Probability int    `json:"probability,omitempty"`
}

func (s *Stage) Type() string { return TypeStage }
func (s *Stage) ID() string   { return s.EntityID }

func (s *Stage) Fields() map[string]any {
	return map[string]any{
		"id":          s.EntityID,
		"name":        s.Name,
		"position":    s.Position,
		"probability": s.Probability,
	}
}

func (s *Stage) Attribute(name string) (any, bool) { return lookup(s.Fields(), name) }

func (s *Stage) Relation(string) (rules.Entity, bool) { return nil, false }

// Deal is a sales opportunity. Its name feeds the {deal_name} placeholder.
type Deal struct {
	EntityID  string     `json:"id"`
	TenantID  string     `json:"tenant_id,omitempty"`
	Name      string     `json:"name"`
	Value     float64    `json:"value"`
	Status    string     `json:"status,omitempty"`
	OwnerID   string     `json:"owner_id,omitempty"`
	CloseDate *time.Time `json:"close_date,omitempty"`
	Stage     *Stage     `json:"stage,omitempty"`
	Contact   *Contact   `json:"contact,omitempty"`
	Account   *Account   `json:"account,omitempty"`
}

func (d *Deal) Type() string { return TypeDeal }
func (d *Deal) ID() string   { return d.EntityID }

func (d *Deal) Fields() map[string]any {
	fields := map[string]any{
		"id":                  d.EntityID,
		rules.TenantAttribute: d.TenantID,
		"name":                d.Name,
		"value":               d.Value,
		"status":              d.Status,
		"owner_id":            d.OwnerID,
	}
	if d.CloseDate != nil {
		fields["close_date"] = *d.CloseDate
	}
	if d.Stage != nil {
		fields["stage"] = d.Stage.Fields()
	}
	if d.Contact != nil {
		fields["contact"] = d.Contact.Fields()
	}
	if d.Account != nil {
		fields["account"] = d.Account.Fields()
	}
	return fields
}

func (d *Deal) Attribute(name string) (any, bool) { return lookup(d.Fields(), name) }

func (d *Deal) Relation(name string) (rules.Entity, bool) {
	switch name {
	case "stage":
		if d.Stage != nil {
			return d.Stage, true
		}
	case "contact":
		if d.Contact != nil {
			return d.Contact, true
		}
	case "account":
		if d.Account != nil {
			return d.Account, true
		}
	}
	return nil, false
}

// Ticket is a support request raised by a contact
type Ticket struct {
	EntityID string   `json:"id"`
	TenantID string   `json:"tenant_id,omitempty"`
	Subject  string   `json:"subject"`
	Status   string   `json:"status"`
	Priority string   `json:"priority,omitempty"`
	Contact  *Contact `json:"contact,omitempty"`
}

func (t *Ticket) Type() string { return TypeTicket }
func (t *Ticket) ID() string   { return t.EntityID }

func (t *Ticket) Fields() map[string]any {
	fields := map[string]any{
		"id":                  t.EntityID,
		rules.TenantAttribute: t.TenantID,
		"subject":             t.Subject,
		"status":              t.Status,
		"priority":            t.Priority,
	}
	if t.Contact != nil {
		fields["contact"] = t.Contact.Fields()
	}
	return fields
}

func (t *Ticket) Attribute(name string) (any, bool) { return lookup(t.Fields(), name) }

func (t *Ticket) Relation(name string) (rules.Entity, bool) {
	if name == "contact" && t.Contact != nil {
		return t.Contact, true
	}
	return nil, false
}

// lookup reads a field the way rules.Record reads an attribute, so a typed
// entity and its generic form evaluate alike. Empty strings are present.
// Nested relation maps are only reachable through Relation.
func lookup(fields map[string]any, name string) (any, bool) {
	switch v := fields[name].(type) {
	case nil, map[string]any:
		return nil, false
	default:
		return v, true
	}
}
