package crm

import (
	"encoding/json"
	"fmt"

	"github.com/liamcoop/workflows/rules"
)

// DecodeEntity decodes a triggering entity from JSON. Payloads whose "type"
// is a known CRM type decode into the typed record; anything else, or a
// payload in the generic {type, id, attributes, relations} form, decodes
// into a rules.Record.
func DecodeEntity(data []byte) (rules.Entity, error) {
	var head struct {
		Type       string          `json:"type"`
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid entity: %w", err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("invalid entity: type is required")
	}

	var target rules.Entity
	switch head.Type {
	case TypeAccount:
		target = &Account{}
	case TypeContact:
		target = &Contact{}
	case TypeStage:
		target = &Stage{}
	case TypeDeal:
		target = &Deal{}
	case TypeTicket:
		target = &Ticket{}
	}
	if target == nil || len(head.Attributes) > 0 {
		target = &rules.Record{}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("invalid %s entity: %w", head.Type, err)
	}
	return target, nil
}
