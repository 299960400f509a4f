package rules

import "strings"

// TenantAttribute is the attribute holding an entity's tenant id
const TenantAttribute = "tenant_id"

// Entity is the capability the engine needs from a triggering domain object.
// Implementations must not expose mutable internals through Attribute or
// Relation; the engine only reads.
type Entity interface {
	// Type is the polymorphic discriminator, e.g. "Deal"
	Type() string
	// ID is the identity value used for task back-references
	ID() string
	Attribute(name string) (any, bool)
	Relation(name string) (Entity, bool)
}

// Fielder is implemented by entities that can expose all of their attributes
// at once. The expression operator requires it.
type Fielder interface {
	Fields() map[string]any
}

// Record is a map-backed Entity, used for events decoded from JSON
type Record struct {
	EntityType string             `json:"type"`
	EntityID   string             `json:"id"`
	Attributes map[string]any     `json:"attributes,omitempty"`
	Relations  map[string]*Record `json:"relations,omitempty"`
}

func (r *Record) Type() string { return r.EntityType }

func (r *Record) ID() string { return r.EntityID }

func (r *Record) Attribute(name string) (any, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

func (r *Record) Relation(name string) (Entity, bool) {
	rel, ok := r.Relations[name]
	if !ok || rel == nil {
		return nil, false
	}
	return rel, true
}

// Fields returns a fresh map of attributes with relations nested as maps
func (r *Record) Fields() map[string]any {
	out := make(map[string]any, len(r.Attributes)+len(r.Relations))
	for k, v := range r.Attributes {
		out[k] = v
	}
	for k, rel := range r.Relations {
		if rel == nil {
			continue
		}
		out[k] = rel.Fields()
	}
	return out
}

// resolveField resolves "attr" or "relation.attr" against entity. A missing
// relation or attribute resolves to (nil, false).
func resolveField(entity Entity, field string) (any, bool) {
	if entity == nil {
		return nil, false
	}
	relationName, attributeName, nested := strings.Cut(field, ".")
	if !nested {
		return entity.Attribute(field)
	}
	related, ok := entity.Relation(relationName)
	if !ok || related == nil {
		return nil, false
	}
	return related.Attribute(attributeName)
}
