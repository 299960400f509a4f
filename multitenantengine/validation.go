package multitenantengine

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/liamcoop/workflows/rules"
)

// ErrInvalidSchema wraps every ValidateSchema failure
var ErrInvalidSchema = errors.New("invalid schema")

const (
	maxSchemaObjects = 100
	maxObjectFields  = 200
	maxIdentifierLen = 100
	refPrefix        = "ref:"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var scalarTypes = map[string]bool{
	"string":    true,
	"number":    true,
	"bool":      true,
	"timestamp": true,
}

// Field names that would break `entity.<field>` in expression conditions
var reservedKeywords = map[string]bool{
	"true": true, "false": true, "null": true,
	"in": true, "as": true, "break": true, "const": true, "continue": true,
	"else": true, "for": true, "function": true, "if": true, "import": true,
	"let": true, "loop": true, "package": true, "namespace": true,
	"return": true, "var": true, "void": true, "while": true,
}

// ValidateSchema validates a schema definition. Relation fields must
// reference an entity type defined in the same schema.
func ValidateSchema(schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema cannot be empty, must contain at least one object definition")
	}
	if len(schema) > maxSchemaObjects {
		return fmt.Errorf("schema contains %d objects, maximum allowed is %d", len(schema), maxSchemaObjects)
	}

	for objectName, fields := range schema {
		if err := validateIdentifier(objectName); err != nil {
			return fmt.Errorf("invalid object name %q: %w", objectName, err)
		}
		if len(fields) == 0 {
			return fmt.Errorf("object %q must contain at least one field", objectName)
		}
		if len(fields) > maxObjectFields {
			return fmt.Errorf("object %q contains %d fields, maximum allowed is %d", objectName, len(fields), maxObjectFields)
		}

		for fieldName, typeName := range fields {
			if err := validateIdentifier(fieldName); err != nil {
				return fmt.Errorf("invalid field name %q in object %q: %w", fieldName, objectName, err)
			}
			if err := validateFieldType(schema, typeName); err != nil {
				return fmt.Errorf("field %q in object %q: %w", fieldName, objectName, err)
			}
		}
	}

	return nil
}

func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLen)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	if reservedKeywords[name] {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

func validateFieldType(schema Schema, typeName string) error {
	if typeName == "" {
		return fmt.Errorf("empty type name")
	}
	if strings.TrimSpace(typeName) != typeName {
		return fmt.Errorf("type has leading/trailing whitespace: %q", typeName)
	}
	if scalarTypes[typeName] {
		return nil
	}
	if target, ok := strings.CutPrefix(typeName, refPrefix); ok {
		if _, exists := schema[target]; !exists {
			return fmt.Errorf("relation references unknown object %q", target)
		}
		return nil
	}
	return fmt.Errorf("invalid type %q (must be one of: string, number, bool, timestamp, ref:<Object>)", typeName)
}

// ObjectForEvent finds the schema object a trigger event refers to:
// "deal.updated" matches an object named "Deal" or "deal".
func ObjectForEvent(schema Schema, event string) (string, bool) {
	prefix, _, _ := strings.Cut(event, ".")
	for name := range schema {
		if strings.EqualFold(name, prefix) {
			return name, true
		}
	}
	return "", false
}

// CheckRuleFields returns a warning for each condition field and template
// placeholder of r that the schema cannot resolve. An empty schema checks
// nothing. Warnings never block a rule: unresolved fields evaluate as nil.
func CheckRuleFields(schema Schema, r *rules.Rule) []string {
	if len(schema) == 0 {
		return nil
	}

	object, ok := ObjectForEvent(schema, r.TriggerEvent)
	if !ok {
		return []string{fmt.Sprintf("no schema object matches trigger event %q", r.TriggerEvent)}
	}

	var warnings []string
	for i, cond := range r.Conditions {
		if cond.Operator == rules.OpExpression || cond.Field == "" {
			continue
		}
		if err := resolvePath(schema, object, cond.Field); err != nil {
			warnings = append(warnings, fmt.Sprintf("condition %d: unresolved field %q: %v", i, cond.Field, err))
		}
	}

	for i, a := range r.Actions {
		for _, param := range sortedKeys(a.Params) {
			for _, key := range rules.Placeholders(a.Params[param]) {
				if key == rules.DealNamePlaceholder {
					continue
				}
				if err := resolvePath(schema, object, key); err != nil {
					warnings = append(warnings, fmt.Sprintf("action %d: %s placeholder {%s}: %v", i, param, key, err))
				}
			}
		}
	}
	return warnings
}

func resolvePath(schema Schema, object, path string) error {
	relation, attribute, nested := strings.Cut(path, ".")
	if !nested {
		if _, ok := schema[object][path]; !ok {
			return fmt.Errorf("%s has no field %q", object, path)
		}
		return nil
	}

	typeName, ok := schema[object][relation]
	if !ok {
		return fmt.Errorf("%s has no relation %q", object, relation)
	}
	target, isRef := strings.CutPrefix(typeName, refPrefix)
	if !isRef {
		return fmt.Errorf("%s.%s is a %s, not a relation", object, relation, typeName)
	}
	if _, ok := schema[target][attribute]; !ok {
		return fmt.Errorf("%s has no field %q", target, attribute)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
