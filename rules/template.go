package rules

import (
	"regexp"

	"github.com/spf13/cast"
)

const (
	// DealNamePlaceholder is the legacy placeholder for the entity name
	DealNamePlaceholder = "deal_name"
	// DealNameFallback replaces {deal_name} when the entity has no name
	DealNameFallback = "Deal"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?)\}`)

// Render substitutes {placeholders} in tmpl from entity values.
// {deal_name} resolves to the entity's name or "Deal". Any other
// {attr} or {relation.attr} resolves like a condition field; placeholders
// that do not resolve are left as written.
func Render(tmpl string, entity Entity) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := match[1 : len(match)-1]

		if key == DealNamePlaceholder {
			if name, ok := resolveField(entity, "name"); ok && name != nil {
				if s := cast.ToString(name); s != "" {
					return s
				}
			}
			return DealNameFallback
		}

		value, ok := resolveField(entity, key)
		if !ok || value == nil {
			return match
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return match
		}
		return s
	})
}

// Placeholders lists the placeholder keys in tmpl in order of appearance,
// without braces and without duplicates
func Placeholders(tmpl string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}
