package rules

import (
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// looseEqual compares two loosely typed values. nil equals only nil.
// When both sides coerce to numbers ("50000" and 50000 included) they are
// compared numerically, otherwise as strings.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if af, ok := toNumber(a); ok {
		if bf, ok := toNumber(b); ok {
			return af == bf
		}
	}

	as, aErr := cast.ToStringE(a)
	bs, bErr := cast.ToStringE(b)
	if aErr != nil || bErr != nil {
		return reflect.DeepEqual(a, b)
	}
	return as == bs
}

// toNumber ignores surrounding whitespace in strings; blank strings are not
// numbers
func toNumber(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		v = s
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}
