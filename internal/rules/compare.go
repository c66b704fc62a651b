package rules

import (
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/bugtriage/model"
)

// dateLayouts are tried in order when both operands of an ordering
// comparison look like timestamps.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// valuesEqual compares two values type-tolerantly: numbers and numeric
// strings compare numerically, booleans and boolean strings compare as
// booleans, everything else compares by string form.
func valuesEqual(a, b model.Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			return af == bf
		}
	}
	if ab, ok := boolean(a); ok {
		if bb, ok := boolean(b); ok {
			return ab == bb
		}
	}
	return a.String() == b.String()
}

// compareOrdered returns -1, 0 or 1. ok is false when either side is null.
func compareOrdered(a, b model.Value) (int, bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			return cmpFloat(af, bf), true
		}
	}
	if at, ok := timestamp(a); ok {
		if bt, ok := timestamp(b); ok {
			return at.Compare(bt), true
		}
	}
	return strings.Compare(strings.ToLower(a.String()), strings.ToLower(b.String())), true
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// numeric returns the float form of numbers and numeric strings.
func numeric(v model.Value) (float64, bool) {
	if n, ok := v.AsNumber(); ok {
		return n, true
	}
	s, ok := v.AsString()
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if !isNumericLiteral(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// boolean accepts bool values and the strings "true"/"false" in any case.
func boolean(v model.Value) (bool, bool) {
	if b, ok := v.AsBool(); ok {
		return b, true
	}
	s, ok := v.AsString()
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func timestamp(v model.Value) (time.Time, bool) {
	s, ok := v.AsString()
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// isNumericLiteral returns true if the string looks like a decimal number.
func isNumericLiteral(s string) bool {
	if len(s) == 0 {
		return false
	}
	start := 0
	if s[0] == '-' || s[0] == '+' {
		start = 1
		if start >= len(s) {
			return false
		}
	}
	hasDot := false
	hasDigit := false
	for i := start; i < len(s); i++ {
		switch {
		case s[i] == '.':
			if hasDot {
				return false
			}
			hasDot = true
		case s[i] >= '0' && s[i] <= '9':
			hasDigit = true
		default:
			return false
		}
	}
	return hasDigit
}

// candidates splits the operand of In/NotIn: list values are used as-is,
// anything else is split on commas.
func candidates(v model.Value) []model.Value {
	if items, ok := v.AsList(); ok {
		return items
	}
	if v.IsNull() {
		return nil
	}
	parts := strings.Split(v.String(), ",")
	out := make([]model.Value, 0, len(parts))
	for _, p := range parts {
		out = append(out, model.String(strings.TrimSpace(p)))
	}
	return out
}

// contains is a case-insensitive substring test on string forms. A list
// field matches when any element equals the operand ignoring case.
func contains(field, operand model.Value) bool {
	if field.IsNull() {
		return false
	}
	needle := strings.ToLower(operand.String())
	if items, ok := field.AsList(); ok {
		for _, item := range items {
			if strings.ToLower(item.String()) == needle {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(field.String()), needle)
}
