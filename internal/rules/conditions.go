// Package rules evaluates field/operator/value conditions against a flat map of
// facts. Automation triggers and sequence step conditions share it.
package rules

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Operator compares a fact with a condition value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpGreaterOrEq Operator = "greater_or_equal"
	OpLessThan    Operator = "less_than"
	OpLessOrEq    Operator = "less_or_equal"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

var knownOperators = map[Operator]struct{}{
	OpEquals: {}, OpNotEquals: {}, OpGreaterThan: {}, OpGreaterOrEq: {},
	OpLessThan: {}, OpLessOrEq: {}, OpContains: {}, OpNotContains: {},
	OpIn: {}, OpNotIn: {}, OpExists: {}, OpNotExists: {},
}

// Logic joins a list of conditions.
type Logic string

const (
	LogicAll Logic = "all"
	LogicAny Logic = "any"
)

// Condition is one field/operator/value test.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Facts is the flat view of a lead that conditions are evaluated against.
type Facts map[string]any

// Validate checks operators and fields before a condition is stored.
func Validate(conds []Condition) error {
	for i, c := range conds {
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("condition %d: field is required", i)
		}
		if _, ok := knownOperators[c.Operator]; !ok {
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
	}
	return nil
}

// Evaluate joins conds with logic. An empty list is true.
func Evaluate(conds []Condition, logic Logic, facts Facts) bool {
	if len(conds) == 0 {
		return true
	}
	if logic == LogicAny {
		for _, c := range conds {
			if Match(c, facts) {
				return true
			}
		}
		return false
	}
	for _, c := range conds {
		if !Match(c, facts) {
			return false
		}
	}
	return true
}

// Match evaluates a single condition.
func Match(c Condition, facts Facts) bool {
	actual, present := facts[c.Field]
	if present && actual == nil {
		present = false
	}

	switch c.Operator {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}
	if !present {
		// only negative operators hold for a missing fact
		return c.Operator == OpNotEquals || c.Operator == OpNotContains || c.Operator == OpNotIn
	}

	switch c.Operator {
	case OpEquals:
		return equal(actual, c.Value)
	case OpNotEquals:
		return !equal(actual, c.Value)
	case OpGreaterThan, OpGreaterOrEq, OpLessThan, OpLessOrEq:
		cmp, ok := compare(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGreaterThan:
			return cmp > 0
		case OpGreaterOrEq:
			return cmp >= 0
		case OpLessThan:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpContains:
		return contains(actual, c.Value)
	case OpNotContains:
		return !contains(actual, c.Value)
	case OpIn:
		return contains(c.Value, actual)
	case OpNotIn:
		return !contains(c.Value, actual)
	}
	return false
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := toBool(b); ok {
			return ab == bb
		}
	}
	return strings.EqualFold(toString(a), toString(b))
}

// compare returns -1/0/1; ok is false when the values are not comparable.
func compare(a, b any) (int, bool) {
	if at, ok := a.(time.Time); ok {
		bt, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	af, ok := toFloat(a)
	if !ok {
		return 0, false
	}
	bf, ok := toFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

// contains handles substring tests on strings and membership tests on slices.
func contains(haystack, needle any) bool {
	if s, ok := haystack.(string); ok {
		return strings.Contains(strings.ToLower(s), strings.ToLower(toString(needle)))
	}
	rv := reflect.ValueOf(haystack)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(rv.Index(i).Interface(), needle) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
