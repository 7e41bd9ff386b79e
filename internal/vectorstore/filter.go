package vectorstore

import "fmt"

// Filter is the where-clause language shared by every Store implementation.
// A Filter maps metadata field names to either a scalar (exact match) or an
// operator object (map with exactly one of $gte, $lte, $gt, $lt, $ne, $in,
// $nin, $contains), plus the boolean combinators $and / $or whose value is
// a slice of nested Filters.
type Filter map[string]any

// Matches evaluates the filter against a metadata document, used by the
// in-memory store and by tests asserting backend-agnostic filter semantics.
func Matches(metadata map[string]any, filter Filter) bool {
	for field, cond := range filter {
		switch field {
		case "$and":
			subs, ok := cond.([]Filter)
			if !ok {
				return false
			}
			for _, sub := range subs {
				if !Matches(metadata, sub) {
					return false
				}
			}
		case "$or":
			subs, ok := cond.([]Filter)
			if !ok {
				return false
			}
			anyTrue := false
			for _, sub := range subs {
				if Matches(metadata, sub) {
					anyTrue = true
					break
				}
			}
			if !anyTrue {
				return false
			}
		default:
			if !matchField(metadata[field], cond) {
				return false
			}
		}
	}
	return true
}

func matchField(actual, cond any) bool {
	opMap, isOp := cond.(map[string]any)
	if !isOp {
		return equalValue(actual, cond)
	}
	for op, v := range opMap {
		switch op {
		case "$gte":
			if !compareNumeric(actual, v, func(a, b float64) bool { return a >= b }) {
				return false
			}
		case "$lte":
			if !compareNumeric(actual, v, func(a, b float64) bool { return a <= b }) {
				return false
			}
		case "$gt":
			if !compareNumeric(actual, v, func(a, b float64) bool { return a > b }) {
				return false
			}
		case "$lt":
			if !compareNumeric(actual, v, func(a, b float64) bool { return a < b }) {
				return false
			}
		case "$ne":
			if equalValue(actual, v) {
				return false
			}
		case "$in":
			if !containsAny(v, actual) {
				return false
			}
		case "$nin":
			if containsAny(v, actual) {
				return false
			}
		case "$contains":
			if !sliceContains(actual, v) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareNumeric(actual, want any, cmp func(a, b float64) bool) bool {
	a, aok := toFloat(actual)
	b, bok := toFloat(want)
	if !aok || !bok {
		return false
	}
	return cmp(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsAny(list any, actual any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equalValue(item, actual) {
			return true
		}
	}
	return false
}

func sliceContains(actual any, want any) bool {
	items, ok := actual.([]any)
	if !ok {
		if s, ok := actual.([]string); ok {
			for _, item := range s {
				if equalValue(item, want) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range items {
		if equalValue(item, want) {
			return true
		}
	}
	return false
}
