package filter

import (
	"fmt"
	"sort"
)

// FromMap builds a must-only Expression from the loose mapping accepted on the wire:
//
//	{"file_type": "pdf"}                  equality
//	{"file_type": ["pdf", "md"]}          any-of
//	{"chunk_index": {"gte": 0, "lt": 5}}  numeric range
//
// Keys are processed in sorted order so the resulting expression is deterministic.
func FromMap(m map[string]any) (Expression, error) {
	if len(m) == 0 {
		return Expression{}, nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]Condition, 0, len(keys))
	for _, key := range keys {
		cond, err := conditionFromValue(key, m[key])
		if err != nil {
			return Expression{}, err
		}
		must = append(must, cond)
	}
	return NewExpression(must, nil, nil)
}

func conditionFromValue(key string, v any) (Condition, error) {
	switch t := v.(type) {
	case []any:
		values := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := tagString(item)
			if !ok {
				return Condition{}, fmt.Errorf("filter %q: unsupported list value %T", key, item)
			}
			values = append(values, s)
		}
		return NewAnyOf(key, values)
	case []string:
		return NewAnyOf(key, t)
	case map[string]any:
		r, err := rangeFromMap(key, t)
		if err != nil {
			return Condition{}, err
		}
		return NewRange(key, r)
	default:
		s, ok := tagString(v)
		if !ok {
			return Condition{}, fmt.Errorf("filter %q: unsupported value %T", key, v)
		}
		return NewMatch(key, s)
	}
}

func rangeFromMap(key string, m map[string]any) (Range, error) {
	var bounds [4]*float64
	for op, raw := range m {
		f, ok := numeric(raw)
		if !ok {
			return Range{}, fmt.Errorf("filter %q: %s bound must be numeric", key, op)
		}
		switch op {
		case "gt":
			bounds[0] = &f
		case "gte":
			bounds[1] = &f
		case "lt":
			bounds[2] = &f
		case "lte":
			bounds[3] = &f
		default:
			return Range{}, fmt.Errorf("filter %q: unknown range operator %q", key, op)
		}
	}
	r, err := NewRangeFilter(bounds[0], bounds[1], bounds[2], bounds[3])
	if err != nil {
		return Range{}, fmt.Errorf("filter %q: %w", key, err)
	}
	return r, nil
}
