package filter

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
)

// MaxConditionsPerGroup is the maximum number of conditions per filter group.
const MaxConditionsPerGroup = 32

// MaxValuesPerCondition bounds an any-of list.
const MaxValuesPerCondition = 64

// Expression is a structured metadata filter with must/should/must_not boolean semantics.
// An empty should group imposes no constraint.
type Expression struct {
	must    []Condition
	should  []Condition
	mustNot []Condition
}

// NewExpression validates and creates a filter Expression.
func NewExpression(must, should, mustNot []Condition) (Expression, error) {
	if len(must) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many must conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(should) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many should conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(mustNot) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many must_not conditions (max %d)", MaxConditionsPerGroup)
	}
	return Expression{must: must, should: should, mustNot: mustNot}, nil
}

// Must returns the must conditions.
func (e Expression) Must() []Condition { return e.must }

// Should returns the should conditions.
func (e Expression) Should() []Condition { return e.should }

// MustNot returns the must-not conditions.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.should) == 0 && len(e.mustNot) == 0
}

// Keys returns the distinct metadata keys referenced by the expression, sorted.
func (e Expression) Keys() []string {
	seen := make(map[string]struct{})
	for _, group := range [][]Condition{e.must, e.should, e.mustNot} {
		for _, c := range group {
			seen[c.key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matches evaluates the expression against a metadata mapping in process.
// Used by backends whose engine has no native metadata filtering.
func (e Expression) Matches(meta map[string]any) bool {
	for _, c := range e.must {
		if !c.Matches(meta) {
			return false
		}
	}
	for _, c := range e.mustNot {
		if c.Matches(meta) {
			return false
		}
	}
	if len(e.should) == 0 {
		return true
	}
	for _, c := range e.should {
		if c.Matches(meta) {
			return true
		}
	}
	return false
}

// Condition is a single filter clause: a tag match (one value), an any-of
// list (several values), or a numeric range.
type Condition struct {
	key       string
	values    []string
	rangeExpr *Range
}

// NewMatch creates an exact tag match condition.
func NewMatch(key, match string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if match == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, values: []string{match}}, nil
}

// NewAnyOf creates a condition satisfied when the tag equals any of values.
func NewAnyOf(key string, values []string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if len(values) == 0 {
		return Condition{}, fmt.Errorf("at least one value is required for key %q", key)
	}
	if len(values) > MaxValuesPerCondition {
		return Condition{}, fmt.Errorf("too many values for key %q (max %d)", key, MaxValuesPerCondition)
	}
	if slices.Contains(values, "") {
		return Condition{}, fmt.Errorf("empty value for key %q", key)
	}
	return Condition{key: key, values: slices.Clone(values)}, nil
}

// NewRange creates a numeric range condition.
func NewRange(key string, r Range) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	return Condition{key: key, rangeExpr: &r}, nil
}

// Key returns the metadata field name.
func (c Condition) Key() string { return c.key }

// Values returns the accepted tag values.
func (c Condition) Values() []string { return c.values }

// Match returns the single match value, or "" for any-of and range conditions.
func (c Condition) Match() string {
	if len(c.values) == 1 {
		return c.values[0]
	}
	return ""
}

// Range returns the numeric range expression.
func (c Condition) Range() *Range { return c.rangeExpr }

// IsMatch reports whether this is a tag condition (single value or any-of).
func (c Condition) IsMatch() bool { return len(c.values) > 0 }

// IsAnyOf reports whether this tag condition lists several values.
func (c Condition) IsAnyOf() bool { return len(c.values) > 1 }

// IsRange reports whether this is a range condition.
func (c Condition) IsRange() bool { return c.rangeExpr != nil }

// Matches evaluates the condition against a metadata mapping.
// Tag conditions compare the string form of the value; ranges need a numeric value.
func (c Condition) Matches(meta map[string]any) bool {
	v, ok := meta[c.key]
	if !ok || v == nil {
		return false
	}
	if c.IsMatch() {
		s, ok := tagString(v)
		return ok && slices.Contains(c.values, s)
	}
	if c.IsRange() {
		f, ok := numeric(v)
		return ok && c.rangeExpr.Contains(f)
	}
	return false
}

func tagString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Range is a numeric range with gt/gte/lt/lte boundaries.
type Range struct {
	gt  *float64
	gte *float64
	lt  *float64
	lte *float64
}

// NewRangeFilter validates and creates a Range.
// At least one boundary required. gt/gte and lt/lte are mutually exclusive.
func NewRangeFilter(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, fmt.Errorf("at least one range boundary is required")
	}
	if gt != nil && gte != nil {
		return Range{}, fmt.Errorf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, fmt.Errorf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the lower exclusive bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the lower inclusive bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the upper exclusive bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the upper inclusive bound.
func (r Range) LTE() *float64 { return r.lte }

// Contains reports whether f satisfies every boundary.
func (r Range) Contains(f float64) bool {
	if r.gt != nil && f <= *r.gt {
		return false
	}
	if r.gte != nil && f < *r.gte {
		return false
	}
	if r.lt != nil && f >= *r.lt {
		return false
	}
	if r.lte != nil && f > *r.lte {
		return false
	}
	return true
}
