package sqlite

import (
	"strings"

	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
)

// whereClause renders the expression as " AND ..." predicates over d.metadata.
// A condition on a missing key is false, so must_not passes when the key is absent.
func whereClause(expr filter.Expression) (string, []any) {
	if expr.IsEmpty() {
		return "", nil
	}

	var (
		parts []string
		args  []any
	)
	for _, c := range expr.Must() {
		sql, a := condition(c)
		parts = append(parts, sql)
		args = append(args, a...)
	}
	if should := expr.Should(); len(should) > 0 {
		group := make([]string, 0, len(should))
		for _, c := range should {
			sql, a := condition(c)
			group = append(group, sql)
			args = append(args, a...)
		}
		parts = append(parts, "("+strings.Join(group, " OR ")+")")
	}
	for _, c := range expr.MustNot() {
		sql, a := condition(c)
		parts = append(parts, "NOT COALESCE("+sql+", 0)")
		args = append(args, a...)
	}
	return " AND " + strings.Join(parts, " AND "), args
}

func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

func condition(c filter.Condition) (string, []any) {
	path := jsonPath(c.Key())
	if c.IsRange() {
		r := c.Range()
		preds := []string{"json_type(d.metadata, ?) IN ('integer', 'real')"}
		args := []any{path}
		add := func(op string, v *float64) {
			if v != nil {
				preds = append(preds, "json_extract(d.metadata, ?) "+op+" ?")
				args = append(args, path, *v)
			}
		}
		add(">", r.GT())
		add(">=", r.GTE())
		add("<", r.LT())
		add("<=", r.LTE())
		return "(" + strings.Join(preds, " AND ") + ")", args
	}

	values := c.Values()
	placeholders := make([]string, len(values))
	args := make([]any, 0, len(values)+1)
	args = append(args, path)
	for i, v := range values {
		placeholders[i] = "?"
		args = append(args, v)
	}
	return "(CAST(json_extract(d.metadata, ?) AS TEXT) IN (" + strings.Join(placeholders, ", ") + "))", args
}
