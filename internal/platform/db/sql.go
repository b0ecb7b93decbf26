package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Scanner is satisfied by pgx.Row and pgx.Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// Collect scans every row with scan and closes rows.
func Collect[T any](rows pgx.Rows, scan func(Scanner) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Placeholders returns "$start, $start+1, ..." for n arguments.
func Placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

// Assignments turns "a, b, c" into "a = $start, b = $start+1, c = $start+2".
func Assignments(columns string, start int) string {
	cols := strings.Split(columns, ",")
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = $%d", strings.TrimSpace(c), start+i)
	}
	return strings.Join(parts, ", ")
}

// ColumnCount returns the number of columns in a comma separated list.
func ColumnCount(columns string) int {
	return len(strings.Split(columns, ","))
}

// Where accumulates AND-ed conditions with positional arguments.
type Where struct {
	conds []string
	args  []interface{}
}

// Add appends a condition; each "?" in cond is replaced by the next
// positional placeholder.
func (w *Where) Add(cond string, args ...interface{}) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

// SQL returns " WHERE ..." or "" when there are no conditions.
func (w *Where) SQL() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// Args returns the positional arguments.
func (w *Where) Args() []interface{} { return w.args }

// Next returns the placeholder number after the last argument.
func (w *Where) Next() int { return len(w.args) + 1 }

// Excluded turns "a, b" into "a = EXCLUDED.a, b = EXCLUDED.b" for upserts.
func Excluded(columns string) string {
	cols := strings.Split(columns, ",")
	parts := make([]string, len(cols))
	for i, c := range cols {
		c = strings.TrimSpace(c)
		parts[i] = c + " = EXCLUDED." + c
	}
	return strings.Join(parts, ", ")
}

// Qualify prefixes every column of cols with alias, for joins.
func Qualify(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
