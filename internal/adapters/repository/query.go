package repository

import (
	"strconv"
	"strings"
)

// recordColumns is the column order every SQL backend selects and scans.
const recordColumns = `id, program_id, entity_id, entity_kind, placement, grade, event_type,
	status, version, supersedes, submitted_at, decided_at, approved_at`

// scanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// placeholder renders the n-th (1-based) bind parameter of a dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return "$" + strconv.Itoa(n) }

// where renders the filter as a WHERE clause and its arguments.
func where(f Filter, ph placeholder) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, col+" = "+ph(len(args)))
	}
	if f.ProgramID != "" {
		add("program_id", f.ProgramID)
	}
	if f.EntityID != "" {
		add("entity_id", f.EntityID)
	}
	if f.Kind != "" {
		add("entity_kind", string(f.Kind))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
