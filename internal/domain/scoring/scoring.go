// Package scoring converts jury placements into points.
//
// points = base(event type, placement) + bonus(grade). The rule is a total
// function: anything outside the declared domain is worth zero.
package scoring

import "github.com/okian/festboard/internal/domain/model"

// Table holds the immutable base and bonus tables.
type Table struct {
	base  map[model.EventType][4]int // indexed by placement; index 0 unused
	bonus map[model.Grade]int
}

var defaultTable = Table{ //nolint:gochecknoglobals // read-only rule table
	base: map[model.EventType][4]int{
		model.EventSingle: {0, 5, 3, 1},
		model.EventGroup:  {0, 10, 8, 6},
	},
	bonus: map[model.Grade]int{
		model.GradeA:    5,
		model.GradeB:    3,
		model.GradeC:    1,
		model.GradeNone: 0,
	},
}

// Default returns the festival rule table.
func Default() Table { return defaultTable }

// Points returns the value of one placement. It returns 0 for a placement
// outside 1..3, an unknown event type or an unknown grade.
func (t Table) Points(eventType model.EventType, placement int, grade model.Grade) int {
	if placement < 1 || placement > 3 {
		return 0
	}
	row, ok := t.base[eventType]
	if !ok {
		return 0
	}
	bonus, ok := t.bonus[grade]
	if !ok {
		return 0
	}
	return row[placement] + bonus
}

// Score returns the value of a record regardless of its status.
func (t Table) Score(r model.Record) int {
	return t.Points(r.EventType, r.Placement, r.Grade)
}

// Points evaluates the default table.
func Points(eventType model.EventType, placement int, grade model.Grade) int {
	return defaultTable.Points(eventType, placement, grade)
}

// Score evaluates the default table for a record.
func Score(r model.Record) int {
	return defaultTable.Score(r)
}
