// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind tells whether a placement belongs to a student or a team.
type EntityKind string

// Entity kinds.
const (
	KindStudent EntityKind = "student"
	KindTeam    EntityKind = "team"
)

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool { return k == KindStudent || k == KindTeam }

// Grade is the jury's quality grade attached to a placement.
type Grade string

// Grades.
const (
	GradeA    Grade = "A"
	GradeB    Grade = "B"
	GradeC    Grade = "C"
	GradeNone Grade = "none"
)

// Valid reports whether g is a known grade.
func (g Grade) Valid() bool {
	switch g {
	case GradeA, GradeB, GradeC, GradeNone:
		return true
	}
	return false
}

// EventType distinguishes solo programs from group programs.
type EventType string

// Event types.
const (
	EventSingle EventType = "single"
	EventGroup  EventType = "group"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool { return t == EventSingle || t == EventGroup }

// Status is the approval state of a record.
type Status string

// Statuses. Superseded records were approved and later replaced by an
// approved correction; they never count toward totals.
const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusSuperseded:
		return true
	}
	return false
}

// Record is one jury decision for one program.
type Record struct {
	ID          string     `json:"id"`
	ProgramID   string     `json:"program_id"`
	EntityID    string     `json:"entity_id"`
	EntityKind  EntityKind `json:"entity_kind"`
	Placement   int        `json:"placement"`
	Grade       Grade      `json:"grade"`
	EventType   EventType  `json:"event_type"`
	Status      Status     `json:"status"`
	Version     int        `json:"version"`
	Supersedes  string     `json:"supersedes,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

// Normalize trims identifiers and defaults an empty grade to GradeNone.
func (r *Record) Normalize() {
	r.ProgramID = strings.TrimSpace(r.ProgramID)
	r.EntityID = strings.TrimSpace(r.EntityID)
	if r.Grade == "" {
		r.Grade = GradeNone
	}
}

// Validate checks the fields a caller supplies on submit.
func (r *Record) Validate() error {
	switch {
	case r.ProgramID == "":
		return fmt.Errorf("%w: missing program_id", ErrValidation)
	case r.EntityID == "":
		return fmt.Errorf("%w: missing entity_id", ErrValidation)
	case !r.EntityKind.Valid():
		return fmt.Errorf("%w: unknown entity_kind %q", ErrValidation, r.EntityKind)
	case r.Placement < 1 || r.Placement > 3:
		return fmt.Errorf("%w: placement must be 1, 2 or 3, got %d", ErrValidation, r.Placement)
	case !r.Grade.Valid():
		return fmt.Errorf("%w: unknown grade %q", ErrValidation, r.Grade)
	case !r.EventType.Valid():
		return fmt.Errorf("%w: unknown event_type %q", ErrValidation, r.EventType)
	}
	return nil
}

// Correction replaces the scoring fields of an approved record.
type Correction struct {
	Placement int       `json:"placement"`
	Grade     Grade     `json:"grade"`
	EventType EventType `json:"event_type,omitempty"`
}

// Apply returns the next pending version of prev with c applied.
func (c Correction) Apply(prev Record) (Record, error) {
	next := Record{
		ProgramID:  prev.ProgramID,
		EntityID:   prev.EntityID,
		EntityKind: prev.EntityKind,
		Placement:  c.Placement,
		Grade:      c.Grade,
		EventType:  c.EventType,
		Status:     StatusPending,
		Version:    prev.Version + 1,
		Supersedes: prev.ID,
	}
	if next.EventType == "" {
		next.EventType = prev.EventType
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return Record{}, err
	}
	return next, nil
}
