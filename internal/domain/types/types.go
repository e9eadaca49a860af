// Package types contains the read shapes shared by the service and its transports.
package types

import "github.com/okian/festboard/internal/domain/model"

// Entry is one leaderboard row.
type Entry struct {
	EntityID   string           `json:"entity_id"`
	EntityKind model.EntityKind `json:"entity_kind"`
	TotalScore int              `json:"total_score"`
	Rank       int              `json:"rank"`
}

// ScoreUpdate is the payload of a scoreboard-updated event.
type ScoreUpdate struct {
	EntityID   string           `json:"entity_id"`
	EntityKind model.EntityKind `json:"entity_kind"`
	NewTotal   int              `json:"new_total"`
	NewRank    int              `json:"new_rank"`
}

// LeaderboardQuery selects a leaderboard view.
type LeaderboardQuery struct {
	// Kind restricts the board to students or teams; empty means both.
	Kind model.EntityKind `json:"kind,omitempty"`
	// AllEntities adds entities without approved points as zero rows.
	AllEntities bool `json:"all,omitempty"`
	// Limit caps the number of rows; 0 returns every row.
	Limit int `json:"limit,omitempty"`
}
