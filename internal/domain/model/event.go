package model

import (
	"encoding/json"
	"time"
)

// Channel is a logical topic subscribers attach to.
type Channel string

// Channels.
const (
	ChannelResults       Channel = "results"
	ChannelScoreboard    Channel = "scoreboard"
	ChannelAssignments   Channel = "assignments"
	ChannelRegistrations Channel = "registrations"
	ChannelStudents      Channel = "students"
	ChannelPredictions   Channel = "predictions"
)

// Channels lists every channel the notifier accepts.
func Channels() []Channel {
	return []Channel{
		ChannelResults,
		ChannelScoreboard,
		ChannelAssignments,
		ChannelRegistrations,
		ChannelStudents,
		ChannelPredictions,
	}
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	for _, known := range Channels() {
		if c == known {
			return true
		}
	}
	return false
}

// Event names emitted by the core.
const (
	EventResultSubmitted   = "result-submitted"
	EventResultApproved    = "result-approved"
	EventResultRejected    = "result-rejected"
	EventResultCorrected   = "result-corrected"
	EventScoreboardUpdated = "scoreboard-updated"
	EventPredictionCreated = "prediction-created"
)

// ChannelEvent is a typed fact published on a channel. The payload is
// encoded once at publish time so every subscriber sees the same bytes.
type ChannelEvent struct {
	ID        string          `json:"id"`
	Channel   Channel         `json:"channel"`
	Name      string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
}
