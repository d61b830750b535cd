package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PowerupType tags a powerup effect.
type PowerupType string

const (
	PowerupRandomChars PowerupType = "random_chars"
	PowerupScoreBash   PowerupType = "score_bash"
	PowerupRollDice    PowerupType = "roll_dice"
	PowerupEarlyLock   PowerupType = "early_lock"
	PowerupHardToRead  PowerupType = "hard_to_read"
)

// PowerupEvent is an append-only audit record of one powerup use.
type PowerupEvent struct {
	ID           uuid.UUID       `json:"id"`
	SessionID    uuid.UUID       `json:"session_id"`
	TeamID       uuid.UUID       `json:"team_id"`
	TargetTeamID *uuid.UUID      `json:"target_team_id"`
	PowerupType  PowerupType     `json:"powerup_type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Targets reports whether the event was aimed at team.
func (e PowerupEvent) Targets(team uuid.UUID) bool {
	return e.TargetTeamID != nil && *e.TargetTeamID == team
}
