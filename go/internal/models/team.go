package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// StartingScore is the modifier every team joins with.
const StartingScore = 10

// ThemeHardToRead is the illegible palette forced by the hard_to_read powerup.
const ThemeHardToRead = "hard_to_read"

// Team represents a team playing in a session.
type Team struct {
	ID          uuid.UUID     `json:"id"`
	SessionID   uuid.UUID     `json:"session_id"`
	Name        string        `json:"team_name"`
	Score       int           `json:"score"`
	Powerups    []PowerupType `json:"powerups"`
	ForcedTheme *string       `json:"forced_theme"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Team) Clone() Team {
	out := t
	out.Powerups = slices.Clone(t.Powerups)
	if t.ForcedTheme != nil {
		theme := *t.ForcedTheme
		out.ForcedTheme = &theme
	}
	return out
}

// HasPowerup reports whether the inventory holds at least one instance of p.
func (t Team) HasPowerup(p PowerupType) bool {
	return slices.Contains(t.Powerups, p)
}

// RemoveOnePowerup removes exactly one instance of p from an inventory.
// The second return value is false when p was not present.
func RemoveOnePowerup(inventory []PowerupType, p PowerupType) ([]PowerupType, bool) {
	idx := slices.Index(inventory, p)
	if idx < 0 {
		return slices.Clone(inventory), false
	}
	out := make([]PowerupType, 0, len(inventory)-1)
	out = append(out, inventory[:idx]...)
	out = append(out, inventory[idx+1:]...)
	return out, true
}

// SameTeamState reports whether two team records would render identically:
// same id, name, score, forced theme and powerup list.
func SameTeamState(a, b Team) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Score != b.Score {
		return false
	}
	if !slices.Equal(a.Powerups, b.Powerups) {
		return false
	}
	switch {
	case a.ForcedTheme == nil && b.ForcedTheme == nil:
		return true
	case a.ForcedTheme == nil || b.ForcedTheme == nil:
		return false
	default:
		return *a.ForcedTheme == *b.ForcedTheme
	}
}
