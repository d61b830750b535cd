package powerups

import (
	"slices"

	"github.com/mcdev12/classroom/go/internal/models"
)

// Info describes one powerup for display and validation.
type Info struct {
	Type        models.PowerupType `json:"type" yaml:"type"`
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description" yaml:"description"`
	NeedsTarget bool               `json:"needs_target" yaml:"needs_target"`
}

var catalog = []Info{
	{
		Type:        models.PowerupRandomChars,
		Name:        "Random Characters",
		Description: "Inject random characters into target team's answer",
		NeedsTarget: true,
	},
	{
		Type:        models.PowerupScoreBash,
		Name:        "Score Bash",
		Description: "Reduce target team's modifier by 10%",
		NeedsTarget: true,
	},
	{
		Type:        models.PowerupRollDice,
		Name:        "Roll the Dice",
		Description: "50% chance: +20% modifier, 50% chance: -10% modifier",
	},
	{
		Type:        models.PowerupEarlyLock,
		Name:        "Early Lock",
		Description: "Lock target team's answer 30 seconds before time ends",
		NeedsTarget: true,
	},
	{
		Type:        models.PowerupHardToRead,
		Name:        "Hard to Read",
		Description: "Force an unreadable theme on target team until the question ends",
		NeedsTarget: true,
	},
}

// Catalog returns every known powerup in display order.
func Catalog() []Info {
	return slices.Clone(catalog)
}

// Lookup returns the catalog entry for t.
func Lookup(t models.PowerupType) (Info, bool) {
	for _, info := range catalog {
		if info.Type == t {
			return info, true
		}
	}
	return Info{}, false
}

// DisplayName falls back to the raw type for unknown powerups.
func DisplayName(t models.PowerupType) string {
	if info, ok := Lookup(t); ok {
		return info.Name
	}
	return string(t)
}

// Types lists every known powerup type.
func Types() []models.PowerupType {
	out := make([]models.PowerupType, len(catalog))
	for i, info := range catalog {
		out[i] = info.Type
	}
	return out
}
