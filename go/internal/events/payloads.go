package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/classroom/go/internal/models"
)

// Powerup event payloads live here so that both the engine that writes them
// and the sync loop that reads them share one definition.

var (
	ErrUnknownPowerup   = errors.New("unknown powerup type")
	ErrMalformedPayload = errors.New("malformed powerup payload")
)

// Payload is implemented by every powerup payload variant.
type Payload interface {
	PowerupType() models.PowerupType
	validate() error
}

// RandomCharsPayload records characters appended to the target's answer.
type RandomCharsPayload struct {
	TargetTeamID    uuid.UUID `json:"targetTeamId"`
	InjectedChars   string    `json:"injectedChars"`
	IntervalSeconds int       `json:"intervalSeconds"`
}

// ScoreBashPayload records the points taken from the target.
type ScoreBashPayload struct {
	TargetTeamID   uuid.UUID `json:"targetTeamId"`
	ScoreReduction int       `json:"scoreReduction"`
}

// RollDicePayload records the caster's own score swing.
type RollDicePayload struct {
	ScoreChange int  `json:"scoreChange"`
	Success     bool `json:"success"`
}

// EarlyLockPayload records when the target's answer locks. Immediate is true
// when the lock was applied at cast time.
type EarlyLockPayload struct {
	TargetTeamID uuid.UUID `json:"targetTeamId"`
	LockAt       time.Time `json:"lockedAt"`
	Immediate    bool      `json:"immediate"`
}

// HardToReadPayload records the theme forced on the target.
type HardToReadPayload struct {
	TargetTeamID uuid.UUID `json:"targetTeamId"`
	Theme        string    `json:"theme"`
}

func (RandomCharsPayload) PowerupType() models.PowerupType { return models.PowerupRandomChars }
func (ScoreBashPayload) PowerupType() models.PowerupType { return models.PowerupScoreBash }
func (RollDicePayload) PowerupType() models.PowerupType { return models.PowerupRollDice }
func (EarlyLockPayload) PowerupType() models.PowerupType { return models.PowerupEarlyLock }
func (HardToReadPayload) PowerupType() models.PowerupType { return models.PowerupHardToRead }

func (p RandomCharsPayload) validate() error {
	if p.TargetTeamID == uuid.Nil {
		return errors.New("missing targetTeamId")
	}
	if p.InjectedChars == "" {
		return errors.New("missing injectedChars")
	}
	return nil
}

func (p ScoreBashPayload) validate() error {
	if p.TargetTeamID == uuid.Nil {
		return errors.New("missing targetTeamId")
	}
	if p.ScoreReduction <= 0 {
		return fmt.Errorf("scoreReduction must be positive, got %d", p.ScoreReduction)
	}
	return nil
}

func (p RollDicePayload) validate() error {
	if p.ScoreChange == 0 {
		return errors.New("scoreChange must be non-zero")
	}
	if p.Success != (p.ScoreChange > 0) {
		return errors.New("success does not match the sign of scoreChange")
	}
	return nil
}

func (p EarlyLockPayload) validate() error {
	if p.TargetTeamID == uuid.Nil {
		return errors.New("missing targetTeamId")
	}
	if p.LockAt.IsZero() {
		return errors.New("missing lockedAt")
	}
	return nil
}

func (p HardToReadPayload) validate() error {
	if p.TargetTeamID == uuid.Nil {
		return errors.New("missing targetTeamId")
	}
	if p.Theme == "" {
		return errors.New("missing theme")
	}
	return nil
}

// EncodePayload validates p and renders it for a PowerupEvent.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", p.PowerupType(), ErrMalformedPayload, err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", p.PowerupType(), ErrMalformedPayload, err)
	}
	return raw, nil
}

// DecodePayload parses the payload of an event into its typed variant.
func DecodePayload(t models.PowerupType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case models.PowerupRandomChars:
		p = decodeInto[RandomCharsPayload](raw)
	case models.PowerupScoreBash:
		p = decodeInto[ScoreBashPayload](raw)
	case models.PowerupRollDice:
		p = decodeInto[RollDicePayload](raw)
	case models.PowerupEarlyLock:
		p = decodeInto[EarlyLockPayload](raw)
	case models.PowerupHardToRead:
		p = decodeInto[HardToReadPayload](raw)
	default:
		return nil, fmt.Errorf("%q: %w", t, ErrUnknownPowerup)
	}
	if p == nil {
		return nil, fmt.Errorf("%s: %w: not a JSON object", t, ErrMalformedPayload)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", t, ErrMalformedPayload, err)
	}
	return p, nil
}

// DecodeEvent is DecodePayload for a stored event.
func DecodeEvent(e models.PowerupEvent) (Payload, error) {
	return DecodePayload(e.PowerupType, e.Payload)
}

func decodeInto[T Payload](raw json.RawMessage) Payload {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
