package models

import (
	"time"

	"github.com/google/uuid"
)

// Answer is a team's response to one question. There is one per (question, team).
// Once Locked is true the text never changes again.
type Answer struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   uuid.UUID  `json:"session_id"`
	QuestionID  uuid.UUID  `json:"question_id"`
	TeamID      uuid.UUID  `json:"team_id"`
	Answer      string     `json:"answer"`
	Locked      bool       `json:"locked"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
