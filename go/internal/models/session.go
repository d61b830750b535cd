package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one classroom game, joined by teams through its human-readable code.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	Code      string     `json:"session_code"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
