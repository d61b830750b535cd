package models

import (
	"time"

	"github.com/google/uuid"
)

// Question is a prompt the host runs against a countdown.
type Question struct {
	ID               uuid.UUID  `json:"id"`
	SessionID        uuid.UUID  `json:"session_id"`
	Text             string     `json:"text"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	IsActive         bool       `json:"is_active"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Clone returns a copy of q that shares no pointers with it.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	out := *q
	if q.StartedAt != nil {
		started := *q.StartedAt
		out.StartedAt = &started
	}
	if q.EndedAt != nil {
		ended := *q.EndedAt
		out.EndedAt = &ended
	}
	return &out
}

// RemainingSeconds returns the whole seconds left on the question's clock at now.
// An unstarted question reports its full limit; the result is never negative.
func (q *Question) RemainingSeconds(now time.Time) int {
	if q.StartedAt == nil {
		return q.TimeLimitSeconds
	}
	elapsed := int(now.Sub(*q.StartedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return max(0, q.TimeLimitSeconds-elapsed)
}

// EndsAt returns the natural end of the question, or nil if it has not started.
func (q *Question) EndsAt() *time.Time {
	if q.StartedAt == nil {
		return nil
	}
	end := q.StartedAt.Add(time.Duration(q.TimeLimitSeconds) * time.Second)
	return &end
}
