package classroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/persistence"
)

// appendRetries bounds compare-and-set attempts when appending to an answer
// that another client is editing at the same time.
const appendRetries = 3

// Repository implements typed access to the five game collections over a persistence.Client.
type Repository struct {
	db    persistence.Client
	clock clockwork.Clock
}

// NewRepository creates a new classroom repository
func NewRepository(db persistence.Client, clock clockwork.Clock) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Repository{db: db, clock: clock}
}

func (r *Repository) now() time.Time {
	return r.clock.Now().UTC()
}

// CreateSession creates a session with the given join code.
func (r *Repository) CreateSession(ctx context.Context, code string, startedAt *time.Time) (*models.Session, error) {
	rec, err := r.db.Create(ctx, persistence.TableSessions, persistence.Record{
		"session_code": code,
		"started_at":   startedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return decode[models.Session](rec)
}

// GetSession retrieves a session by ID
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return first[models.Session](ctx, r.db, persistence.TableSessions, ErrSessionNotFound, persistence.Eq("id", id))
}

// GetSessionByCode retrieves a session by its join code
func (r *Repository) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	return first[models.Session](ctx, r.db, persistence.TableSessions, ErrSessionNotFound, persistence.Eq("session_code", code))
}

// CreateTeam creates a team with the starting score and an empty inventory.
func (r *Repository) CreateTeam(ctx context.Context, sessionID uuid.UUID, name string) (*models.Team, error) {
	rec, err := r.db.Create(ctx, persistence.TableTeams, persistence.Record{
		"session_id":   sessionID,
		"team_name":    name,
		"score":        models.StartingScore,
		"powerups":     []models.PowerupType{},
		"forced_theme": nil,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create team: %w", err)
	}
	return decode[models.Team](rec)
}

// GetTeams lists a session's teams in join order.
func (r *Repository) GetTeams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error) {
	q := persistence.Where(persistence.Eq("session_id", sessionID)).OrderBy("created_at")
	return list[models.Team](ctx, r.db, persistence.TableTeams, q)
}

// GetTeam retrieves a team by ID
func (r *Repository) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	return first[models.Team](ctx, r.db, persistence.TableTeams, ErrTeamNotFound, persistence.Eq("id", id))
}

// GetTeamByName retrieves a team by name within a session
func (r *Repository) GetTeamByName(ctx context.Context, sessionID uuid.UUID, name string) (*models.Team, error) {
	return first[models.Team](ctx, r.db, persistence.TableTeams, ErrTeamNotFound,
		persistence.Eq("session_id", sessionID), persistence.Eq("team_name", name))
}

// SetTeamScore overwrites a team's score.
func (r *Repository) SetTeamScore(ctx context.Context, id uuid.UUID, score int) (*models.Team, error) {
	return r.updateTeam(ctx, id, persistence.Record{"score": score})
}

// UpdateTeamScore adds delta to the team's current score. The read and the
// write are separate calls; concurrent adjustments are last-write-wins.
func (r *Repository) UpdateTeamScore(ctx context.Context, id uuid.UUID, delta int) (*models.Team, error) {
	team, err := r.GetTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.SetTeamScore(ctx, id, team.Score+delta)
}

// SetPowerups overwrites a team's inventory.
func (r *Repository) SetPowerups(ctx context.Context, id uuid.UUID, powerups []models.PowerupType) (*models.Team, error) {
	if powerups == nil {
		powerups = []models.PowerupType{}
	}
	return r.updateTeam(ctx, id, persistence.Record{"powerups": powerups})
}

// UpdateScoreAndPowerups writes both fields in one call, used by purchases.
func (r *Repository) UpdateScoreAndPowerups(ctx context.Context, id uuid.UUID, score int, powerups []models.PowerupType) (*models.Team, error) {
	if powerups == nil {
		powerups = []models.PowerupType{}
	}
	return r.updateTeam(ctx, id, persistence.Record{"score": score, "powerups": powerups})
}

// SetForcedTheme sets or, with nil, clears a team's forced theme.
func (r *Repository) SetForcedTheme(ctx context.Context, id uuid.UUID, theme *string) (*models.Team, error) {
	return r.updateTeam(ctx, id, persistence.Record{"forced_theme": theme})
}

// ClearForcedThemes removes every forced theme in the session.
func (r *Repository) ClearForcedThemes(ctx context.Context, sessionID uuid.UUID) error {
	teams, err := r.GetTeams(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, team := range teams {
		if team.ForcedTheme == nil {
			continue
		}
		if _, err := r.SetForcedTheme(ctx, team.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) updateTeam(ctx context.Context, id uuid.UUID, fields persistence.Record) (*models.Team, error) {
	rec, err := r.db.Update(ctx, persistence.TableTeams, id.String(), fields)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("team %s: %w", id, ErrTeamNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update team: %w", err)
	}
	return decode[models.Team](rec)
}

// CreateQuestion creates an inactive question.
func (r *Repository) CreateQuestion(ctx context.Context, sessionID uuid.UUID, text string, timeLimitSeconds int) (*models.Question, error) {
	rec, err := r.db.Create(ctx, persistence.TableQuestions, persistence.Record{
		"session_id":         sessionID,
		"text":               text,
		"time_limit_seconds": timeLimitSeconds,
		"is_active":          false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}
	return decode[models.Question](rec)
}

// GetQuestion retrieves a question by ID
func (r *Repository) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	return first[models.Question](ctx, r.db, persistence.TableQuestions, ErrQuestionNotFound, persistence.Eq("id", id))
}

// GetActiveQuestion returns the session's active question, or nil when none is running.
func (r *Repository) GetActiveQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error) {
	q := persistence.Where(
		persistence.Eq("session_id", sessionID),
		persistence.Eq("is_active", true),
	).OrderByDesc("started_at").WithLimit(1)
	return optional[models.Question](ctx, r.db, persistence.TableQuestions, q)
}

// GetMostRecentQuestion returns the last question created in the session, active or not.
func (r *Repository) GetMostRecentQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error) {
	q := persistence.Where(persistence.Eq("session_id", sessionID)).OrderByDesc("created_at").WithLimit(1)
	return optional[models.Question](ctx, r.db, persistence.TableQuestions, q)
}

// StartQuestion marks a question active from now.
func (r *Repository) StartQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	now := r.now()
	return r.updateQuestion(ctx, id, persistence.Record{
		"is_active":  true,
		"started_at": now,
		"ended_at":   nil,
	})
}

// EndQuestion deactivates a question and stamps ended_at.
func (r *Repository) EndQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	now := r.now()
	return r.updateQuestion(ctx, id, persistence.Record{
		"is_active": false,
		"ended_at":  now,
	})
}

func (r *Repository) updateQuestion(ctx context.Context, id uuid.UUID, fields persistence.Record) (*models.Question, error) {
	rec, err := r.db.Update(ctx, persistence.TableQuestions, id.String(), fields)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("question %s: %w", id, ErrQuestionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}
	return decode[models.Question](rec)
}

// GetAnswer returns the team's answer to a question, or nil if none exists yet.
func (r *Repository) GetAnswer(ctx context.Context, questionID, teamID uuid.UUID) (*models.Answer, error) {
	q := persistence.Where(persistence.Eq("question_id", questionID), persistence.Eq("team_id", teamID)).WithLimit(1)
	return optional[models.Answer](ctx, r.db, persistence.TableAnswers, q)
}

// GetAnswerByID retrieves an answer by ID
func (r *Repository) GetAnswerByID(ctx context.Context, id uuid.UUID) (*models.Answer, error) {
	return first[models.Answer](ctx, r.db, persistence.TableAnswers, ErrAnswerNotFound, persistence.Eq("id", id))
}

// CreateAnswer creates an empty, unlocked answer.
func (r *Repository) CreateAnswer(ctx context.Context, sessionID, questionID, teamID uuid.UUID) (*models.Answer, error) {
	now := r.now()
	rec, err := r.db.Create(ctx, persistence.TableAnswers, persistence.Record{
		"session_id":  sessionID,
		"question_id": questionID,
		"team_id":     teamID,
		"answer":      "",
		"locked":      false,
		"updated_at":  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	return decode[models.Answer](rec)
}

// GetOrCreateAnswer returns the one answer for (question, team), creating it on first access.
func (r *Repository) GetOrCreateAnswer(ctx context.Context, sessionID, questionID, teamID uuid.UUID) (*models.Answer, error) {
	answer, err := r.GetAnswer(ctx, questionID, teamID)
	if err != nil {
		return nil, err
	}
	if answer != nil {
		return answer, nil
	}
	answer, err = r.CreateAnswer(ctx, sessionID, questionID, teamID)
	if errors.Is(err, persistence.ErrConflict) {
		// Created by another client between our read and write.
		answer, err = r.GetAnswer(ctx, questionID, teamID)
		if err == nil && answer == nil {
			err = fmt.Errorf("question %s team %s: %w", questionID, teamID, ErrAnswerNotFound)
		}
	}
	return answer, err
}

// UpdateAnswerText replaces the answer text. It fails with ErrAnswerLocked
// once the answer is locked.
func (r *Repository) UpdateAnswerText(ctx context.Context, id uuid.UUID, text string) (*models.Answer, error) {
	rec, err := r.db.Update(ctx, persistence.TableAnswers, id.String(), persistence.Record{
		"answer":     text,
		"updated_at": r.now(),
	}, persistence.Eq("locked", false))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, r.lockedOrMissing(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update answer: %w", err)
	}
	return decode[models.Answer](rec)
}

// AppendToAnswer appends suffix to the current text of an unlocked answer.
// The write is conditional on the text not having changed since it was read.
func (r *Repository) AppendToAnswer(ctx context.Context, id uuid.UUID, suffix string) (*models.Answer, error) {
	for attempt := 0; attempt < appendRetries; attempt++ {
		current, err := r.GetAnswerByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Locked {
			return nil, ErrAnswerLocked
		}
		rec, err := r.db.Update(ctx, persistence.TableAnswers, id.String(), persistence.Record{
			"answer":     current.Answer + suffix,
			"updated_at": r.now(),
		}, persistence.Eq("locked", false), persistence.Eq("answer", current.Answer))
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to append to answer: %w", err)
		}
		return decode[models.Answer](rec)
	}
	return nil, r.lockedOrMissing(ctx, id)
}

// LockAnswer locks an answer and stamps submitted_at. Locking an already locked
// answer changes nothing; the boolean reports whether this call made the transition.
func (r *Repository) LockAnswer(ctx context.Context, id uuid.UUID) (*models.Answer, bool, error) {
	now := r.now()
	rec, err := r.db.Update(ctx, persistence.TableAnswers, id.String(), persistence.Record{
		"locked":       true,
		"submitted_at": now,
		"updated_at":   now,
	}, persistence.Eq("locked", false))
	if errors.Is(err, persistence.ErrNotFound) {
		existing, getErr := r.GetAnswerByID(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock answer: %w", err)
	}
	answer, err := decode[models.Answer](rec)
	return answer, err == nil, err
}

// ListAnswersForQuestion lists every team's answer to a question.
func (r *Repository) ListAnswersForQuestion(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error) {
	q := persistence.Where(persistence.Eq("question_id", questionID)).OrderBy("created_at")
	return list[models.Answer](ctx, r.db, persistence.TableAnswers, q)
}

func (r *Repository) lockedOrMissing(ctx context.Context, id uuid.UUID) error {
	answer, err := r.GetAnswerByID(ctx, id)
	if err != nil {
		return err
	}
	if answer.Locked {
		return ErrAnswerLocked
	}
	return fmt.Errorf("answer %s changed concurrently", id)
}

// CreatePowerupEvent appends an event to the audit log.
func (r *Repository) CreatePowerupEvent(ctx context.Context, event models.PowerupEvent) (*models.PowerupEvent, error) {
	payload := event.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	rec, err := r.db.Create(ctx, persistence.TablePowerupEvents, persistence.Record{
		"session_id":     event.SessionID,
		"team_id":        event.TeamID,
		"target_team_id": event.TargetTeamID,
		"powerup_type":   event.PowerupType,
		"payload":        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create powerup event: %w", err)
	}
	return decode[models.PowerupEvent](rec)
}

// ListPowerupEventsSince returns the session's events created strictly after since, oldest first.
func (r *Repository) ListPowerupEventsSince(ctx context.Context, sessionID uuid.UUID, since time.Time) ([]models.PowerupEvent, error) {
	q := persistence.Where(
		persistence.Eq("session_id", sessionID),
		persistence.Gt("created_at", since.UTC()),
	).OrderBy("created_at")
	return list[models.PowerupEvent](ctx, r.db, persistence.TablePowerupEvents, q)
}

// LatestPowerupEvent returns the session's newest event, or nil when there is none.
func (r *Repository) LatestPowerupEvent(ctx context.Context, sessionID uuid.UUID) (*models.PowerupEvent, error) {
	q := persistence.Where(persistence.Eq("session_id", sessionID)).OrderByDesc("created_at").WithLimit(1)
	return optional[models.PowerupEvent](ctx, r.db, persistence.TablePowerupEvents, q)
}

func decode[T any](rec persistence.Record) (*T, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &out, nil
}

func list[T any](ctx context.Context, db persistence.Client, table persistence.Table, q persistence.Query) ([]T, error) {
	recs, err := db.List(ctx, table, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func optional[T any](ctx context.Context, db persistence.Client, table persistence.Table, q persistence.Query) (*T, error) {
	items, err := list[T](ctx, db, table, q)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func first[T any](ctx context.Context, db persistence.Client, table persistence.Table, notFound error, filters ...persistence.Filter) (*T, error) {
	item, err := optional[T](ctx, db, table, persistence.Where(filters...).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, notFound
	}
	return item, nil
}
