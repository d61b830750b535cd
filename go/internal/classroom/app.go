package classroom

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/persistence"
)

// codeAttempts bounds retries when a freshly generated code is already taken.
const codeAttempts = 5

// GameRepository defines what the app layer needs from the repository
type GameRepository interface {
	CreateSession(ctx context.Context, code string, startedAt *time.Time) (*models.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*models.Session, error)
	CreateTeam(ctx context.Context, sessionID uuid.UUID, name string) (*models.Team, error)
	GetTeams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error)
	GetTeamByName(ctx context.Context, sessionID uuid.UUID, name string) (*models.Team, error)
	UpdateTeamScore(ctx context.Context, id uuid.UUID, delta int) (*models.Team, error)
	ClearForcedThemes(ctx context.Context, sessionID uuid.UUID) error
	CreateQuestion(ctx context.Context, sessionID uuid.UUID, text string, timeLimitSeconds int) (*models.Question, error)
	GetActiveQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error)
	GetMostRecentQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error)
	StartQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error)
	EndQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error)
	ListAnswersForQuestion(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error)
}

// App handles lobby and host business logic
type App struct {
	repo  GameRepository
	rng   RandSource
	clock clockwork.Clock
}

// NewApp creates a new classroom App. A nil rng uses the global generator.
func NewApp(repo GameRepository, rng RandSource, clock clockwork.Clock) *App {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{repo: repo, rng: rng, clock: clock}
}

// GenerateCode returns a random join code.
func (a *App) GenerateCode() string {
	var b strings.Builder
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(CodeAlphabet[a.rng.IntN(len(CodeAlphabet))])
	}
	return b.String()
}

// CreateSession creates a session with a fresh join code, started now.
func (a *App) CreateSession(ctx context.Context) (*models.Session, error) {
	now := a.clock.Now().UTC()
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := a.GenerateCode()
		if _, err := a.repo.GetSessionByCode(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, ErrSessionNotFound) {
			return nil, fmt.Errorf("failed to check session code: %w", err)
		}

		session, err := a.repo.CreateSession(ctx, code, &now)
		if errors.Is(err, persistence.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info().Str("session_id", session.ID.String()).Str("code", session.Code).Msg("created session")
		return session, nil
	}
	return nil, ErrCodeExhausted
}

// JoinSession attaches a team to the session with the given code, creating the
// team on first join. Joining again with the same name returns the existing team.
func (a *App) JoinSession(ctx context.Context, code, teamName string) (*models.Session, *models.Team, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	teamName = strings.TrimSpace(teamName)
	if code == "" {
		return nil, nil, ErrSessionCodeRequired
	}
	if teamName == "" {
		return nil, nil, ErrTeamNameRequired
	}

	session, err := a.repo.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("join %s: %w", code, err)
	}

	team, err := a.repo.GetTeamByName(ctx, session.ID, teamName)
	if err == nil {
		log.Info().Str("team", team.Name).Str("code", code).Msg("team rejoined session")
		return session, team, nil
	}
	if !errors.Is(err, ErrTeamNotFound) {
		return nil, nil, fmt.Errorf("failed to look up team: %w", err)
	}

	team, err = a.repo.CreateTeam(ctx, session.ID, teamName)
	if errors.Is(err, persistence.ErrConflict) {
		team, err = a.repo.GetTeamByName(ctx, session.ID, teamName)
	}
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("team", team.Name).Str("code", code).Msg("team joined session")
	return session, team, nil
}

// Teams lists the session's teams.
func (a *App) Teams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error) {
	return a.repo.GetTeams(ctx, sessionID)
}

// StartQuestion ends any question still active in the session, then creates
// and starts a new one.
func (a *App) StartQuestion(ctx context.Context, sessionID uuid.UUID, text string, timeLimitSeconds int) (*models.Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrQuestionTextRequired
	}
	if timeLimitSeconds <= 0 {
		return nil, ErrInvalidTimeLimit
	}

	active, err := a.repo.GetActiveQuestion(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active question: %w", err)
	}
	if active != nil {
		if err := a.EndQuestion(ctx, sessionID, active.ID); err != nil {
			return nil, err
		}
	}

	question, err := a.repo.CreateQuestion(ctx, sessionID, text, timeLimitSeconds)
	if err != nil {
		return nil, err
	}
	question, err = a.repo.StartQuestion(ctx, question.ID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("question_id", question.ID.String()).Int("time_limit", timeLimitSeconds).Msg("started question")
	return question, nil
}

// EndQuestion ends a question and clears every forced theme in the session.
func (a *App) EndQuestion(ctx context.Context, sessionID, questionID uuid.UUID) error {
	if _, err := a.repo.EndQuestion(ctx, questionID); err != nil {
		return err
	}
	if err := a.repo.ClearForcedThemes(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to clear forced themes")
	}
	log.Info().Str("question_id", questionID.String()).Msg("ended question")
	return nil
}

// ActiveQuestion returns the running question or nil.
func (a *App) ActiveQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error) {
	return a.repo.GetActiveQuestion(ctx, sessionID)
}

// MostRecentQuestion returns the latest question, active or ended, or nil.
func (a *App) MostRecentQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error) {
	return a.repo.GetMostRecentQuestion(ctx, sessionID)
}

// AdjustTeamScore applies a manual host adjustment.
func (a *App) AdjustTeamScore(ctx context.Context, teamID uuid.UUID, delta int) (*models.Team, error) {
	team, err := a.repo.UpdateTeamScore(ctx, teamID, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust score: %w", err)
	}
	log.Info().Str("team", team.Name).Int("delta", delta).Int("score", team.Score).Msg("adjusted team score")
	return team, nil
}

// AnswersForQuestion lists the submitted answers for review.
func (a *App) AnswersForQuestion(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error) {
	return a.repo.ListAnswersForQuestion(ctx, questionID)
}

// CopyAnswers renders one "Team: answer" line per answer, in a form the host can paste.
func (a *App) CopyAnswers(ctx context.Context, sessionID, questionID uuid.UUID) (string, error) {
	answers, err := a.repo.ListAnswersForQuestion(ctx, questionID)
	if err != nil {
		return "", err
	}
	teams, err := a.repo.GetTeams(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return FormatAnswers(answers, teams), nil
}

// FormatAnswers is the pure part of CopyAnswers.
func FormatAnswers(answers []models.Answer, teams []models.Team) string {
	names := make(map[uuid.UUID]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}
	lines := make([]string, 0, len(answers))
	for _, ans := range answers {
		name, ok := names[ans.TeamID]
		if !ok {
			name = "Unknown"
		}
		text := ans.Answer
		if strings.TrimSpace(text) == "" {
			text = "(no answer)"
		}
		lines = append(lines, name+": "+text)
	}
	return strings.Join(lines, "\n")
}
