// Package powerups buys and applies powerups and keeps the audit log.
package powerups

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/classroom"
	"github.com/mcdev12/classroom/go/internal/events"
	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/realtime"
	"github.com/mcdev12/classroom/go/internal/scheduler"
)

var (
	ErrInsufficientFunds = errors.New("not enough points to buy a powerup")
	ErrPowerupNotOwned   = errors.New("powerup not in inventory")
	ErrTargetRequired    = errors.New("target team required")
	ErrSelfTarget        = errors.New("cannot target your own team")
	ErrTargetLocked      = errors.New("target team's answer is already locked")
	ErrNoActiveQuestion  = errors.New("no active question")
	ErrPowerupDisabled   = errors.New("powerup is disabled")

	ErrUnknownPowerup = events.ErrUnknownPowerup
	ErrTeamNotFound   = classroom.ErrTeamNotFound
)

// injectionChars is the alphabet for random_chars.
const injectionChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// Repository is the persistence the engine acts through.
type Repository interface {
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	UpdateTeamScore(ctx context.Context, id uuid.UUID, delta int) (*models.Team, error)
	SetPowerups(ctx context.Context, id uuid.UUID, powerups []models.PowerupType) (*models.Team, error)
	UpdateScoreAndPowerups(ctx context.Context, id uuid.UUID, score int, powerups []models.PowerupType) (*models.Team, error)
	SetForcedTheme(ctx context.Context, id uuid.UUID, theme *string) (*models.Team, error)
	GetActiveQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error)
	GetOrCreateAnswer(ctx context.Context, sessionID, questionID, teamID uuid.UUID) (*models.Answer, error)
	AppendToAnswer(ctx context.Context, id uuid.UUID, suffix string) (*models.Answer, error)
	LockAnswer(ctx context.Context, id uuid.UUID) (*models.Answer, bool, error)
	CreatePowerupEvent(ctx context.Context, event models.PowerupEvent) (*models.PowerupEvent, error)
}

type Config struct {
	// Cost is deducted from the buyer's score.
	Cost              int
	InjectionInterval time.Duration
	InjectionLength   int
	// EarlyLockLead is how long before the natural end an early lock fires.
	EarlyLockLead time.Duration
	// Enabled limits which powerups can be bought. Empty means all.
	Enabled []models.PowerupType
	// WriteTimeout bounds the writes made from scheduled effects.
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cost:              3,
		InjectionInterval: 10 * time.Second,
		InjectionLength:   3,
		EarlyLockLead:     30 * time.Second,
		WriteTimeout:      3 * time.Second,
	}
}

// Engine applies powerups on behalf of the local team.
type Engine struct {
	repo     Repository
	clock    clockwork.Clock
	tasks    *scheduler.Scheduler
	rng      classroom.RandSource
	notifier realtime.Notifier
	cfg      Config
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// NewEngine wires an engine. A nil rng uses the global generator and a nil
// notifier disables nudges.
func NewEngine(repo Repository, clock clockwork.Clock, rng classroom.RandSource, notifier realtime.Notifier, cfg Config) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rng == nil {
		rng = globalRand{}
	}
	if notifier == nil {
		notifier = realtime.NoopNotifier{}
	}
	return &Engine{
		repo:     repo,
		clock:    clock,
		tasks:    scheduler.New(clock),
		rng:      rng,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Available lists the powerups that can currently be bought.
func (e *Engine) Available() []Info {
	var out []Info
	for _, info := range catalog {
		if e.enabled(info.Type) {
			out = append(out, info)
		}
	}
	return out
}

func (e *Engine) enabled(t models.PowerupType) bool {
	return len(e.cfg.Enabled) == 0 || slices.Contains(e.cfg.Enabled, t)
}

// Buy deducts the cost from the team's score and adds a powerup to its
// inventory. An empty choice grants a random enabled powerup.
func (e *Engine) Buy(ctx context.Context, teamID uuid.UUID, choice models.PowerupType) (models.PowerupType, error) {
	if choice == "" {
		avail := e.Available()
		if len(avail) == 0 {
			return "", ErrPowerupDisabled
		}
		choice = avail[e.rng.IntN(len(avail))].Type
	}
	if _, ok := Lookup(choice); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPowerup, choice)
	}
	if !e.enabled(choice) {
		return "", fmt.Errorf("%w: %s", ErrPowerupDisabled, choice)
	}

	team, err := e.repo.GetTeam(ctx, teamID)
	if err != nil {
		return "", err
	}
	if team.Score < e.cfg.Cost {
		return "", fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, team.Score, e.cfg.Cost)
	}

	inventory := append(slices.Clone(team.Powerups), choice)
	if _, err := e.repo.UpdateScoreAndPowerups(ctx, teamID, team.Score-e.cfg.Cost, inventory); err != nil {
		return "", fmt.Errorf("failed to buy powerup: %w", err)
	}

	log.Info().
		Str("team_id", teamID.String()).
		Str("powerup", string(choice)).
		Int("cost", e.cfg.Cost).
		Msg("powerup bought")
	e.notifier.Publish(ctx, team.SessionID, realtime.ResourceTeams)
	return choice, nil
}

// Use applies a powerup owned by the caster. The inventory is only touched
// after the effect succeeded and the event was written; exactly one instance
// is removed.
func (e *Engine) Use(ctx context.Context, casterID uuid.UUID, t models.PowerupType, targetID uuid.UUID) (*models.PowerupEvent, error) {
	info, ok := Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPowerup, t)
	}
	caster, err := e.repo.GetTeam(ctx, casterID)
	if err != nil {
		return nil, err
	}
	if !caster.HasPowerup(t) {
		return nil, fmt.Errorf("%w: %s", ErrPowerupNotOwned, t)
	}

	var target *models.Team
	if info.NeedsTarget {
		if targetID == uuid.Nil {
			return nil, fmt.Errorf("%w for %s", ErrTargetRequired, t)
		}
		if targetID == casterID {
			return nil, ErrSelfTarget
		}
		target, err = e.repo.GetTeam(ctx, targetID)
		if err != nil {
			return nil, err
		}
		if target.SessionID != caster.SessionID {
			return nil, fmt.Errorf("target %s: %w", targetID, ErrTeamNotFound)
		}
	}

	payload, err := e.apply(ctx, t, caster, target)
	if err != nil {
		return nil, err
	}
	raw, err := events.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	record := models.PowerupEvent{
		SessionID:   caster.SessionID,
		TeamID:      casterID,
		PowerupType: t,
		Payload:     raw,
	}
	if target != nil {
		record.TargetTeamID = &target.ID
	}
	saved, err := e.repo.CreatePowerupEvent(ctx, record)
	if err != nil {
		return nil, err
	}

	// Re-read: roll_dice has just changed the caster's score.
	caster, err = e.repo.GetTeam(ctx, casterID)
	if err != nil {
		return nil, err
	}
	if inventory, removed := models.RemoveOnePowerup(caster.Powerups, t); removed {
		if _, err := e.repo.SetPowerups(ctx, casterID, inventory); err != nil {
			return nil, fmt.Errorf("failed to update inventory: %w", err)
		}
	}

	log.Info().
		Str("team_id", casterID.String()).
		Str("powerup", string(t)).
		Msg("powerup used")
	e.notifier.Publish(ctx, caster.SessionID, realtime.ResourcePowerups, realtime.ResourceTeams, realtime.ResourceAnswers)
	return saved, nil
}

func (e *Engine) apply(ctx context.Context, t models.PowerupType, caster, target *models.Team) (events.Payload, error) {
	switch t {
	case models.PowerupRandomChars:
		return e.randomChars(ctx, target)
	case models.PowerupScoreBash:
		return e.scoreBash(ctx, target)
	case models.PowerupRollDice:
		return e.rollDice(ctx, caster)
	case models.PowerupEarlyLock:
		return e.earlyLock(ctx, target)
	case models.PowerupHardToRead:
		return e.hardToRead(ctx, target)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPowerup, t)
}

// targetAnswer returns the active question and the target's answer, which
// must still be open.
func (e *Engine) targetAnswer(ctx context.Context, target *models.Team) (*models.Question, *models.Answer, error) {
	q, err := e.repo.GetActiveQuestion(ctx, target.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if q == nil {
		return nil, nil, ErrNoActiveQuestion
	}
	answer, err := e.repo.GetOrCreateAnswer(ctx, target.SessionID, q.ID, target.ID)
	if err != nil {
		return nil, nil, err
	}
	if answer.Locked {
		return nil, nil, ErrTargetLocked
	}
	return q, answer, nil
}

func (e *Engine) randomChars(ctx context.Context, target *models.Team) (events.Payload, error) {
	q, answer, err := e.targetAnswer(ctx, target)
	if err != nil {
		return nil, err
	}
	chars := e.generateChars(e.cfg.InjectionLength)
	if _, err := e.repo.AppendToAnswer(ctx, answer.ID, chars); err != nil {
		if errors.Is(err, classroom.ErrAnswerLocked) {
			return nil, ErrTargetLocked
		}
		return nil, err
	}

	sessionID, answerID := target.SessionID, answer.ID
	key := taskKey(q.ID, models.PowerupRandomChars, target.ID)
	e.tasks.ScheduleEvery(key, e.cfg.InjectionInterval, func() {
		e.inject(key, sessionID, q.ID, answerID)
	})

	return events.RandomCharsPayload{
		TargetTeamID:    target.ID,
		InjectedChars:   chars,
		IntervalSeconds: int(e.cfg.InjectionInterval / time.Second),
	}, nil
}

// inject is one repeat of random_chars. It stops once the question is no
// longer active or the answer has locked.
func (e *Engine) inject(key string, sessionID, questionID, answerID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
	defer cancel()

	q, err := e.repo.GetActiveQuestion(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("injection skipped, could not read question")
		return
	}
	if q == nil || q.ID != questionID {
		log.Info().Str("question_id", questionID.String()).Msg("question over, stopping injection")
		e.tasks.Cancel(key)
		return
	}
	_, err = e.repo.AppendToAnswer(ctx, answerID, e.generateChars(e.cfg.InjectionLength))
	if errors.Is(err, classroom.ErrAnswerLocked) {
		log.Info().Str("answer_id", answerID.String()).Msg("answer locked, stopping injection")
		e.tasks.Cancel(key)
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("injection failed")
		return
	}
	e.notifier.Publish(ctx, sessionID, realtime.ResourceAnswers)
}

func (e *Engine) generateChars(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(injectionChars[e.rng.IntN(len(injectionChars))])
	}
	return b.String()
}

func (e *Engine) scoreBash(ctx context.Context, target *models.Team) (events.Payload, error) {
	reduction := max(1, abs(target.Score)/10)
	if _, err := e.repo.UpdateTeamScore(ctx, target.ID, -reduction); err != nil {
		return nil, err
	}
	return events.ScoreBashPayload{TargetTeamID: target.ID, ScoreReduction: reduction}, nil
}

func (e *Engine) rollDice(ctx context.Context, caster *models.Team) (events.Payload, error) {
	success := e.rng.IntN(2) == 0
	change := -max(1, abs(caster.Score)/10)
	if success {
		change = max(1, abs(caster.Score)/5)
	}
	if _, err := e.repo.UpdateTeamScore(ctx, caster.ID, change); err != nil {
		return nil, err
	}
	return events.RollDicePayload{ScoreChange: change, Success: success}, nil
}

func (e *Engine) earlyLock(ctx context.Context, target *models.Team) (events.Payload, error) {
	q, answer, err := e.targetAnswer(ctx, target)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	lead := int(e.cfg.EarlyLockLead / time.Second)

	if q.RemainingSeconds(now) <= lead {
		if _, _, err := e.repo.LockAnswer(ctx, answer.ID); err != nil {
			return nil, err
		}
		return events.EarlyLockPayload{TargetTeamID: target.ID, LockAt: now, Immediate: true}, nil
	}

	started := now
	if q.StartedAt != nil {
		started = *q.StartedAt
	}
	lockAt := started.Add(time.Duration(q.TimeLimitSeconds)*time.Second - e.cfg.EarlyLockLead)
	sessionID, questionID, answerID := target.SessionID, q.ID, answer.ID
	e.tasks.ScheduleOnce(taskKey(q.ID, models.PowerupEarlyLock, target.ID), lockAt.Sub(now), func() {
		e.delayedLock(sessionID, questionID, answerID)
	})
	return events.EarlyLockPayload{TargetTeamID: target.ID, LockAt: lockAt}, nil
}

// delayedLock re-checks the question before locking; a lock made by another
// path in the meantime is left alone.
func (e *Engine) delayedLock(sessionID, questionID, answerID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
	defer cancel()

	q, err := e.repo.GetActiveQuestion(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("early lock skipped, could not read question")
		return
	}
	if q == nil || q.ID != questionID {
		log.Info().Str("question_id", questionID.String()).Msg("question over, early lock skipped")
		return
	}
	_, changed, err := e.repo.LockAnswer(ctx, answerID)
	if err != nil {
		log.Warn().Err(err).Msg("early lock failed")
		return
	}
	if !changed {
		log.Info().Str("answer_id", answerID.String()).Msg("answer already locked, early lock skipped")
		return
	}
	log.Info().Str("answer_id", answerID.String()).Msg("early lock applied")
	e.notifier.Publish(ctx, sessionID, realtime.ResourceAnswers)
}

func (e *Engine) hardToRead(ctx context.Context, target *models.Team) (events.Payload, error) {
	theme := models.ThemeHardToRead
	if _, err := e.repo.SetForcedTheme(ctx, target.ID, &theme); err != nil {
		return nil, err
	}
	return events.HardToReadPayload{TargetTeamID: target.ID, Theme: theme}, nil
}

func taskKey(questionID uuid.UUID, t models.PowerupType, target uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", questionID, t, target)
}

// Pending reports whether a scheduled effect of type t is waiting on target.
func (e *Engine) Pending(questionID uuid.UUID, t models.PowerupType, target uuid.UUID) bool {
	return e.tasks.Active(taskKey(questionID, t, target))
}

// CancelQuestion stops every scheduled effect for a question.
func (e *Engine) CancelQuestion(questionID uuid.UUID) {
	if n := e.tasks.CancelPrefix(questionID.String() + ":"); n > 0 {
		log.Debug().Str("question_id", questionID.String()).Int("tasks", n).Msg("cancelled scheduled powerups")
	}
}

// Close cancels every scheduled effect.
func (e *Engine) Close() {
	e.tasks.CancelAll()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
