// Package agent wires the local game client together: the state store, the
// sync loop, the question timer, the answer controller, the powerup engine
// and the theme manager.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/answers"
	"github.com/mcdev12/classroom/go/internal/classroom"
	"github.com/mcdev12/classroom/go/internal/config"
	"github.com/mcdev12/classroom/go/internal/events"
	"github.com/mcdev12/classroom/go/internal/localstore"
	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/persistence"
	"github.com/mcdev12/classroom/go/internal/powerups"
	"github.com/mcdev12/classroom/go/internal/realtime"
	"github.com/mcdev12/classroom/go/internal/state"
	"github.com/mcdev12/classroom/go/internal/themes"
	"github.com/mcdev12/classroom/go/internal/timer"
)

var (
	ErrNotJoined      = errors.New("not joined to a team")
	ErrNotHost        = errors.New("only the host can do that")
	ErrNoSession      = errors.New("no session")
	ErrNoAnswer       = errors.New("no answer to lock")
	ErrUnknownCommand = errors.New("unknown command")
)

// Deps are the outside resources the agent runs on. Nil fields get in-memory
// or real-clock defaults.
type Deps struct {
	DB       persistence.Client
	Storage  localstore.Storage
	Notifier realtime.Notifier
	Clock    clockwork.Clock
	Rand     classroom.RandSource
}

// Agent is one participant's client, either the host or a team.
type Agent struct {
	cfg      config.Config
	clock    clockwork.Clock
	notifier realtime.Notifier

	Repo     *classroom.Repository
	Lobby    *classroom.App
	Store    *state.Store
	Bus      *events.Bus
	Timer    *timer.Countdown
	Answers  *answers.Controller
	Loop     *realtime.Loop
	Powerups *powerups.Engine
	Themes   *themes.Manager

	mu   sync.Mutex
	offs []func()
	subs []state.Subscription
	nsub *nats.Subscription
}

func New(cfg config.Config, deps Deps) *Agent {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.DB == nil {
		deps.DB = persistence.NewMemory(deps.Clock)
	}
	if deps.Storage == nil {
		deps.Storage = localstore.NewMemoryStorage()
	}
	if deps.Notifier == nil {
		deps.Notifier = realtime.NoopNotifier{}
	}

	a := &Agent{
		cfg:      cfg,
		clock:    deps.Clock,
		notifier: deps.Notifier,
		Bus:      events.NewBus(),
		Timer:    timer.New(deps.Clock),
	}
	a.Repo = classroom.NewRepository(deps.DB, deps.Clock)
	a.Lobby = classroom.NewApp(a.Repo, deps.Rand, deps.Clock)
	a.Store = state.New(deps.Storage, state.WithFetchTimeout(cfg.Polling.RequestTimeout))
	a.Answers = answers.NewController(a.Repo, deps.Clock, answers.Settings{
		TypingWindow:   cfg.Answers.TypingWindow,
		Debounce:       cfg.Answers.Debounce,
		BackupInterval: cfg.Answers.BackupInterval,
		WriteTimeout:   cfg.Polling.RequestTimeout,
	})
	a.Loop = realtime.NewLoop(a.Repo, a.Store, a.Timer, a.Answers, a.Bus, deps.Clock, realtime.Config{
		PollInterval:   cfg.Polling.Interval,
		RequestTimeout: cfg.Polling.RequestTimeout,
	})
	a.Powerups = powerups.NewEngine(a.Repo, deps.Clock, deps.Rand, deps.Notifier, powerupConfig(cfg))
	a.Themes = themes.NewManager(deps.Storage)

	a.subs = append(a.subs, a.Themes.Bind(a.Store))
	a.offs = append(a.offs,
		a.Bus.On(events.QuestionStarted, a.onQuestionStarted),
		a.Bus.On(events.QuestionEnded, a.onQuestionEnded),
		a.Bus.On(events.AllLocked, a.onAllLocked),
		a.Bus.On(events.EarlyLockReceived, a.onEarlyLock),
	)
	a.Timer.OnExpire(a.onTimeUp)
	return a
}

func powerupConfig(cfg config.Config) powerups.Config {
	pc := powerups.Config{
		Cost:              cfg.Powerups.Cost,
		InjectionInterval: cfg.Powerups.InjectionInterval,
		InjectionLength:   cfg.Powerups.InjectionLength,
		EarlyLockLead:     cfg.Powerups.EarlyLockLead,
		WriteTimeout:      cfg.Polling.RequestTimeout,
	}
	for _, t := range cfg.Powerups.Enabled {
		pc.Enabled = append(pc.Enabled, models.PowerupType(t))
	}
	return pc
}

// Boot restores a saved identity, if any, and starts polling.
func (a *Agent) Boot(ctx context.Context) {
	snap := a.Store.LoadState()
	if !snap.Empty() {
		log.Info().Str("code", snap.SessionCode).Str("team", snap.TeamName).Bool("host", snap.IsAdmin).Msg("restored session")
		a.enter(ctx)
	}
	a.Loop.Start()
}

// enter pulls the session's state and resumes a question already running.
func (a *Agent) enter(ctx context.Context) {
	a.Store.SyncState(ctx, a.Repo)
	if err := a.Loop.SeedWatermark(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to seed powerup watermark, using local clock")
	}
	a.Loop.Resume()
	a.subscribe()
}

func (a *Agent) subscribe() {
	n, ok := a.notifier.(*realtime.NATSNotifier)
	if !ok {
		return
	}
	sub, err := n.Subscribe(a.Store.SessionID(), a.Loop)
	if err != nil {
		log.Warn().Err(err).Msg("failed to subscribe to session nudges, polling only")
		return
	}
	a.mu.Lock()
	a.nsub = sub
	a.mu.Unlock()
}

func (a *Agent) unsubscribe() {
	a.mu.Lock()
	sub := a.nsub
	a.nsub = nil
	a.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Host creates a new session and becomes its host.
func (a *Agent) Host(ctx context.Context) (*models.Session, error) {
	session, err := a.Lobby.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	a.leave()
	a.Store.Update(map[state.Key]any{
		state.KeySessionID:   session.ID,
		state.KeySessionCode: session.Code,
		state.KeyTeamID:      uuid.Nil,
		state.KeyTeamName:    "",
		state.KeyIsAdmin:     true,
	})
	a.enter(ctx)
	return session, nil
}

// Join attaches a team to the session with code.
func (a *Agent) Join(ctx context.Context, code, teamName string) (*models.Team, error) {
	session, team, err := a.Lobby.JoinSession(ctx, code, teamName)
	if err != nil {
		return nil, err
	}
	a.leave()
	a.Store.Update(map[state.Key]any{
		state.KeySessionID:   session.ID,
		state.KeySessionCode: session.Code,
		state.KeyTeamID:      team.ID,
		state.KeyTeamName:    team.Name,
		state.KeyIsAdmin:     false,
	})
	a.notifier.Publish(ctx, session.ID, realtime.ResourceTeams)
	a.enter(ctx)
	return team, nil
}

// Leave drops the current session and erases the saved identity.
func (a *Agent) Leave() {
	a.leave()
	a.Store.Reset()
}

func (a *Agent) leave() {
	a.unsubscribe()
	a.Timer.Stop()
	a.Answers.StopBackupSync()
	if q := a.Store.CurrentQuestion(); q != nil {
		a.Powerups.CancelQuestion(q.ID)
	}
	a.Answers.Load(models.Answer{})
}

func (a *Agent) onQuestionStarted(e events.Event) {
	q, teamID := e.Question, a.Store.TeamID()
	if q == nil || teamID == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Polling.RequestTimeout)
	defer cancel()

	ans, err := a.Repo.GetOrCreateAnswer(ctx, q.SessionID, q.ID, teamID)
	if err != nil {
		log.Error().Err(err).Str("question_id", q.ID.String()).Msg("failed to load answer")
		return
	}
	a.Answers.Load(*ans)
	a.Store.SetAnswer(*ans)
	if !ans.Locked {
		a.Answers.StartBackupSync()
	}
}

func (a *Agent) onQuestionEnded(e events.Event) {
	a.Answers.StopBackupSync()
	if e.Question != nil {
		a.Powerups.CancelQuestion(e.Question.ID)
	}
	if a.Answers.AnswerID() == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Polling.RequestTimeout)
	defer cancel()
	if err := a.Answers.QuestionEnded(ctx); err != nil && !errors.Is(err, classroom.ErrAnswerLocked) {
		log.Warn().Err(err).Msg("final answer sync failed")
	}
}

// onAllLocked treats the question as over locally; the host still ends it.
func (a *Agent) onAllLocked(e events.Event) {
	a.Answers.StopBackupSync()
	if a.Answers.AnswerID() != uuid.Nil {
		a.Answers.MarkLocked()
	}
}

func (a *Agent) onEarlyLock(e events.Event) {
	p, ok := e.Payload.(events.EarlyLockPayload)
	if !ok || !p.Immediate {
		return
	}
	a.Answers.MarkLocked()
	a.Answers.StopBackupSync()
}

// onTimeUp locks the local answer when the countdown runs out.
func (a *Agent) onTimeUp() {
	if a.Store.TeamID() == uuid.Nil || a.Answers.Locked() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Polling.RequestTimeout)
	defer cancel()
	if err := a.LockAnswer(ctx); err != nil && !errors.Is(err, ErrNoAnswer) {
		log.Warn().Err(err).Msg("automatic lock failed")
	}
}

// LockAnswer saves the current text and locks it. The answers poll that
// follows runs the lock aggregation.
func (a *Agent) LockAnswer(ctx context.Context) error {
	id := a.Answers.AnswerID()
	if id == uuid.Nil {
		return ErrNoAnswer
	}
	if err := a.Answers.Sync(ctx); err != nil && !errors.Is(err, classroom.ErrAnswerLocked) {
		log.Warn().Err(err).Msg("answer sync before lock failed")
	}
	ans, changed, err := a.Repo.LockAnswer(ctx, id)
	if err != nil {
		return fmt.Errorf("lock answer: %w", err)
	}
	a.Answers.MarkLocked()
	a.Answers.StopBackupSync()
	a.Store.SetAnswer(*ans)
	if changed {
		log.Info().Str("answer_id", id.String()).Msg("answer locked")
		a.notifier.Publish(ctx, ans.SessionID, realtime.ResourceAnswers)
	}
	return a.Loop.Poll(ctx, realtime.ResourceAnswers)
}

// Buy spends points on a powerup. An empty choice picks one at random.
func (a *Agent) Buy(ctx context.Context, choice models.PowerupType) (models.PowerupType, error) {
	teamID := a.Store.TeamID()
	if teamID == uuid.Nil {
		return "", ErrNotJoined
	}
	got, err := a.Powerups.Buy(ctx, teamID, choice)
	if err != nil {
		return "", err
	}
	a.refresh(ctx, realtime.ResourceTeams)
	return got, nil
}

// Use casts one owned powerup on target.
func (a *Agent) Use(ctx context.Context, t models.PowerupType, target uuid.UUID) (*models.PowerupEvent, error) {
	teamID := a.Store.TeamID()
	if teamID == uuid.Nil {
		return nil, ErrNotJoined
	}
	evt, err := a.Powerups.Use(ctx, teamID, t, target)
	if err != nil {
		return nil, err
	}
	a.refresh(ctx, realtime.ResourcePowerups)
	a.refresh(ctx, realtime.ResourceTeams)
	return evt, nil
}

// StartQuestion is host only.
func (a *Agent) StartQuestion(ctx context.Context, text string, timeLimitSeconds int) (*models.Question, error) {
	sessionID, err := a.hostSession()
	if err != nil {
		return nil, err
	}
	q, err := a.Lobby.StartQuestion(ctx, sessionID, text, timeLimitSeconds)
	if err != nil {
		return nil, err
	}
	a.notifier.Publish(ctx, sessionID, realtime.ResourceQuestion)
	a.refresh(ctx, realtime.ResourceQuestion)
	return q, nil
}

// EndQuestion ends the running question, if any. Host only.
func (a *Agent) EndQuestion(ctx context.Context) error {
	sessionID, err := a.hostSession()
	if err != nil {
		return err
	}
	q, err := a.Lobby.ActiveQuestion(ctx, sessionID)
	if err != nil {
		return err
	}
	if q == nil {
		return powerups.ErrNoActiveQuestion
	}
	if err := a.Lobby.EndQuestion(ctx, sessionID, q.ID); err != nil {
		return err
	}
	a.notifier.Publish(ctx, sessionID, realtime.ResourceQuestion, realtime.ResourceTeams)
	a.refresh(ctx, realtime.ResourceQuestion)
	return nil
}

// AdjustScore applies a manual score change. Host only.
func (a *Agent) AdjustScore(ctx context.Context, teamID uuid.UUID, delta int) (*models.Team, error) {
	sessionID, err := a.hostSession()
	if err != nil {
		return nil, err
	}
	team, err := a.Lobby.AdjustTeamScore(ctx, teamID, delta)
	if err != nil {
		return nil, err
	}
	a.notifier.Publish(ctx, sessionID, realtime.ResourceTeams)
	a.refresh(ctx, realtime.ResourceTeams)
	return team, nil
}

func (a *Agent) hostSession() (uuid.UUID, error) {
	sessionID := a.Store.SessionID()
	if sessionID == uuid.Nil {
		return uuid.Nil, ErrNoSession
	}
	if !a.Store.IsAdmin() {
		return uuid.Nil, ErrNotHost
	}
	return sessionID, nil
}

func (a *Agent) refresh(ctx context.Context, r realtime.Resource) {
	if err := a.Loop.Poll(ctx, r); err != nil {
		log.Debug().Err(err).Str("resource", string(r)).Msg("refresh after write failed")
	}
}

// Close stops every loop and timer. The saved identity is kept.
func (a *Agent) Close() {
	a.Loop.Stop()
	a.unsubscribe()
	a.Timer.Stop()
	a.Answers.Close()
	a.Powerups.Close()
	for _, off := range a.offs {
		off()
	}
	for _, sub := range a.subs {
		a.Store.Off(sub)
	}
}
