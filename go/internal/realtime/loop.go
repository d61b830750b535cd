// Package realtime keeps the local state in step with the server by polling
// each resource on its own interval.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/events"
	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/scheduler"
	"github.com/mcdev12/classroom/go/internal/state"
)

// Repository is the read side the loop polls.
type Repository interface {
	GetActiveQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error)
	GetTeams(ctx context.Context, sessionID uuid.UUID) ([]models.Team, error)
	ListAnswersForQuestion(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error)
	ListPowerupEventsSince(ctx context.Context, sessionID uuid.UUID, since time.Time) ([]models.PowerupEvent, error)
	LatestPowerupEvent(ctx context.Context, sessionID uuid.UUID) (*models.PowerupEvent, error)
}

// Countdown is the part of the question timer the loop drives.
type Countdown interface {
	Start(limitSeconds int, startedAt *time.Time)
	Stop()
	ReduceTimeByOneThird() bool
	ForceToZero()
	Reduced() bool
}

// AnswerSink receives the local team's answer as read from the server.
type AnswerSink interface {
	ApplyInbound(a models.Answer) bool
}

type Config struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		RequestTimeout: 3 * time.Second,
	}
}

// Loop runs the four pollers. Each resource is polled by at most one
// goroutine at a time; a tick that finds its previous poll still running is
// skipped.
type Loop struct {
	repo    Repository
	store   *state.Store
	timer   Countdown
	answers AnswerSink
	bus     *events.Bus
	clock   clockwork.Clock
	tasks   *scheduler.Scheduler
	cfg     Config

	inflight map[Resource]*sync.Mutex

	mu           sync.Mutex
	watermark    time.Time
	allLockedFor uuid.UUID
}

func NewLoop(repo Repository, store *state.Store, timer Countdown, answers AnswerSink, bus *events.Bus, clock clockwork.Clock, cfg Config) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	inflight := make(map[Resource]*sync.Mutex, len(Resources))
	for _, r := range Resources {
		inflight[r] = &sync.Mutex{}
	}
	return &Loop{
		repo:      repo,
		store:     store,
		timer:     timer,
		answers:   answers,
		bus:       bus,
		clock:     clock,
		tasks:     scheduler.New(clock),
		cfg:       cfg,
		inflight:  inflight,
		watermark: clock.Now(),
	}
}

// Start begins polling every resource. Calling Start again restarts the tickers.
func (l *Loop) Start() {
	for _, r := range Resources {
		l.tasks.ScheduleEvery(pollKey(r), l.cfg.PollInterval, func() { l.tick(r) })
	}
	log.Info().Dur("interval", l.cfg.PollInterval).Msg("sync loop started")
}

// Stop cancels every poller. Polls already in flight finish.
func (l *Loop) Stop() {
	l.tasks.CancelAll()
}

func pollKey(r Resource) string { return "poll:" + string(r) }

func (l *Loop) tick(r Resource) {
	mu := l.inflight[r]
	if !mu.TryLock() {
		log.Debug().Str("resource", string(r)).Msg("previous poll still in flight, skipping tick")
		return
	}
	defer mu.Unlock()
	l.pollLocked(context.Background(), r)
}

// PollNow polls a resource immediately, waiting for any poll of the same
// resource already in flight.
func (l *Loop) PollNow(r Resource) {
	if err := l.Poll(context.Background(), r); err != nil {
		log.Warn().Err(err).Str("resource", string(r)).Msg("poll failed")
	}
}

// Poll runs one poll of r. Read failures leave the cached state alone and are
// returned for the caller to log.
func (l *Loop) Poll(ctx context.Context, r Resource) error {
	mu, ok := l.inflight[r]
	if !ok {
		return fmt.Errorf("unknown resource %q", r)
	}
	mu.Lock()
	defer mu.Unlock()
	return l.pollLocked(ctx, r)
}

func (l *Loop) pollLocked(ctx context.Context, r Resource) error {
	if l.store.SessionID() == uuid.Nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()

	var err error
	switch r {
	case ResourceQuestion:
		err = l.pollQuestion(ctx)
	case ResourceTeams:
		err = l.pollTeams(ctx)
	case ResourceAnswers:
		err = l.pollAnswers(ctx)
	case ResourcePowerups:
		err = l.pollPowerups(ctx)
	}

	if err != nil {
		l.store.Update(map[state.Key]any{state.KeyConnectionState: state.ConnectionDegraded})
		log.Warn().Err(err).Str("resource", string(r)).Msg("poll failed, keeping cached state")
		return err
	}
	l.store.Update(map[state.Key]any{state.KeyConnectionState: state.ConnectionConnected})
	return nil
}

func (l *Loop) pollQuestion(ctx context.Context) error {
	q, err := l.repo.GetActiveQuestion(ctx, l.store.SessionID())
	if err != nil {
		return fmt.Errorf("fetch active question: %w", err)
	}
	cur := l.store.CurrentQuestion()

	switch {
	case q == nil && cur == nil:
	case q == nil:
		l.questionEnded(cur)
	case cur == nil || cur.ID != q.ID:
		if cur != nil {
			l.questionEnded(cur)
		}
		l.questionStarted(q)
	case q.IsActive && !cur.IsActive:
		l.questionStarted(q)
	case cur.IsActive && !q.IsActive:
		l.questionEnded(q)
	default:
		l.store.Update(map[state.Key]any{state.KeyCurrentQuestion: q})
	}
	return nil
}

func (l *Loop) questionStarted(q *models.Question) {
	l.mu.Lock()
	l.allLockedFor = uuid.Nil
	l.mu.Unlock()

	l.store.Set(state.KeyCurrentQuestion, q)
	log.Info().Str("question_id", q.ID.String()).Int("time_limit", q.TimeLimitSeconds).Msg("question started")
	// Handlers bind the team's answer before the timer starts, so a question
	// whose time already ran out expires onto a loaded answer.
	l.bus.Trigger(events.Event{Name: events.QuestionStarted, Question: q})
	if q.IsActive {
		l.timer.Start(q.TimeLimitSeconds, q.StartedAt)
	}
}

func (l *Loop) questionEnded(q *models.Question) {
	l.timer.Stop()
	l.store.Set(state.KeyCurrentQuestion, (*models.Question)(nil))
	log.Info().Str("question_id", q.ID.String()).Msg("question ended")
	l.bus.Trigger(events.Event{Name: events.QuestionEnded, Question: q})
}

// Resume starts the timer for a question that was already active when the
// store was synced, without waiting for a question change.
func (l *Loop) Resume() {
	if q := l.store.CurrentQuestion(); q != nil && q.IsActive {
		l.questionStarted(q)
	}
}

func (l *Loop) pollTeams(ctx context.Context) error {
	teams, err := l.repo.GetTeams(ctx, l.store.SessionID())
	if err != nil {
		return fmt.Errorf("fetch teams: %w", err)
	}
	if !TeamsChanged(l.store.Teams(), teams) {
		return nil
	}
	l.store.Set(state.KeyTeams, teams)

	local := l.store.TeamID()
	for _, t := range teams {
		if t.ID == local {
			l.store.Update(map[state.Key]any{state.KeyPowerups: t.Powerups})
			break
		}
	}
	return nil
}

// TeamsChanged compares team lists by value: count, then score, name,
// inventory and forced theme of each position.
func TeamsChanged(cached, fetched []models.Team) bool {
	if len(cached) != len(fetched) {
		return true
	}
	for i := range fetched {
		if !models.SameTeamState(cached[i], fetched[i]) {
			return true
		}
	}
	return false
}

func (l *Loop) pollAnswers(ctx context.Context) error {
	q := l.store.CurrentQuestion()
	if q == nil {
		return nil
	}
	answers, err := l.repo.ListAnswersForQuestion(ctx, q.ID)
	if err != nil {
		return fmt.Errorf("fetch answers: %w", err)
	}

	local := l.store.TeamID()
	for _, a := range answers {
		if a.TeamID != local {
			continue
		}
		l.store.SetAnswer(a)
		if l.answers != nil {
			l.answers.ApplyInbound(a)
		}
		break
	}

	l.aggregateLocks(q, answers)
	return nil
}

// aggregateLocks reduces the timer on the first lock and forces it to zero
// once every team has locked.
func (l *Loop) aggregateLocks(q *models.Question, answers []models.Answer) {
	teams := l.store.Teams()
	inSession := make(map[uuid.UUID]bool, len(teams))
	for _, t := range teams {
		inSession[t.ID] = true
	}
	locked := 0
	for _, a := range answers {
		if a.Locked && inSession[a.TeamID] {
			locked++
		}
	}
	if locked == 0 {
		return
	}

	if locked >= len(teams) {
		l.mu.Lock()
		first := l.allLockedFor != q.ID
		l.allLockedFor = q.ID
		l.mu.Unlock()
		if !first {
			return
		}
		l.timer.ForceToZero()
		log.Info().Str("question_id", q.ID.String()).Int("teams", len(teams)).Msg("all teams locked")
		l.bus.Trigger(events.Event{Name: events.AllLocked, Question: q})
		return
	}

	if !l.timer.Reduced() && l.timer.ReduceTimeByOneThird() {
		log.Info().Str("question_id", q.ID.String()).Int("locked", locked).Msg("first lock observed, timer reduced")
	}
}

func (l *Loop) pollPowerups(ctx context.Context) error {
	l.mu.Lock()
	since := l.watermark
	l.mu.Unlock()

	evts, err := l.repo.ListPowerupEventsSince(ctx, l.store.SessionID(), since)
	if err != nil {
		return fmt.Errorf("fetch powerup events: %w", err)
	}
	next := since
	for _, e := range evts {
		l.onPowerupUsed(ctx, e)
		if e.CreatedAt.After(next) {
			next = e.CreatedAt
		}
	}

	l.mu.Lock()
	if next.After(l.watermark) {
		l.watermark = next
	}
	l.mu.Unlock()
	return nil
}

// SeedWatermark moves the powerup watermark to the newest event already in
// the session, so only events created after it are dispatched. With no events
// every later one is dispatched. Both cases use the server's timestamps, not
// the local clock.
func (l *Loop) SeedWatermark(ctx context.Context) error {
	sid := l.store.SessionID()
	if sid == uuid.Nil {
		return nil
	}
	latest, err := l.repo.LatestPowerupEvent(ctx, sid)
	if err != nil {
		return fmt.Errorf("fetch latest powerup event: %w", err)
	}
	var mark time.Time
	if latest != nil {
		mark = latest.CreatedAt
	}
	l.mu.Lock()
	l.watermark = mark
	l.mu.Unlock()
	log.Debug().Time("watermark", mark).Msg("powerup watermark seeded")
	return nil
}

// Watermark is the created_at of the newest powerup event seen.
func (l *Loop) Watermark() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermark
}

func (l *Loop) onPowerupUsed(ctx context.Context, e models.PowerupEvent) {
	payload, err := events.DecodeEvent(e)
	if err != nil {
		log.Warn().Err(err).Str("event_id", e.ID.String()).Msg("dropping malformed powerup event")
		return
	}
	evt := events.Event{Powerup: &e, Payload: payload}
	local := l.store.TeamID()

	switch e.PowerupType {
	case models.PowerupRandomChars:
		if e.Targets(local) {
			evt.Name = events.PowerupReceived
			l.bus.Trigger(evt)
			l.refresh(ctx, ResourceAnswers)
		}
	case models.PowerupEarlyLock:
		if e.Targets(local) {
			evt.Name = events.EarlyLockReceived
			l.bus.Trigger(evt)
		}
	case models.PowerupHardToRead:
		evt.Name = events.ThemeForced
		l.bus.Trigger(evt)
		l.refresh(ctx, ResourceTeams)
	case models.PowerupScoreBash, models.PowerupRollDice:
		l.refresh(ctx, ResourceTeams)
	}

	evt.Name = events.PowerupUsed
	l.bus.Trigger(evt)
}

func (l *Loop) refresh(ctx context.Context, r Resource) {
	if err := l.Poll(ctx, r); err != nil {
		log.Debug().Err(err).Str("resource", string(r)).Msg("immediate refresh failed")
	}
}
