package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/classroom/go/internal/classroom"
	"github.com/mcdev12/classroom/go/internal/config"
	"github.com/mcdev12/classroom/go/internal/localstore"
	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/persistence"
	"github.com/mcdev12/classroom/go/internal/realtime"
	"github.com/mcdev12/classroom/go/internal/state"
	"github.com/mcdev12/classroom/go/internal/uifeed"
)

type game struct {
	clock *clockwork.FakeClock
	db    *persistence.Memory
	host  *Agent
	code  string
}

func newGame(t *testing.T) *game {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	g := &game{clock: clock, db: persistence.NewMemory(clock)}
	g.host = g.agent(t, nil)
	session, err := g.host.Host(context.Background())
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	g.code = session.Code
	return g
}

func (g *game) agent(t *testing.T, storage localstore.Storage) *Agent {
	t.Helper()
	if storage == nil {
		storage = localstore.NewMemoryStorage()
	}
	a := New(config.Default(), Deps{DB: g.db, Storage: storage, Clock: g.clock})
	t.Cleanup(a.Close)
	return a
}

func (g *game) team(t *testing.T, name string) *Agent {
	t.Helper()
	a := g.agent(t, nil)
	if _, err := a.Join(context.Background(), strings.ToLower(g.code), name); err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return a
}

func poll(t *testing.T, a *Agent, resources ...realtime.Resource) {
	t.Helper()
	for _, r := range resources {
		if err := a.Loop.Poll(context.Background(), r); err != nil {
			t.Fatalf("poll %s: %v", r, err)
		}
	}
}

func (g *game) answer(t *testing.T, questionID uuid.UUID, a *Agent) *models.Answer {
	t.Helper()
	ans, err := a.Repo.GetAnswer(context.Background(), questionID, a.Store.TeamID())
	if err != nil {
		t.Fatalf("get answer: %v", err)
	}
	return ans
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestHostAndJoinSetIdentity(t *testing.T) {
	g := newGame(t)
	if !g.host.Store.IsAdmin() || g.host.Store.SessionCode() != g.code {
		t.Fatalf("expected host identity, got admin=%v code=%s", g.host.Store.IsAdmin(), g.host.Store.SessionCode())
	}

	storage := localstore.NewMemoryStorage()
	alpha := g.agent(t, storage)
	team, err := alpha.Join(context.Background(), g.code, "Alpha")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if alpha.Store.TeamID() != team.ID || alpha.Store.IsAdmin() {
		t.Fatalf("expected team identity, got %s admin=%v", alpha.Store.TeamID(), alpha.Store.IsAdmin())
	}
	if len(alpha.Store.Teams()) != 1 {
		t.Fatalf("expected teams synced on join, got %d", len(alpha.Store.Teams()))
	}

	restored := state.New(storage).LoadState()
	if restored.TeamName != "Alpha" || restored.SessionCode != g.code {
		t.Fatalf("expected saved identity, got %+v", restored)
	}
}

func TestQuestionLifecycle(t *testing.T) {
	g := newGame(t)
	ctx := context.Background()
	alpha := g.team(t, "Alpha")

	q, err := g.host.StartQuestion(ctx, "Capital of France?", 60)
	if err != nil {
		t.Fatalf("start question: %v", err)
	}
	poll(t, alpha, realtime.ResourceQuestion)
	if alpha.Answers.AnswerID() == uuid.Nil {
		t.Fatalf("expected answer loaded on question start")
	}
	if !alpha.Timer.Running() || alpha.Timer.Remaining() != 60 {
		t.Fatalf("expected running 60s timer, got %d running=%v", alpha.Timer.Remaining(), alpha.Timer.Running())
	}

	if err := alpha.HandleCommand(ctx, uifeed.Command{Type: CmdType, Value: "paris"}); err != nil {
		t.Fatalf("type: %v", err)
	}
	if err := alpha.HandleCommand(ctx, uifeed.Command{Type: CmdLock}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	saved := g.answer(t, q.ID, alpha)
	if saved.Answer != "paris" || !saved.Locked {
		t.Fatalf("expected locked paris, got %q locked=%v", saved.Answer, saved.Locked)
	}
	if err := alpha.HandleCommand(ctx, uifeed.Command{Type: CmdType, Value: "lyon"}); !errors.Is(err, classroom.ErrAnswerLocked) {
		t.Fatalf("expected ErrAnswerLocked after lock, got %v", err)
	}

	if err := g.host.EndQuestion(ctx); err != nil {
		t.Fatalf("end question: %v", err)
	}
	poll(t, alpha, realtime.ResourceQuestion)
	if alpha.Store.CurrentQuestion() != nil || alpha.Timer.Running() {
		t.Fatalf("expected question cleared and timer stopped")
	}
}

func TestSecondLockReducesThenForcesTimer(t *testing.T) {
	g := newGame(t)
	ctx := context.Background()
	alpha := g.team(t, "Alpha")
	beta := g.team(t, "Beta")

	if _, err := g.host.StartQuestion(ctx, "2+2?", 60); err != nil {
		t.Fatalf("start question: %v", err)
	}
	// alpha joined before beta, so its cached team list is stale until polled.
	poll(t, alpha, realtime.ResourceQuestion, realtime.ResourceTeams)
	poll(t, beta, realtime.ResourceQuestion)

	if err := alpha.LockAnswer(ctx); err != nil {
		t.Fatalf("alpha lock: %v", err)
	}
	if got := alpha.Timer.Remaining(); got != 40 {
		t.Fatalf("expected 40s after the first lock, got %d", got)
	}

	if err := beta.LockAnswer(ctx); err != nil {
		t.Fatalf("beta lock: %v", err)
	}
	if beta.Timer.Remaining() != 0 || beta.Timer.Running() {
		t.Fatalf("expected beta timer forced to zero")
	}
	poll(t, alpha, realtime.ResourceAnswers)
	if alpha.Timer.Remaining() != 0 {
		t.Fatalf("expected alpha timer forced to zero, got %d", alpha.Timer.Remaining())
	}
}

func TestTimeUpLocksAnswer(t *testing.T) {
	g := newGame(t)
	ctx := context.Background()
	alpha := g.team(t, "Alpha")

	q, err := g.host.StartQuestion(ctx, "Quick!", 5)
	if err != nil {
		t.Fatalf("start question: %v", err)
	}
	poll(t, alpha, realtime.ResourceQuestion)
	if err := alpha.Answers.Type("lyon"); err != nil {
		t.Fatalf("type: %v", err)
	}

	g.clock.Advance(5 * time.Second)
	eventually(t, func() bool { return alpha.Answers.Locked() }, "answer locked at zero")
	saved := g.answer(t, q.ID, alpha)
	if saved.Answer != "lyon" || !saved.Locked {
		t.Fatalf("expected locked lyon, got %q locked=%v", saved.Answer, saved.Locked)
	}
}

func TestJoinAfterTimeUpLocksAnswer(t *testing.T) {
	g := newGame(t)
	ctx := context.Background()

	q, err := g.host.StartQuestion(ctx, "Quick!", 5)
	if err != nil {
		t.Fatalf("start question: %v", err)
	}
	g.clock.Advance(10 * time.Second)

	alpha := g.team(t, "Alpha")
	if alpha.Answers.AnswerID() == uuid.Nil || !alpha.Answers.Locked() {
		t.Fatalf("expected a bound, locked answer, got id=%s locked=%v", alpha.Answers.AnswerID(), alpha.Answers.Locked())
	}
	if err := alpha.Answers.Type("late"); !errors.Is(err, classroom.ErrAnswerLocked) {
		t.Fatalf("expected ErrAnswerLocked, got %v", err)
	}
	if saved := g.answer(t, q.ID, alpha); !saved.Locked {
		t.Fatalf("expected the stored answer locked")
	}
}

func TestRestartAfterTimeUpLocksAnswer(t *testing.T) {
	g := newGame(t)
	ctx := context.Background()
	storage := localstore.NewMemoryStorage()
	alpha := g.agent(t, storage)
	if _, err := alpha.Join(ctx, g.code, "Alpha"); err != nil {
		t.Fatalf("join: %v", err)
	}

	q, err := g.host.StartQuestion(ctx, "Quick!", 5)
	if err != nil {
		t.Fatalf("start question: %v", err)
	}
	g.clock.Advance(10 * time.Second)

	restarted := g.agent(t, storage)
	restarted.Boot(ctx)
	if !restarted.Answers.Locked() {
		t.Fatalf("expected the answer locked after restarting past time-up")
	}
	if saved := g.answer(t, q.ID, restarted); !saved.Locked {
		t.Fatalf("expected the stored answer locked")
	}
}

func TestImmediateEarlyLockDisablesField(t *testing.T) {
	g := newGame(t)
	ctx := context.Background()
	alpha := g.team(t, "Alpha")
	beta := g.team(t, "Beta")

	if _, err := g.host.StartQuestion(ctx, "Name a prime", 20); err != nil {
		t.Fatalf("start question: %v", err)
	}
	poll(t, alpha, realtime.ResourceQuestion)
	if _, err := beta.Repo.SetPowerups(ctx, beta.Store.TeamID(), []models.PowerupType{models.PowerupEarlyLock}); err != nil {
		t.Fatalf("seed powerups: %v", err)
	}

	g.clock.Advance(time.Second)
	if _, err := beta.Use(ctx, models.PowerupEarlyLock, alpha.Store.TeamID()); err != nil {
		t.Fatalf("use: %v", err)
	}
	if len(beta.Store.Powerups()) != 0 {
		t.Fatalf("expected inventory refreshed after use, got %v", beta.Store.Powerups())
	}

	poll(t, alpha, realtime.ResourcePowerups)
	if !alpha.Answers.Locked() || !alpha.Answers.Disabled() {
		t.Fatalf("expected alpha's field locked by the early lock")
	}
}

func TestBuyThroughCommand(t *testing.T) {
	g := newGame(t)
	ctx := context.Background()
	alpha := g.team(t, "Alpha")

	err := alpha.HandleCommand(ctx, uifeed.Command{Type: CmdBuy, Powerup: string(models.PowerupScoreBash)})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	powerups := alpha.Store.Powerups()
	if len(powerups) != 1 || powerups[0] != models.PowerupScoreBash {
		t.Fatalf("expected [score_bash], got %v", powerups)
	}
	team, _ := alpha.Store.Team(alpha.Store.TeamID())
	if team.Score != models.StartingScore-3 {
		t.Fatalf("expected score %d, got %d", models.StartingScore-3, team.Score)
	}
}

func TestHostOnlyCommands(t *testing.T) {
	g := newGame(t)
	ctx := context.Background()
	alpha := g.team(t, "Alpha")

	if _, err := alpha.StartQuestion(ctx, "Sneaky?", 30); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if _, err := g.host.Buy(ctx, ""); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined for the host, got %v", err)
	}
	if err := g.host.EndQuestion(ctx); err == nil {
		t.Fatalf("expected error ending with no active question")
	}

	team, err := g.host.AdjustScore(ctx, alpha.Store.TeamID(), -4)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if team.Score != models.StartingScore-4 {
		t.Fatalf("expected %d, got %d", models.StartingScore-4, team.Score)
	}
	if err := alpha.HandleCommand(ctx, uifeed.Command{Type: "dance"}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestLeaveErasesIdentity(t *testing.T) {
	g := newGame(t)
	storage := localstore.NewMemoryStorage()
	alpha := g.agent(t, storage)
	if err := alpha.HandleCommand(context.Background(), uifeed.Command{Type: CmdJoin, Value: g.code, Powerup: "Alpha"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	alpha.Leave()
	if alpha.Store.SessionID() != uuid.Nil {
		t.Fatalf("expected session cleared")
	}
	if !state.New(storage).LoadState().Empty() {
		t.Fatalf("expected saved identity erased")
	}
}

func TestSnapshotView(t *testing.T) {
	g := newGame(t)
	alpha := g.team(t, "Alpha")
	if _, err := g.host.StartQuestion(context.Background(), "Capital of Peru?", 90); err != nil {
		t.Fatalf("start question: %v", err)
	}
	poll(t, alpha, realtime.ResourceQuestion)

	v := alpha.Snapshot()
	if v.TeamName != "Alpha" || v.Question == nil || v.Remaining != 90 || v.Clock != "01:30" {
		t.Fatalf("unexpected view %+v", v)
	}
	if v.Theme != "default" || !v.ThemeSelectable || len(v.Shop) != 5 {
		t.Fatalf("unexpected theme or shop in view: %s %v %d", v.Theme, v.ThemeSelectable, len(v.Shop))
	}
}
