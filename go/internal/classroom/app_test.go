package classroom

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/persistence"
)

// seqRand returns the scripted values in order, then zeros.
type seqRand struct {
	vals []int
}

func (s *seqRand) IntN(n int) int {
	if len(s.vals) == 0 {
		return 0
	}
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v % n
}

func newTestApp(t *testing.T, rng RandSource) (*App, *Repository) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	repo := NewRepository(persistence.NewMemory(clock), clock)
	return NewApp(repo, rng, clock), repo
}

func TestCreateSessionCode(t *testing.T) {
	app, _ := newTestApp(t, nil)
	session, err := app.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(session.Code) != CodeLength {
		t.Fatalf("expected %d-char code, got %q", CodeLength, session.Code)
	}
	for _, c := range session.Code {
		if !strings.ContainsRune(CodeAlphabet, c) {
			t.Fatalf("unexpected character %q in code", c)
		}
	}
	if session.StartedAt == nil {
		t.Fatalf("expected started_at to be set")
	}
}

func TestCreateSessionRetriesOnCollision(t *testing.T) {
	// First two codes are identical (all zeros => "AAAAAA"), the third differs.
	vals := []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1}
	app, _ := newTestApp(t, &seqRand{vals: vals})

	first, err := app.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := app.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Code != "AAAAAA" || second.Code != "BBBBBB" {
		t.Fatalf("expected AAAAAA then BBBBBB, got %s then %s", first.Code, second.Code)
	}
}

func TestJoinSessionIsIdempotentByName(t *testing.T) {
	app, _ := newTestApp(t, nil)
	ctx := context.Background()
	session, _ := app.CreateSession(ctx)

	_, alpha, err := app.JoinSession(ctx, " "+strings.ToLower(session.Code)+" ", " Alpha ")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	_, again, err := app.JoinSession(ctx, session.Code, "Alpha")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if alpha.ID != again.ID {
		t.Fatalf("expected rejoin to attach to %s, got %s", alpha.ID, again.ID)
	}
	teams, _ := app.Teams(ctx, session.ID)
	if len(teams) != 1 {
		t.Fatalf("expected one team, got %d", len(teams))
	}
}

func TestJoinSessionValidation(t *testing.T) {
	app, _ := newTestApp(t, nil)
	ctx := context.Background()

	if _, _, err := app.JoinSession(ctx, "  ", "Alpha"); !errors.Is(err, ErrSessionCodeRequired) {
		t.Fatalf("expected ErrSessionCodeRequired, got %v", err)
	}
	if _, _, err := app.JoinSession(ctx, "ABCDEF", " "); !errors.Is(err, ErrTeamNameRequired) {
		t.Fatalf("expected ErrTeamNameRequired, got %v", err)
	}
	if _, _, err := app.JoinSession(ctx, "ZZZZZZ", "Alpha"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStartQuestionEndsPrevious(t *testing.T) {
	app, repo := newTestApp(t, nil)
	ctx := context.Background()
	session, _ := app.CreateSession(ctx)
	_, team, _ := app.JoinSession(ctx, session.Code, "Alpha")
	theme := "hard_to_read"
	repo.SetForcedTheme(ctx, team.ID, &theme)

	first, err := app.StartQuestion(ctx, session.ID, "Q1", 60)
	if err != nil {
		t.Fatalf("start q1: %v", err)
	}
	second, err := app.StartQuestion(ctx, session.ID, "Q2", 30)
	if err != nil {
		t.Fatalf("start q2: %v", err)
	}

	old, _ := repo.GetQuestion(ctx, first.ID)
	if old.IsActive || old.EndedAt == nil {
		t.Fatalf("expected first question ended, got %+v", old)
	}
	active, _ := app.ActiveQuestion(ctx, session.ID)
	if active == nil || active.ID != second.ID {
		t.Fatalf("expected second question active, got %+v", active)
	}
	got, _ := repo.GetTeam(ctx, team.ID)
	if got.ForcedTheme != nil {
		t.Fatalf("expected forced theme cleared when a question ends")
	}

	if _, err := app.StartQuestion(ctx, session.ID, "Q3", 0); !errors.Is(err, ErrInvalidTimeLimit) {
		t.Fatalf("expected ErrInvalidTimeLimit, got %v", err)
	}
}

func TestAdjustTeamScoreCanGoNegative(t *testing.T) {
	app, _ := newTestApp(t, nil)
	ctx := context.Background()
	session, _ := app.CreateSession(ctx)
	_, team, _ := app.JoinSession(ctx, session.Code, "Alpha")

	got, err := app.AdjustTeamScore(ctx, team.ID, -15)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if got.Score != -5 {
		t.Fatalf("expected -5, got %d", got.Score)
	}
}

func TestFormatAnswers(t *testing.T) {
	alpha := models.Team{Name: "Alpha"}
	alpha.ID[0] = 1
	answers := []models.Answer{
		{TeamID: alpha.ID, Answer: "four"},
		{TeamID: alpha.ID, Answer: "  "},
		{Answer: "orphan"},
	}
	got := FormatAnswers(answers, []models.Team{alpha})
	want := "Alpha: four\nAlpha: (no answer)\nUnknown: orphan"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
