package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/classroom/go/internal/models"
)

type fakeFetcher struct {
	teams    []models.Team
	question *models.Question
	answer   *models.Answer
	team     *models.Team

	failTeams, failQuestion, failAnswer, failTeam bool
}

var errDown = errors.New("network down")

func (f *fakeFetcher) GetTeams(context.Context, uuid.UUID) ([]models.Team, error) {
	if f.failTeams {
		return nil, errDown
	}
	return f.teams, nil
}

func (f *fakeFetcher) GetActiveQuestion(context.Context, uuid.UUID) (*models.Question, error) {
	if f.failQuestion {
		return nil, errDown
	}
	return f.question, nil
}

func (f *fakeFetcher) GetAnswer(context.Context, uuid.UUID, uuid.UUID) (*models.Answer, error) {
	if f.failAnswer {
		return nil, errDown
	}
	return f.answer, nil
}

func (f *fakeFetcher) GetTeam(context.Context, uuid.UUID) (*models.Team, error) {
	if f.failTeam {
		return nil, errDown
	}
	return f.team, nil
}

func joinedStore(t *testing.T) (*Store, uuid.UUID, uuid.UUID) {
	t.Helper()
	s := New(nil, WithFetchTimeout(time.Second))
	sessionID, teamID := uuid.New(), uuid.New()
	s.Update(map[Key]any{KeySessionID: sessionID, KeyTeamID: teamID})
	return s, sessionID, teamID
}

func TestSyncStatePullsEveryResource(t *testing.T) {
	s, sessionID, teamID := joinedStore(t)
	q := &models.Question{ID: uuid.New(), SessionID: sessionID, IsActive: true, TimeLimitSeconds: 60}
	f := &fakeFetcher{
		teams:    []models.Team{{ID: teamID, Name: "Alpha", Score: 10}},
		question: q,
		answer:   &models.Answer{ID: uuid.New(), QuestionID: q.ID, TeamID: teamID, Answer: "four"},
		team:     &models.Team{ID: teamID, Powerups: []models.PowerupType{models.PowerupScoreBash}},
	}

	s.SyncState(context.Background(), f)

	if len(s.Teams()) != 1 {
		t.Fatalf("expected teams synced, got %v", s.Teams())
	}
	if cq := s.CurrentQuestion(); cq == nil || cq.ID != q.ID {
		t.Fatalf("expected active question synced, got %v", cq)
	}
	if a, ok := s.Answer(q.ID); !ok || a.Answer != "four" {
		t.Fatalf("expected answer synced, got %+v", a)
	}
	if p := s.Powerups(); len(p) != 1 || p[0] != models.PowerupScoreBash {
		t.Fatalf("expected powerups synced, got %v", p)
	}
	if s.ConnectionState() != ConnectionConnected {
		t.Fatalf("expected connected, got %s", s.ConnectionState())
	}
}

func TestSyncStateFallsBackPerResource(t *testing.T) {
	s, sessionID, teamID := joinedStore(t)
	q := &models.Question{ID: uuid.New(), SessionID: sessionID, IsActive: true}
	f := &fakeFetcher{
		teams:    []models.Team{{ID: teamID, Name: "Alpha", Score: 10}},
		question: q,
		team:     &models.Team{ID: teamID},
	}
	s.SyncState(context.Background(), f)

	// Teams go down and the server score changes; the question fetch still works.
	f.failTeams = true
	f.teams = []models.Team{{ID: teamID, Name: "Alpha", Score: 99}}
	f.question = nil

	s.Set(KeyTeams, []models.Team(nil))
	s.SyncState(context.Background(), f)

	teams := s.Teams()
	if len(teams) != 1 || teams[0].Score != 10 {
		t.Fatalf("expected cached teams with score 10, got %v", teams)
	}
	if s.CurrentQuestion() != nil {
		t.Fatalf("expected question cleared by the successful fetch")
	}
	if s.ConnectionState() != ConnectionDegraded {
		t.Fatalf("expected degraded, got %s", s.ConnectionState())
	}
}

func TestSyncStateWithoutSessionIsNoop(t *testing.T) {
	s := New(nil)
	s.SyncState(context.Background(), &fakeFetcher{failTeams: true})
	if s.ConnectionState() != ConnectionDisconnected {
		t.Fatalf("expected untouched connection state, got %s", s.ConnectionState())
	}
}
