package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestMemoryCreateStampsIDAndCreatedAt(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	m := NewMemory(clock)

	rec, err := m.Create(context.Background(), TableTeams, Record{"team_name": "Alpha", "score": 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id, _ := rec["id"].(string); id == "" {
		t.Fatalf("expected generated id, got %v", rec["id"])
	}
	if rec["created_at"] != "2024-03-01T09:00:00Z" {
		t.Fatalf("expected created_at from clock, got %v", rec["created_at"])
	}
	if rec["score"] != float64(10) {
		t.Fatalf("expected score normalised to float64 10, got %#v", rec["score"])
	}
}

func TestMemoryListFiltersOrderAndLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	for i, name := range []string{"A", "B", "C", "D"} {
		if _, err := m.Create(ctx, TableTeams, Record{"session_id": "s1", "team_name": name, "score": i * 5}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		clock.Advance(time.Second)
	}
	if _, err := m.Create(ctx, TableTeams, Record{"session_id": "s2", "team_name": "Other", "score": 100}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	got, err := m.List(ctx, TableTeams, Where(Eq("session_id", "s1"), Gte("score", 5)).OrderByDesc("score").WithLimit(2))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0]["team_name"] != "D" || got[1]["team_name"] != "C" {
		t.Fatalf("expected D then C, got %v then %v", got[0]["team_name"], got[1]["team_name"])
	}
}

func TestMemoryTimestampComparisonIsExclusive(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	m := NewMemory(clock)
	ctx := context.Background()

	first, _ := m.Create(ctx, TablePowerupEvents, Record{"session_id": "s1"})
	clock.Advance(1500 * time.Millisecond)
	if _, err := m.Create(ctx, TablePowerupEvents, Record{"session_id": "s1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	since, _ := time.Parse(time.RFC3339Nano, first["created_at"].(string))
	got, err := m.List(ctx, TablePowerupEvents, Where(Eq("session_id", "s1"), Gt("created_at", since)).OrderBy("created_at"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the later event, got %d", len(got))
	}
	if got[0]["id"] == first["id"] {
		t.Fatalf("expected exclusive lower bound, got the first event back")
	}
}

func TestMemoryUpdatePrecondition(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()

	rec, _ := m.Create(ctx, TableAnswers, Record{"question_id": "q", "team_id": "t", "answer": "hi", "locked": false})
	id := rec["id"].(string)

	if _, err := m.Update(ctx, TableAnswers, id, Record{"locked": true}, Eq("locked", false)); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	_, err := m.Update(ctx, TableAnswers, id, Record{"answer": "changed"}, Eq("locked", false))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on failed precondition, got %v", err)
	}

	got, _ := m.List(ctx, TableAnswers, Where(Eq("id", id)))
	if got[0]["answer"] != "hi" {
		t.Fatalf("expected answer untouched, got %v", got[0]["answer"])
	}
}

func TestMemoryIsNull(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()

	m.Create(ctx, TableTeams, Record{"session_id": "s", "team_name": "A", "forced_theme": nil})
	m.Create(ctx, TableTeams, Record{"session_id": "s", "team_name": "B", "forced_theme": "hard_to_read"})

	got, err := m.List(ctx, TableTeams, Where(IsNull("forced_theme")))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0]["team_name"] != "A" {
		t.Fatalf("expected only team A, got %v", got)
	}
}

func TestMemoryUniqueConstraint(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()

	if _, err := m.Create(ctx, TableTeams, Record{"session_id": "s", "team_name": "A"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := m.Create(ctx, TableTeams, Record{"session_id": "s", "team_name": "A"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryDeleteRequiresFilter(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()

	if err := m.Delete(ctx, TableTeams); !errors.Is(err, ErrUnfilteredDelete) {
		t.Fatalf("expected ErrUnfilteredDelete, got %v", err)
	}
	m.Create(ctx, TableTeams, Record{"session_id": "s", "team_name": "A"})
	m.Create(ctx, TableTeams, Record{"session_id": "s", "team_name": "B"})
	if err := m.Delete(ctx, TableTeams, Eq("team_name", "A")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := m.List(ctx, TableTeams, Query{})
	if len(got) != 1 || got[0]["team_name"] != "B" {
		t.Fatalf("expected only B left, got %v", got)
	}
}

func TestMemoryRejectsUnknownTable(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	ctx := context.Background()
	bogus := Table("quiz_teamz")

	if _, err := m.Update(ctx, bogus, "t1", Record{"score": 1}); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unknown table error from Update, got %v", err)
	}
	if err := m.Delete(ctx, bogus, Eq("id", "t1")); err == nil {
		t.Fatalf("expected unknown table error from Delete")
	}
	if _, err := m.List(ctx, bogus, Query{}); err == nil {
		t.Fatalf("expected unknown table error from List")
	}
}
