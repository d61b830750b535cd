package pgstore

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mcdev12/classroom/go/internal/persistence"
)

func TestBuildSelect(t *testing.T) {
	q := persistence.Where(
		persistence.Eq("session_id", "s1"),
		persistence.Eq("is_active", true),
	).OrderByDesc("started_at").WithLimit(1)

	sql, args, err := buildSelect(persistence.TableQuestions, q)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "SELECT to_jsonb(t) FROM questions t WHERE t.session_id = $1 AND t.is_active = $2 ORDER BY t.started_at DESC LIMIT 1"
	if sql != want {
		t.Fatalf("expected %q, got %q", want, sql)
	}
	if !reflect.DeepEqual(args, []any{"s1", true}) {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuildSelectIsNull(t *testing.T) {
	sql, args, err := buildSelect(persistence.TableTeams, persistence.Where(persistence.IsNull("forced_theme")))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sql != "SELECT to_jsonb(t) FROM teams t WHERE t.forced_theme IS NULL" {
		t.Fatalf("unexpected sql %q", sql)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
}

func TestBuildInsertSortsColumns(t *testing.T) {
	sql, args, err := buildInsert(persistence.TableTeams, persistence.Record{"team_name": "A", "session_id": "s", "score": 10})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "INSERT INTO teams AS t (score, session_id, team_name) VALUES ($1, $2, $3) RETURNING to_jsonb(t)"
	if sql != want {
		t.Fatalf("expected %q, got %q", want, sql)
	}
	if !reflect.DeepEqual(args, []any{10, "s", "A"}) {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuildUpdateNumbersPreconditionsAfterSet(t *testing.T) {
	sql, args, err := buildUpdate(persistence.TableAnswers, "a1",
		persistence.Record{"answer": "x", "updated_at": "now"},
		[]persistence.Filter{persistence.Eq("locked", false)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "UPDATE quiz_answers AS t SET answer = $1, updated_at = $2 WHERE t.id = $3 AND t.locked = $4 RETURNING to_jsonb(t)"
	if sql != want {
		t.Fatalf("expected %q, got %q", want, sql)
	}
	if !reflect.DeepEqual(args, []any{"x", "now", "a1", false}) {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestRejectsUnsafeIdentifiers(t *testing.T) {
	_, _, err := buildSelect(persistence.TableTeams, persistence.Where(persistence.Eq("name; drop table teams", 1)))
	if !errors.Is(err, ErrBadIdentifier) {
		t.Fatalf("expected ErrBadIdentifier, got %v", err)
	}
	if _, _, err := buildSelect(persistence.Table("users"), persistence.Query{}); err == nil {
		t.Fatalf("expected unknown table error")
	}
}

func TestBuildDeleteRequiresFilter(t *testing.T) {
	if _, _, err := buildDelete(persistence.TableTeams, nil); !errors.Is(err, persistence.ErrUnfilteredDelete) {
		t.Fatalf("expected ErrUnfilteredDelete, got %v", err)
	}
	sql, _, err := buildDelete(persistence.TableTeams, []persistence.Filter{persistence.Eq("session_id", "s")})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sql != "DELETE FROM teams AS t WHERE t.session_id = $1" {
		t.Fatalf("unexpected sql %q", sql)
	}
}
