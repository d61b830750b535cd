package state

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mcdev12/classroom/go/internal/localstore"
	"github.com/mcdev12/classroom/go/internal/models"
)

type change struct {
	key      Key
	new, old any
}

func record(into *[]change) Listener {
	return func(key Key, newValue, oldValue any) {
		*into = append(*into, change{key, newValue, oldValue})
	}
}

func TestSetNotifiesKeyAndWildcard(t *testing.T) {
	s := New(nil)
	var direct, wild []change
	s.On(KeyTeamName, record(&direct))
	s.On(Wildcard, record(&wild))

	s.Set(KeyTeamName, "Alpha")
	s.Set(KeyTeamName, "Alpha")
	s.Set(KeyConnectionState, ConnectionConnected)

	if len(direct) != 2 {
		t.Fatalf("expected Set to always notify, got %d calls", len(direct))
	}
	if direct[0].new != "Alpha" || direct[0].old != "" {
		t.Fatalf("expected (Alpha, \"\"), got (%v, %v)", direct[0].new, direct[0].old)
	}
	if len(wild) != 3 || wild[2].key != KeyConnectionState {
		t.Fatalf("expected wildcard to see all three changes, got %v", wild)
	}
}

func TestUpdateNotifiesOncePerChangedKey(t *testing.T) {
	s := New(nil)
	s.Set(KeyTeamName, "Alpha")

	var wild []change
	s.On(Wildcard, record(&wild))
	var sawCodeDuringName string
	s.On(KeyTeamName, func(Key, any, any) { sawCodeDuringName = s.SessionCode() })

	s.Update(map[Key]any{
		KeyTeamName:    "Beta",
		KeySessionCode: "ABC234",
		KeyIsAdmin:     false, // unchanged
	})

	if len(wild) != 2 {
		t.Fatalf("expected 2 notifications, got %d: %v", len(wild), wild)
	}
	if sawCodeDuringName != "ABC234" {
		t.Fatalf("expected all values applied before listeners run, got %q", sawCodeDuringName)
	}
}

func TestOffStopsNotifications(t *testing.T) {
	s := New(nil)
	var got []change
	sub := s.On(KeyTeamName, record(&got))
	s.Off(sub)
	s.Off(sub)
	s.Set(KeyTeamName, "x")
	if len(got) != 0 {
		t.Fatalf("expected no notifications after Off, got %d", len(got))
	}
}

func TestPanickingListenerDoesNotBreakOthers(t *testing.T) {
	s := New(nil)
	called := false
	s.On(KeyTeamName, func(Key, any, any) { panic("boom") })
	s.On(KeyTeamName, func(Key, any, any) { called = true })
	s.Set(KeyTeamName, "x")
	if !called {
		t.Fatalf("expected second listener to run")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	storage := localstore.NewMemoryStorage()
	sessionID, teamID := uuid.New(), uuid.New()

	s := New(storage)
	s.Update(map[Key]any{
		KeySessionID:   sessionID,
		KeySessionCode: "ABC234",
		KeyTeamID:      teamID,
		KeyTeamName:    "Alpha",
	})
	s.Set(KeyTeams, []models.Team{{ID: teamID, Name: "Alpha"}})

	restored := New(storage)
	snap := restored.LoadState()
	if snap.SessionID != sessionID || restored.TeamID() != teamID || restored.TeamName() != "Alpha" {
		t.Fatalf("expected identity restored, got %+v", snap)
	}
	if len(restored.Teams()) != 0 {
		t.Fatalf("expected volatile fields not restored, got %v", restored.Teams())
	}
}

func TestCorruptSnapshotIsTreatedAsEmpty(t *testing.T) {
	storage := localstore.NewMemoryStorage()
	storage.Set(context.Background(), SnapshotKey, []byte("{not json"))

	s := New(storage)
	snap := s.LoadState()
	if !snap.Empty() || s.SessionID() != uuid.Nil {
		t.Fatalf("expected empty state from corrupt snapshot, got %+v", snap)
	}
}

func TestResetClearsAndFiresWildcard(t *testing.T) {
	storage := localstore.NewMemoryStorage()
	s := New(storage)
	s.Set(KeySessionID, uuid.New())
	s.Set(KeyIsAdmin, true)

	var wild []change
	s.On(Wildcard, record(&wild))
	s.Reset()

	if s.SessionID() != uuid.Nil || s.IsAdmin() {
		t.Fatalf("expected defaults after reset")
	}
	if len(wild) != 1 || wild[0].key != Wildcard {
		t.Fatalf("expected one wildcard notification, got %v", wild)
	}
	if _, err := storage.Get(context.Background(), SnapshotKey); !errors.Is(err, localstore.ErrNotExist) {
		t.Fatalf("expected snapshot erased, got %v", err)
	}
}

func TestTypedGettersReturnCopies(t *testing.T) {
	s := New(nil)
	s.Set(KeyTeams, []models.Team{{Name: "Alpha", Powerups: []models.PowerupType{models.PowerupRollDice}}})

	teams := s.Teams()
	teams[0].Powerups[0] = models.PowerupScoreBash
	if s.Teams()[0].Powerups[0] != models.PowerupRollDice {
		t.Fatalf("expected store contents to be unaffected by caller mutation")
	}
}
