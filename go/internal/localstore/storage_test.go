package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func exercise(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if err := s.Set(ctx, "teams_abc", []byte(`[1,2]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "teams_abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `[1,2]` {
		t.Fatalf("expected [1,2], got %s", got)
	}
	if err := s.Remove(ctx, "teams_abc"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, "teams_abc"); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
	if _, err := s.Get(ctx, "teams_abc"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist after remove, got %v", err)
	}
}

func TestMemoryStorage(t *testing.T) {
	exercise(t, NewMemoryStorage())
}

func TestFileStorage(t *testing.T) {
	s, err := NewFileStorage(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	exercise(t, s)
}

func TestFileStorageEscapesKeys(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStorage(dir)
	if err := s.Set(context.Background(), "../escape", []byte("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.json")); err == nil {
		t.Fatalf("expected key to stay inside storage dir")
	}
}

func TestRedisStorageKeyPrefix(t *testing.T) {
	r := NewRedisStorage(nil, "classroom", 0)
	if got := r.key("classroomGameState"); got != "classroom:classroomGameState" {
		t.Fatalf("expected prefixed key, got %q", got)
	}
	if r.timeout <= 0 {
		t.Fatalf("expected default timeout")
	}
}
