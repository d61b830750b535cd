package postgrest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/classroom/go/clients"
	"github.com/mcdev12/classroom/go/internal/persistence"
)

func TestEncodeQuery(t *testing.T) {
	since := time.Date(2024, 3, 1, 9, 0, 0, 500_000_000, time.UTC)
	q := persistence.Where(
		persistence.Eq("session_id", "abc"),
		persistence.Gt("created_at", since),
		persistence.IsNull("forced_theme"),
	).OrderBy("created_at").WithLimit(1)

	got := EncodeQuery(q)
	want := "session_id=eq.abc&created_at=gt.2024-03-01T09%3A00%3A00.5Z&forced_theme=is.null&order=created_at.asc&limit=1"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestFormatValue(t *testing.T) {
	id := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	cases := map[string]any{
		"true":                                 true,
		"42":                                   42,
		"null":                                 nil,
		"7d444840-9dc0-11d1-b245-5ffdce74fad2": id,
	}
	for want, in := range cases {
		if got := FormatValue(in); got != want {
			t.Fatalf("expected %q for %#v, got %q", want, in, got)
		}
	}
}

func TestListSendsHeadersAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/teams" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.RawQuery != "session_id=eq.s1&order=created_at.asc" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get(APIKeyHeader) != "key" || r.Header.Get(AuthorizationHeader) != "Bearer key" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		w.Write([]byte(`[{"id":"t1","team_name":"Alpha","score":10}]`))
	}))
	defer srv.Close()

	c := NewPostgrestClient(srv.URL, "key")
	got, err := c.List(context.Background(), persistence.TableTeams,
		persistence.Where(persistence.Eq("session_id", "s1")).OrderBy("created_at"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0]["team_name"] != "Alpha" {
		t.Fatalf("expected Alpha, got %v", got)
	}
}

func TestUpdateWithFailedPreconditionIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if r.URL.RawQuery != "id=eq.a1&locked=eq.false" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"answer":"x"}` {
			t.Errorf("unexpected body %s", body)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewPostgrestClient(srv.URL, "key")
	_, err := c.Update(context.Background(), persistence.TableAnswers, "a1",
		persistence.Record{"answer": "x"}, persistence.Eq("locked", false))
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateConflictIsErrConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint \"quiz_answers_question_id_team_id_key\""}`))
	}))
	defer srv.Close()

	c := NewPostgrestClient(srv.URL, "key")
	_, err := c.Create(context.Background(), persistence.TableAnswers,
		persistence.Record{"question_id": "q1", "team_id": "t1", "answer": ""})
	if !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestServerErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewPostgrestClient(srv.URL, "key")
	_, err := c.Create(context.Background(), persistence.TableTeams, persistence.Record{"team_name": "A"})
	var statusErr *clients.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if !statusErr.Temporary() {
		t.Fatalf("expected 502 to be temporary")
	}
}

func TestDeleteRequiresFilter(t *testing.T) {
	c := NewPostgrestClient("http://unused", "key")
	if err := c.Delete(context.Background(), persistence.TableTeams); !errors.Is(err, persistence.ErrUnfilteredDelete) {
		t.Fatalf("expected ErrUnfilteredDelete, got %v", err)
	}
}
