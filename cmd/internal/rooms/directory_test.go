package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	v1 "imzo/shared/contracts/chat/v1"
)

type staticToken string

func (t staticToken) Token() string { return string(t) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]v1.Room{{ID: "r1", Title: "one"}})
	}))
	defer srv.Close()

	d := NewDirectory(testLogger(), srv.URL, staticToken("tok-1"))
	rooms, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "r1" {
		t.Fatalf("rooms = %+v", rooms)
	}
}

func TestUnauthorizedMapping(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		d := NewDirectory(testLogger(), srv.URL, nil)
		_, err := d.List(context.Background())
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("status %d: err = %v, want ErrUnauthorized", status, err)
		}
		srv.Close()
	}
}

func TestCreateTruncatesTitle(t *testing.T) {
	var got v1.CreateRoomRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(v1.Room{ID: "r-new", Title: got.Title})
	}))
	defer srv.Close()

	seed := strings.Repeat("uzoq savol matni ", 10)
	d := NewDirectory(testLogger(), srv.URL, nil)
	room, err := d.Create(context.Background(), seed)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if room.ID != "r-new" {
		t.Fatalf("room = %+v", room)
	}
	if n := utf8.RuneCountInString(got.Title); n != 50 {
		t.Fatalf("title runes = %d, want 50", n)
	}
	if !strings.HasPrefix(seed, got.Title) {
		t.Fatalf("title %q is not a prefix of the seed", got.Title)
	}
}

func TestTitleFromSeed(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  hello  ", "hello"},
		{"", ""},
		{strings.Repeat("é", 60), strings.Repeat("é", 50)},
		{"short", "short"},
	}
	for _, c := range cases {
		if got := TitleFromSeed(c.in); got != c.want {
			t.Fatalf("TitleFromSeed(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCreateRejectionMapsToErrCreateRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := NewDirectory(testLogger(), srv.URL, nil)
	_, err := d.Create(context.Background(), "seed")
	if !errors.Is(err, ErrCreateRoom) {
		t.Fatalf("err = %v, want ErrCreateRoom", err)
	}
}

func TestCreateWithFallbackReusesExistingRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			http.Error(w, "no", http.StatusUnprocessableEntity)
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]v1.Room{
				{ID: "r-old", Title: "old"},
				{ID: "r-older", Title: "older"},
			})
		}
	}))
	defer srv.Close()

	d := NewDirectory(testLogger(), srv.URL, nil)
	room, err := d.CreateWithFallback(context.Background(), "seed")
	if err != nil {
		t.Fatalf("CreateWithFallback: %v", err)
	}
	if room.ID != "r-old" {
		t.Fatalf("room = %+v, want the first existing room", room)
	}
}

func TestCreateWithFallbackPropagatesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewDirectory(testLogger(), srv.URL, nil)
	_, err := d.CreateWithFallback(context.Background(), "seed")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCreateWithFallbackNoRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			http.Error(w, "no", http.StatusUnprocessableEntity)
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]v1.Room{})
		}
	}))
	defer srv.Close()

	d := NewDirectory(testLogger(), srv.URL, nil)
	_, err := d.CreateWithFallback(context.Background(), "seed")
	if !errors.Is(err, ErrCreateRoom) {
		t.Fatalf("err = %v, want ErrCreateRoom when nothing to fall back to", err)
	}
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms/r1/history" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]v1.HistoryTurn{
			{Request: "q1", Response: "a1"},
			{Request: "q2", Response: "a2"},
		})
	}))
	defer srv.Close()

	d := NewDirectory(testLogger(), srv.URL, nil)
	turns, err := d.History(context.Background(), "r1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 || turns[0].Request != "q1" || turns[1].Response != "a2" {
		t.Fatalf("turns = %+v", turns)
	}

	if _, err := d.History(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank room id")
	}
}
