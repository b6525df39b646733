// Package rooms is the HTTP client for the room directory: listing,
// creation, and history.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "imzo/shared/contracts/chat/v1"
)

const (
	titleMaxRunes  = 50
	defaultTimeout = 15 * time.Second
)

var (
	// ErrUnauthorized maps 401/403 responses. Callers route to login.
	ErrUnauthorized = errors.New("rooms: unauthorized")

	// ErrCreateRoom is returned when the backend rejects room creation.
	ErrCreateRoom = errors.New("rooms: create rejected")
)

// TokenSource supplies the bearer token attached to requests.
type TokenSource interface {
	Token() string
}

// Directory talks to the room directory API.
type Directory struct {
	log   *slog.Logger
	base  string
	hc    *http.Client
	token TokenSource
}

// NewDirectory constructs a Directory for the given API base URL.
func NewDirectory(log *slog.Logger, baseURL string, token TokenSource) *Directory {
	return &Directory{
		log:   log,
		base:  strings.TrimRight(baseURL, "/"),
		hc:    &http.Client{Timeout: defaultTimeout},
		token: token,
	}
}

// List returns the user's rooms.
func (d *Directory) List(ctx context.Context) ([]v1.Room, error) {
	var out []v1.Room
	if err := d.doJSON(ctx, http.MethodGet, "/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create makes a new room titled after the seed text: trimmed and cut to 50
// runes. A backend rejection surfaces as ErrCreateRoom.
func (d *Directory) Create(ctx context.Context, seedText string) (v1.Room, error) {
	var out v1.Room
	in := v1.CreateRoomRequest{Title: TitleFromSeed(seedText)}
	err := d.doJSON(ctx, http.MethodPost, "/rooms", in, &out)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && !errors.Is(err, ErrUnauthorized) {
			return v1.Room{}, fmt.Errorf("%w: %v", ErrCreateRoom, err)
		}
		return v1.Room{}, err
	}
	return out, nil
}

// History returns a room's settled turns, oldest first.
func (d *Directory) History(ctx context.Context, roomID string) ([]v1.HistoryTurn, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, errors.New("rooms: empty room id")
	}
	var out []v1.HistoryTurn
	path := "/rooms/" + url.PathEscape(roomID) + "/history"
	if err := d.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateWithFallback tries to create a room and, when the backend rejects
// the creation, falls back to the first existing room so the message still
// has somewhere to go. Auth and transport errors propagate unchanged.
func (d *Directory) CreateWithFallback(ctx context.Context, seedText string) (v1.Room, error) {
	room, err := d.Create(ctx, seedText)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrCreateRoom) {
		return v1.Room{}, err
	}

	d.log.Warn("rooms.create.fallback", "err", err)

	existing, listErr := d.List(ctx)
	if listErr != nil {
		return v1.Room{}, listErr
	}
	if len(existing) == 0 {
		return v1.Room{}, err
	}
	return existing[0], nil
}

// TitleFromSeed derives a room title from the first message text.
func TitleFromSeed(seed string) string {
	seed = strings.TrimSpace(seed)
	r := []rune(seed)
	if len(r) > titleMaxRunes {
		return string(r[:titleMaxRunes])
	}
	return seed
}

// ---- HTTP plumbing ----

type statusError struct {
	method string
	path   string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("rooms: %s %s: status %d", e.method, e.path, e.status)
}

func (e *statusError) Is(target error) bool {
	if target == ErrUnauthorized {
		return e.status == http.StatusUnauthorized || e.status == http.StatusForbidden
	}
	return false
}

func (d *Directory) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != nil {
		if tok := d.token.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := d.hc.Do(req)
	if err != nil {
		return fmt.Errorf("rooms: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{method: method, path: path, status: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rooms: decode %s %s: %w", method, path, err)
	}
	return nil
}
