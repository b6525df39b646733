package stubserver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// maxTurnsPerRoom bounds memory in long-running dev sessions. Oldest turns
// are dropped first.
const maxTurnsPerRoom = 1000

// InMemoryStore is the default store for dev and CI runs.
type InMemoryStore struct {
	mu      sync.Mutex
	rooms   map[string]Room
	turns   map[string][]TurnRecord
	nextSeq map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rooms:   make(map[string]Room),
		turns:   make(map[string][]TurnRecord),
		nextSeq: make(map[string]int64),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreateRoom(_ context.Context, id, title string, now time.Time) (Room, error) {
	if id == "" {
		return Room{}, errors.New("stubserver: empty room id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[id]; ok {
		return r, nil
	}
	r := Room{ID: id, Title: title, CreatedAt: now}
	s.rooms[id] = r
	return r, nil
}

func (s *InMemoryStore) GetRoom(_ context.Context, id string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return r, nil
}

func (s *InMemoryStore) ListRooms(_ context.Context) ([]Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, in AppendTurnInput) (TurnRecord, error) {
	if in.RoomID == "" {
		return TurnRecord{}, errors.New("stubserver: empty room id")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[in.RoomID]; !ok {
		return TurnRecord{}, ErrRoomNotFound
	}

	seq := s.nextSeq[in.RoomID] + 1
	s.nextSeq[in.RoomID] = seq

	rec := TurnRecord{
		RoomID:    in.RoomID,
		Seq:       seq,
		Request:   in.Request,
		Response:  in.Response,
		CreatedAt: now,
	}

	list := append(s.turns[in.RoomID], rec)
	if len(list) > maxTurnsPerRoom {
		list = list[len(list)-maxTurnsPerRoom:]
	}
	s.turns[in.RoomID] = list

	return rec, nil
}

func (s *InMemoryStore) History(_ context.Context, roomID string) ([]TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, ErrRoomNotFound
	}
	return append([]TurnRecord(nil), s.turns[roomID]...), nil
}
