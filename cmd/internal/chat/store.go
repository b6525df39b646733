// Package chat implements the Imzo chat session: the per-room turn store,
// the WebSocket session manager with its reconnect policy, and typed
// response playback.
package chat

import (
	"sync"

	v1 "imzo/shared/contracts/chat/v1"
)

// Turn is one request/response exchange in the active room. While Streaming
// is true the Response field grows as chunks arrive; exactly one turn (the
// tail) may be streaming at a time.
type Turn struct {
	Request   string
	Response  string
	Streaming bool
	Failed    bool
}

// View is a read-only copy of the store handed to the presentation layer.
type View struct {
	State   ConnState
	RoomID  string
	Rooms   []v1.Room
	Turns   []Turn
	Display string
}

// Store holds the room list, the active room, its turns, and the playback
// display buffer. All mutation goes through its methods; callers never hold
// references into its slices.
type Store struct {
	mu      sync.Mutex
	rooms   []v1.Room
	roomID  string
	turns   []Turn
	display string
}

func NewStore() *Store {
	return &Store{}
}

// SetRooms replaces the room list.
func (st *Store) SetRooms(rooms []v1.Room) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rooms = append([]v1.Room(nil), rooms...)
}

// SetActiveRoom switches the active room and drops the old room's turns and
// display buffer.
func (st *Store) SetActiveRoom(roomID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.roomID == roomID {
		return
	}
	st.roomID = roomID
	st.turns = nil
	st.display = ""
}

// ActiveRoom returns the active room id, or "" when none is selected.
func (st *Store) ActiveRoom() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.roomID
}

// LoadTurns replaces the turn list with history. History turns are always
// settled: streaming and failed flags are cleared regardless of input.
func (st *Store) LoadTurns(turns []Turn) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.turns = make([]Turn, len(turns))
	for i, t := range turns {
		st.turns[i] = Turn{Request: t.Request, Response: t.Response}
	}
	st.display = ""
}

// BeginTurn appends a new streaming turn for the given request. It refuses
// while the tail is still streaming so a room never has two in-flight turns.
func (st *Store) BeginTurn(request string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if n := len(st.turns); n > 0 && st.turns[n-1].Streaming {
		return ErrTurnInFlight
	}
	st.turns = append(st.turns, Turn{Request: request, Streaming: true})
	return nil
}

// AppendChunk appends data to the streaming tail. Without a streaming tail
// (no turn, or the turn already ended) the chunk is dropped and AppendChunk
// reports false.
func (st *Store) AppendChunk(data string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := len(st.turns)
	if n == 0 || !st.turns[n-1].Streaming {
		return false
	}
	st.turns[n-1].Response += data
	return true
}

// EndTurn settles the streaming tail. Reports false when no turn was
// streaming, which makes a duplicate end marker a no-op.
func (st *Store) EndTurn() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := len(st.turns)
	if n == 0 || !st.turns[n-1].Streaming {
		return false
	}
	st.turns[n-1].Streaming = false
	return true
}

// FailTail settles the streaming tail as failed, recording the reason as its
// response so the turn is not silently lost.
func (st *Store) FailTail(reason string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := len(st.turns)
	if n == 0 || !st.turns[n-1].Streaming {
		return false
	}
	st.turns[n-1].Streaming = false
	st.turns[n-1].Failed = true
	st.turns[n-1].Response = reason
	st.display = ""
	return true
}

// FinishPlayback settles the streaming tail with the full played-back text
// and clears the display buffer in the same step.
func (st *Store) FinishPlayback(full string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := len(st.turns)
	if n == 0 || !st.turns[n-1].Streaming {
		return false
	}
	st.turns[n-1].Streaming = false
	st.turns[n-1].Response = full
	st.display = ""
	return true
}

// SetDisplay replaces the playback display buffer.
func (st *Store) SetDisplay(s string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.display = s
}

// ClearDisplay drops the playback display buffer.
func (st *Store) ClearDisplay() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.display = ""
}

// Snapshot returns a copy of the store contents. State is filled in by the
// session, which owns the connection lifecycle.
func (st *Store) Snapshot() View {
	st.mu.Lock()
	defer st.mu.Unlock()
	return View{
		RoomID:  st.roomID,
		Rooms:   append([]v1.Room(nil), st.rooms...),
		Turns:   append([]Turn(nil), st.turns...),
		Display: st.display,
	}
}
