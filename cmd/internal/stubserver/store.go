// Package stubserver is the development and CI backend for the Imzo chat
// client. It implements the same HTTP and WebSocket contract as the
// production inference backend, with canned responses.
package stubserver

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRoomNotFound = errors.New("stubserver: room not found")
)

// Room is a stored chat room.
type Room struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// TurnRecord is one completed request/response pair. Only settled turns are
// stored; a turn that never finished streaming is not history.
type TurnRecord struct {
	RoomID    string
	Seq       int64
	Request   string
	Response  string
	CreatedAt time.Time
}

// AppendTurnInput is the write shape for AppendTurn.
type AppendTurnInput struct {
	RoomID   string
	Request  string
	Response string
	Now      time.Time
}

// Store persists rooms and their completed turns.
type Store interface {
	CreateRoom(ctx context.Context, id, title string, now time.Time) (Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	AppendTurn(ctx context.Context, in AppendTurnInput) (TurnRecord, error)
	History(ctx context.Context, roomID string) ([]TurnRecord, error)
	Close() error
}
