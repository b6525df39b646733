package chat

import "errors"

var (
	// ErrUnauthenticated is returned when an operation requires a signed-in
	// user and the auth state has no token.
	ErrUnauthenticated = errors.New("chat: not authenticated")

	// ErrEmptyMessage is returned by Send when the text is blank after trim.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrEmptyRoomID is returned when a room-scoped operation gets a blank id.
	ErrEmptyRoomID = errors.New("chat: empty room id")

	// ErrNeedsReconnect is returned by Send when the socket is not open for
	// the requested room. Callers should EnsureConnected and retry.
	ErrNeedsReconnect = errors.New("chat: connection not open")

	// ErrTurnInFlight is returned by BeginTurn while the previous response
	// is still streaming.
	ErrTurnInFlight = errors.New("chat: a turn is already streaming")

	// ErrConnectTimeout is returned by EnsureConnected when the socket did
	// not reach open within the wait window. Distinct from a transport
	// close: the session may still be retrying in the background.
	ErrConnectTimeout = errors.New("chat: timed out waiting for connection")

	// ErrReconnectExhausted is returned when the retry budget is spent.
	ErrReconnectExhausted = errors.New("chat: reconnect attempts exhausted")
)
