package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	v1 "imzo/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	gwMaxFrameBytes        = 1 << 20
	gwDefaultWriteTimeout  = 5 * time.Second
	gwDefaultChunkRunes    = 8
	gwDefaultChunkInterval = 30 * time.Millisecond
)

// TokenChecker validates bearer tokens on upgrade.
type TokenChecker interface {
	ValidToken(tok string) bool
}

// Responder produces the canned assistant reply for a user message.
type Responder func(roomID, message string) string

// DefaultResponder echoes the question inside a fixed reply so transcripts
// stay readable in dev.
func DefaultResponder(_, message string) string {
	return fmt.Sprintf(
		"You asked: %q. This is a canned response from the Imzo stub backend, streamed chunk by chunk the way the production service would answer.",
		message,
	)
}

// Gateway is the WebSocket side of the stub: it accepts the chat contract's
// request envelope and streams the reply back as chunk frames followed by
// the end marker, persisting the completed turn.
type Gateway struct {
	log    *slog.Logger
	store  Store
	tokens TokenChecker

	respond       Responder
	chunkRunes    int
	chunkInterval time.Duration
	writeTimeout  time.Duration
}

// NewGateway constructs a gateway. A nil responder uses DefaultResponder; a
// nil token checker disables auth (open dev mode).
func NewGateway(log *slog.Logger, store Store, tokens TokenChecker, respond Responder) *Gateway {
	if respond == nil {
		respond = DefaultResponder
	}
	return &Gateway{
		log:           log,
		store:         store,
		tokens:        tokens,
		respond:       respond,
		chunkRunes:    gwDefaultChunkRunes,
		chunkInterval: gwDefaultChunkInterval,
		writeTimeout:  gwDefaultWriteTimeout,
	}
}

// SetChunking overrides the streaming cadence; tests use tiny values.
func (g *Gateway) SetChunking(runes int, interval time.Duration) {
	if runes > 0 {
		g.chunkRunes = runes
	}
	if interval >= 0 {
		g.chunkInterval = interval
	}
}

// HandleWS upgrades the request and runs the request/response loop until the
// peer disconnects.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.PathValue("room"))
	if roomID == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}

	if g.tokens != nil && !g.tokens.ValidToken(bearerToken(r)) {
		g.log.Info("ws.reject.token", "room_id", roomID, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if _, err := g.store.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		g.log.Error("ws.room.lookup.fail", "room_id", roomID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(gwMaxFrameBytes)

	metricWSSessions.Inc()
	g.log.Info("ws.session.start", "room_id", roomID, "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				g.log.Info("ws.session.end", "room_id", roomID, "reason", "peer closed")
			case readErrCtxDone, readErrConnClosed:
				g.log.Info("ws.session.end", "room_id", roomID, "reason", "conn closed")
			default:
				g.log.Info("ws.read.fail", "room_id", roomID, "err", err)
			}
			return
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}

		var req v1.Request
		if err := json.Unmarshal(data, &req); err != nil {
			g.log.Warn("ws.request.bad_json", "room_id", roomID, "err", err)
			continue
		}
		if err := req.Validate(); err != nil {
			g.log.Warn("ws.request.invalid", "room_id", roomID, "err", err)
			continue
		}

		metricRequests.Inc()

		reply := g.respond(roomID, req.Message)
		if err := g.streamReply(ctx, conn, reply); err != nil {
			g.log.Info("ws.stream.fail", "room_id", roomID, "err", err)
			return
		}

		if _, err := g.store.AppendTurn(ctx, AppendTurnInput{
			RoomID:   roomID,
			Request:  req.Message,
			Response: reply,
		}); err != nil {
			g.log.Error("ws.turn.persist.fail", "room_id", roomID, "err", err)
		}
	}
}

// streamReply writes the reply as chunk frames and the end marker.
func (g *Gateway) streamReply(ctx context.Context, conn *websocket.Conn, reply string) error {
	runes := []rune(reply)

	for i := 0; i < len(runes); i += g.chunkRunes {
		end := i + g.chunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		if err := g.writeJSON(ctx, conn, v1.NewChunk(string(runes[i:end]))); err != nil {
			return err
		}
		metricChunks.Inc()

		if g.chunkInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.chunkInterval):
			}
		}
	}

	return g.writeJSON(ctx, conn, v1.NewEnd())
}

func (g *Gateway) writeJSON(parent context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

// bearerToken extracts the token from the Authorization header or, for
// clients that cannot set headers on upgrade, the token query parameter.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
