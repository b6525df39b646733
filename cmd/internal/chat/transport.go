package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	v1 "imzo/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsMaxFrameBytes  = 1 << 20
	wsWriteTimeout   = 5 * time.Second
	wsCloseMaxReason = 123
)

// Transport is one established chat socket. Read returns raw frame bytes;
// decoding happens in the session so malformed frames can be logged with
// the session's context.
type Transport interface {
	Send(ctx context.Context, req v1.Request) error
	Read(ctx context.Context) ([]byte, error)
	Close(reason string) error
}

// Dialer establishes a Transport for a room URL. Tests substitute fakes.
type Dialer func(ctx context.Context, rawURL string) (Transport, error)

// TokenSource supplies the bearer token attached to dials.
type TokenSource interface {
	Token() string
}

// WSDialer dials real WebSocket transports.
type WSDialer struct {
	Token TokenSource
}

// Dial connects to rawURL and returns the transport.
func (d WSDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	opts := &websocket.DialOptions{}
	if d.Token != nil {
		if tok := d.Token.Token(); tok != "" {
			opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + tok}}
		}
	}

	conn, _, err := websocket.Dial(ctx, rawURL, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	conn.SetReadLimit(wsMaxFrameBytes)

	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, req v1.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return t.conn.Write(wctx, websocket.MessageText, b)
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	mt, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (t *wsTransport) Close(reason string) error {
	if len(reason) > wsCloseMaxReason {
		reason = reason[:wsCloseMaxReason]
	}
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func (k readErrKind) String() string {
	switch k {
	case readErrClose:
		return "peer_close"
	case readErrCtxDone:
		return "ctx_done"
	case readErrConnClosed:
		return "conn_closed"
	default:
		return "unknown"
	}
}

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
