// Package main provides a CI-friendly smoke test for the Imzo stub backend.
//
// It validates:
//   - OTP sign-in with the dev debug code
//   - room creation over HTTP
//   - WebSocket handshake with a bearer token
//   - request -> chunked response -> end marker
//   - the settled turn appearing in room history
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "imzo/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		apiURL  = flag.String("api", "http://127.0.0.1:8091", "Stub HTTP API base URL")
		wsURL   = flag.String("ws", "", "WebSocket base URL (default: derived from -api)")
		phone   = flag.String("phone", "+998900000000", "Phone number for OTP sign-in")
		text    = flag.String("text", "salom, bu smoke test", "Message text to send")
		timeout = flag.Duration("timeout", 10*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsBase := strings.TrimSpace(*wsURL)
	if wsBase == "" {
		wsBase = deriveWS(*apiURL)
	}
	if err := validateWSURL(wsBase); err != nil {
		fatalf("invalid ws url %q: %v", wsBase, err)
	}

	root := context.Background()

	token := mustSignIn(root, *apiURL, *phone, *timeout)
	if *verbose {
		fmt.Printf("signed in: phone=%s\n", *phone)
	}

	room := mustCreateRoom(root, *apiURL, token, *text, *timeout)
	if *verbose {
		fmt.Printf("room created: id=%s title=%q\n", room.ID, room.Title)
	}

	reply := mustChat(root, wsBase+"/"+url.PathEscape(room.ID), token, *text, *timeout)
	if *verbose {
		fmt.Printf("reply: %q\n", reply)
	}

	mustHistoryContains(root, *apiURL, token, room.ID, *text, reply, *timeout)

	fmt.Printf("OK: room_id=%s reply_len=%d\n", room.ID, len(reply))
}

func deriveWS(api string) string {
	switch {
	case strings.HasPrefix(api, "https://"):
		return "wss://" + strings.TrimPrefix(api, "https://") + "/ws"
	case strings.HasPrefix(api, "http://"):
		return "ws://" + strings.TrimPrefix(api, "http://") + "/ws"
	default:
		return api + "/ws"
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustSignIn(parent context.Context, apiURL, phone string, stepTimeout time.Duration) string {
	var reqOut v1.OTPRequestResponse
	mustPostJSON(parent, apiURL+"/auth/otp/request", "", v1.OTPRequest{Phone: phone}, &reqOut, stepTimeout)
	if reqOut.DebugCode == "" {
		fatalf("stub did not return a debug code; is it running in dev mode?")
	}

	var verOut v1.OTPVerifyResponse
	mustPostJSON(parent, apiURL+"/auth/otp/verify", "", v1.OTPVerifyRequest{Phone: phone, Code: reqOut.DebugCode}, &verOut, stepTimeout)
	if verOut.Token == "" {
		fatalf("verify returned no token")
	}
	return verOut.Token
}

func mustCreateRoom(parent context.Context, apiURL, token, title string, stepTimeout time.Duration) v1.Room {
	var room v1.Room
	mustPostJSON(parent, apiURL+"/rooms", token, v1.CreateRoomRequest{Title: title}, &room, stepTimeout)
	if strings.TrimSpace(room.ID) == "" {
		fatalf("create room returned no id")
	}
	return room
}

// mustChat sends one request over the socket and accumulates chunk frames
// until the end marker, returning the assembled reply.
func mustChat(parent context.Context, roomURL, token, text string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, roomURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("ws dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxReadBytes)

	req, err := json.Marshal(v1.NewRequest(text))
	if err != nil {
		fatalf("marshal request: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		fatalf("ws write: %v", err)
	}

	var reply strings.Builder
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			fatalf("ws read: %v", err)
		}
		fr, err := v1.DecodeFrame(data)
		if err != nil {
			fatalf("bad frame: %v", err)
		}
		switch fr.Kind {
		case v1.FrameChunk:
			reply.WriteString(fr.Data)
		case v1.FrameEnd:
			if reply.Len() == 0 {
				fatalf("end marker before any chunk")
			}
			return reply.String()
		default:
			// Unknown frames are ignored, same as the client does.
		}
	}
}

func mustHistoryContains(parent context.Context, apiURL, token, roomID, request, response string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	// Persistence happens right after the end frame; poll briefly.
	deadline := time.Now().Add(stepTimeout)
	for {
		turns := fetchHistory(ctx, apiURL, token, roomID)
		for _, tr := range turns {
			if tr.Request == request && tr.Response == response {
				return
			}
		}
		if time.Now().After(deadline) {
			fatalf("history missing the smoke turn: got %d turns", len(turns))
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func fetchHistory(ctx context.Context, apiURL, token, roomID string) []v1.HistoryTurn {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/rooms/"+url.PathEscape(roomID)+"/history", nil)
	if err != nil {
		fatalf("history request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("history fetch: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("history fetch: status %d", resp.StatusCode)
	}
	var turns []v1.HistoryTurn
	if err := json.NewDecoder(resp.Body).Decode(&turns); err != nil {
		fatalf("decode history: %v", err)
	}
	return turns
}

func mustPostJSON(parent context.Context, url, token string, in, out any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(in)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fatalf("POST %s: status %d", url, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("decode %s: %v", url, err)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
