package stubserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"imzo/cmd/internal/analysis"
	"imzo/cmd/internal/auth"
	"imzo/cmd/internal/chat"
	"imzo/cmd/internal/rooms"
)

func wsBase(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func fastSessionConfig(ts *httptest.Server) chat.Config {
	return chat.Config{
		WSBaseURL:      wsBase(ts),
		ReconnectDelay: 10 * time.Millisecond,
		ConnectPoll:    2 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		PlaybackTick:   time.Millisecond,
	}
}

// TestEndToEndChat runs the real client stack against the stub: OTP sign-in,
// room creation, a streamed chat turn over the socket, and history reload on
// room switch.
func TestEndToEndChat(t *testing.T) {
	ts, _ := newTestServer(t)

	state := auth.NewState()
	token := signIn(t, ts.URL)
	state.SignIn("+998900000001", token)

	dir := rooms.NewDirectory(testLogger(), ts.URL, state)
	room, err := dir.Create(context.Background(), "birinchi savolim")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	dialer := chat.WSDialer{Token: state}
	sess := chat.NewSession(chat.Options{
		Log:    testLogger(),
		Config: fastSessionConfig(ts),
		Auth:   state,
		Dial:   dialer.Dial,
		History: func(ctx context.Context, roomID string) ([]chat.Turn, error) {
			hs, err := dir.History(ctx, roomID)
			if err != nil {
				return nil, err
			}
			out := make([]chat.Turn, len(hs))
			for i, h := range hs {
				out[i] = chat.Turn{Request: h.Request, Response: h.Response}
			}
			return out, nil
		},
	})
	defer sess.Close()

	if err := sess.SwitchRoom(context.Background(), room.ID); err != nil {
		t.Fatalf("SwitchRoom: %v", err)
	}
	if err := sess.EnsureConnected(context.Background(), room.ID, 0); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if err := sess.Send(context.Background(), room.ID, "salom, bu test"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		v := sess.Snapshot()
		if len(v.Turns) == 1 && !v.Turns[0].Streaming {
			if v.Turns[0].Failed {
				t.Fatalf("turn failed: %+v", v.Turns[0])
			}
			if !strings.Contains(v.Turns[0].Response, "salom, bu test") {
				t.Fatalf("response = %q", v.Turns[0].Response)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("turn never settled: %+v", v.Turns)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The completed turn is persisted and comes back as history on switch.
	// Persistence happens just after the end frame, so give the stub a beat.
	time.Sleep(50 * time.Millisecond)
	if err := sess.SwitchRoom(context.Background(), room.ID); err != nil {
		t.Fatalf("SwitchRoom back: %v", err)
	}
	v := sess.Snapshot()
	if len(v.Turns) != 1 || v.Turns[0].Request != "salom, bu test" {
		t.Fatalf("history after switch = %+v", v.Turns)
	}
}

func TestGatewayRejectsBadToken(t *testing.T) {
	ts, srv := newTestServer(t)

	room, err := srv.store.CreateRoom(context.Background(), "r1", "test", time.Time{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	dialer := chat.WSDialer{Token: staticToken("not-a-token")}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := dialer.Dial(ctx, wsBase(ts)+"/"+room.ID); err == nil {
		t.Fatal("dial with a forged token succeeded")
	}
}

func TestGatewayUnknownRoom(t *testing.T) {
	ts, srv := newTestServer(t)

	code, err := srv.otp.IssueCode("+998900000009", time.Time{})
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	tok, err := srv.otp.Verify("+998900000009", code, time.Time{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	dialer := chat.WSDialer{Token: staticToken(tok)}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := dialer.Dial(ctx, wsBase(ts)+"/no-such-room"); err == nil {
		t.Fatal("dial to an unknown room succeeded")
	}
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

// TestAnalysisEndToEnd drives the analysis client against the stub's job
// endpoints: pending at first, done after the stub delay.
func TestAnalysisEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signIn(t, ts.URL)

	c := analysis.NewClient(testLogger(), ts.URL, staticToken(token))
	c.PollInterval = 5 * time.Millisecond

	jobID, err := c.Submit(context.Background(), "contract.pdf", strings.NewReader("pdf-bytes"), "xulosa?")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res, err := c.Await(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !strings.Contains(res, "contract.pdf") {
		t.Fatalf("result = %q", res)
	}
}
