// Package app wires the Imzo client runtime: config, logging, the chat
// session, and the terminal read-eval loop.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imzo/cmd/internal/analysis"
	"imzo/cmd/internal/auth"
	"imzo/cmd/internal/chat"
	"imzo/cmd/internal/rooms"
)

// App is the Imzo terminal client: it owns the auth state, the HTTP clients,
// and the chat session, and drives them from a line-based prompt.
type App struct {
	cfg Config
	log Logger

	state   *auth.State
	otp     *auth.OTPClient
	dir     *rooms.Directory
	analyze *analysis.Client
	sess    *chat.Session

	in  io.Reader
	out io.Writer

	render *renderer
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("app: empty API base URL")
	}

	a := &App{
		cfg:   cfg,
		log:   log,
		state: auth.NewState(),
		in:    os.Stdin,
		out:   os.Stdout,
	}
	a.render = &renderer{pf: a.printf}

	a.otp = auth.NewOTPClient(log, cfg.APIBaseURL)
	a.dir = rooms.NewDirectory(log, cfg.APIBaseURL, a.state)

	a.analyze = analysis.NewClient(log, cfg.APIBaseURL, a.state)
	if cfg.AnalysisPollInterval > 0 {
		a.analyze.PollInterval = cfg.AnalysisPollInterval
	}
	if cfg.AnalysisPollBudget > 0 {
		a.analyze.PollBudget = cfg.AnalysisPollBudget
	}

	dialer := chat.WSDialer{Token: a.state}
	a.sess = chat.NewSession(chat.Options{
		Log: log,
		Config: chat.Config{
			WSBaseURL:       cfg.WSBaseURL,
			DialTimeout:     cfg.DialTimeout,
			ReconnectDelay:  cfg.ReconnectDelay,
			ReconnectBudget: cfg.ReconnectBudget,
			ConnectTimeout:  cfg.ConnectTimeout,
		},
		Auth: a.state,
		Dial: dialer.Dial,
		History: func(ctx context.Context, roomID string) ([]chat.Turn, error) {
			hs, err := a.dir.History(ctx, roomID)
			if err != nil {
				return nil, err
			}
			out := make([]chat.Turn, len(hs))
			for i, h := range hs {
				out[i] = chat.Turn{Request: h.Request, Response: h.Response}
			}
			return out, nil
		},
		Events: chat.Events{
			TurnsChanged: func() { a.render.onTurns(a.sess.Snapshot()) },
			Notice:       func(msg string) { a.render.notice(msg) },
		},
	})

	return a, nil
}

// Run drives the prompt until ctx is cancelled or input ends.
func (a *App) Run(ctx context.Context) error {
	defer a.sess.Close()

	a.printf("imzo: huquqiy savollaringizga yordamchi\n")
	a.printf("commands: /login /rooms /open <id> /new <title> /analyze <file> <question> /quit\n")

	sc := bufio.NewScanner(a.in)
	sc.Buffer(make([]byte, 64*1024), 64*1024)

	if !a.state.Authenticated() {
		if err := a.login(ctx, sc); err != nil {
			return err
		}
	}

	for {
		a.prompt()
		if !sc.Scan() {
			if err := sc.Err(); err != nil && ctx.Err() == nil {
				return err
			}
			return ctx.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cmd := parseCommand(sc.Text())
		switch cmd.name {
		case cmdNone:
			continue
		case cmdQuit:
			return nil
		case cmdLogin:
			if err := a.login(ctx, sc); err != nil {
				return err
			}
		case cmdRooms:
			a.listRooms(ctx)
		case cmdOpen:
			a.openRoom(ctx, cmd.arg)
		case cmdNew:
			a.newRoom(ctx, cmd.arg)
		case cmdAnalyze:
			a.analyzeFile(ctx, cmd.arg, cmd.rest)
		case cmdUnknown:
			a.printf("unknown command %q\n", cmd.arg)
		case cmdSay:
			a.say(ctx, cmd.rest)
		}
	}
}

// ---- commands ----

// login runs the two-step OTP prompt and stores the resulting token.
func (a *App) login(ctx context.Context, sc *bufio.Scanner) error {
	phone := strings.TrimSpace(a.cfg.Phone)
	if phone == "" {
		a.printf("phone: ")
		if !sc.Scan() {
			return sc.Err()
		}
		phone = strings.TrimSpace(sc.Text())
	}

	debugCode, err := a.otp.RequestCode(ctx, phone)
	if err != nil {
		a.printf("could not request a code: %v\n", err)
		return nil
	}
	if debugCode != "" {
		a.printf("dev code: %s\n", debugCode)
	}

	a.printf("code: ")
	if !sc.Scan() {
		return sc.Err()
	}
	code := strings.TrimSpace(sc.Text())

	token, err := a.otp.VerifyCode(ctx, phone, code)
	if err != nil {
		if errors.Is(err, auth.ErrBadCode) {
			a.printf("code rejected, try /login again\n")
			return nil
		}
		a.printf("verify failed: %v\n", err)
		return nil
	}

	a.state.SignIn(phone, token)
	a.printf("signed in as %s\n", phone)
	return nil
}

// ToLogin satisfies auth.Navigator: a rejected token drops the session back
// to the sign-in prompt on the next line.
func (a *App) ToLogin() {
	a.state.Clear()
	a.sess.Close()
	a.printf("\nsession expired, use /login to sign in again\n")
}

func (a *App) listRooms(ctx context.Context) {
	list, err := a.dir.List(ctx)
	if err != nil {
		if errors.Is(err, rooms.ErrUnauthorized) {
			a.ToLogin()
			return
		}
		a.printf("list rooms: %v\n", err)
		return
	}
	a.sess.Store().SetRooms(list)
	if len(list) == 0 {
		a.printf("no rooms yet; just type a question to start one\n")
		return
	}
	for _, r := range list {
		marker := " "
		if r.ID == a.sess.Store().ActiveRoom() {
			marker = "*"
		}
		a.printf("%s %s  %s\n", marker, r.ID, r.Title)
	}
}

func (a *App) openRoom(ctx context.Context, id string) {
	if id == "" {
		a.printf("usage: /open <room-id>\n")
		return
	}
	if err := a.sess.SwitchRoom(ctx, id); err != nil {
		if errors.Is(err, rooms.ErrUnauthorized) {
			a.ToLogin()
			return
		}
		a.printf("open %s: %v\n", id, err)
		return
	}
	a.render.reset()
	for _, t := range a.sess.Snapshot().Turns {
		a.printf("> %s\n%s\n", t.Request, t.Response)
	}
	a.printf("room %s opened\n", id)
}

func (a *App) newRoom(ctx context.Context, title string) {
	if title == "" {
		a.printf("usage: /new <title>\n")
		return
	}
	room, err := a.dir.Create(ctx, title)
	if err != nil {
		if errors.Is(err, rooms.ErrUnauthorized) {
			a.ToLogin()
			return
		}
		a.printf("create room: %v\n", err)
		return
	}
	a.printf("room %s created\n", room.ID)
	a.openRoom(ctx, room.ID)
}

// say sends a chat message, creating a room from the message text when none
// is open yet.
func (a *App) say(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	roomID := a.sess.Store().ActiveRoom()
	if roomID == "" {
		room, err := a.dir.CreateWithFallback(ctx, text)
		if err != nil {
			if errors.Is(err, rooms.ErrUnauthorized) {
				a.ToLogin()
				return
			}
			a.printf("create room: %v\n", err)
			return
		}
		if err := a.sess.SwitchRoom(ctx, room.ID); err != nil {
			a.printf("open %s: %v\n", room.ID, err)
			return
		}
		roomID = room.ID
		a.printf("room %s\n", roomID)
	}

	if err := a.sess.EnsureConnected(ctx, roomID, 0); err != nil {
		a.printf("connect: %v\n", err)
		return
	}

	a.render.reset()
	if err := a.sess.Send(ctx, roomID, text); err != nil {
		switch {
		case errors.Is(err, chat.ErrUnauthenticated):
			a.ToLogin()
		case errors.Is(err, chat.ErrTurnInFlight):
			a.printf("wait for the current answer to finish\n")
		default:
			a.printf("send: %v\n", err)
		}
		return
	}
	a.waitSettle(ctx)
}

// waitSettle blocks the prompt until the in-flight turn finishes streaming,
// so the reply does not interleave with the next input line.
func (a *App) waitSettle(ctx context.Context) {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			v := a.sess.Snapshot()
			if n := len(v.Turns); n == 0 || !v.Turns[n-1].Streaming {
				return
			}
			if v.State == chat.StateFailed {
				return
			}
		}
	}
}

// analyzeFile uploads a document, waits for the verdict, and plays it back
// as a turn in the open room.
func (a *App) analyzeFile(ctx context.Context, path, question string) {
	if path == "" {
		a.printf("usage: /analyze <file> <question>\n")
		return
	}
	question = strings.TrimSpace(question)
	if question == "" {
		question = "Ushbu hujjatni tahlil qilib bering."
	}

	f, err := os.Open(path)
	if err != nil {
		a.printf("open file: %v\n", err)
		return
	}
	defer func() { _ = f.Close() }()

	request := fmt.Sprintf("[%s] %s", filepath.Base(path), question)
	if err := a.sess.BeginLocalTurn(request); err != nil {
		a.printf("wait for the current answer to finish\n")
		return
	}
	a.render.reset()

	jobID, err := a.analyze.Submit(ctx, filepath.Base(path), f, question)
	if err != nil {
		a.failAnalysis(err)
		return
	}
	a.printf("analysis submitted, waiting...\n")

	result, err := a.analyze.Await(ctx, jobID)
	if err != nil {
		a.failAnalysis(err)
		return
	}
	a.sess.PlayResponse(result)
	a.waitSettle(ctx)
}

func (a *App) failAnalysis(err error) {
	switch {
	case errors.Is(err, analysis.ErrUnauthorized):
		a.sess.FailTurn("analysis rejected: signed out")
		a.ToLogin()
	case errors.Is(err, analysis.ErrTimeout):
		a.sess.FailTurn("analysis timed out")
		a.printf("analysis timed out\n")
	default:
		a.sess.FailTurn("analysis failed: " + err.Error())
		a.printf("analysis failed: %v\n", err)
	}
}

// ---- output ----

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) prompt() {
	room := a.sess.Store().ActiveRoom()
	if room == "" {
		a.printf("imzo> ")
		return
	}
	a.printf("imzo %s> ", room)
}
