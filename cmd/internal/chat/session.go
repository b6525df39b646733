package chat

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	v1 "imzo/shared/contracts/chat/v1"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultReconnectDelay  = 3000 * time.Millisecond
	defaultReconnectBudget = 5
	defaultConnectPoll     = 100 * time.Millisecond
	defaultConnectTimeout  = 10 * time.Second
	defaultPlaybackTick    = 50 * time.Millisecond
)

// Config holds the session tunables. Zero fields take the defaults above.
type Config struct {
	// WSBaseURL is the socket base; the room id is appended as a path segment.
	WSBaseURL string

	DialTimeout     time.Duration
	ReconnectDelay  time.Duration
	ReconnectBudget int
	ConnectPoll     time.Duration
	ConnectTimeout  time.Duration
	PlaybackTick    time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.ReconnectBudget <= 0 {
		c.ReconnectBudget = defaultReconnectBudget
	}
	if c.ConnectPoll <= 0 {
		c.ConnectPoll = defaultConnectPoll
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PlaybackTick <= 0 {
		c.PlaybackTick = defaultPlaybackTick
	}
	return c
}

// AuthState answers whether a user is signed in.
type AuthState interface {
	Authenticated() bool
}

// HistoryFunc loads the settled turns of a room, oldest first.
type HistoryFunc func(ctx context.Context, roomID string) ([]Turn, error)

// Events are the session's callbacks to the presentation layer. Handlers
// must return quickly and must not call back into the Session. Nil fields
// are skipped.
type Events struct {
	StateChanged func(ConnState)
	TurnsChanged func()
	Notice       func(msg string)
}

// Options wires a Session.
type Options struct {
	Log     *slog.Logger
	Config  Config
	Store   *Store
	Auth    AuthState
	Dial    Dialer
	History HistoryFunc
	Events  Events
}

// Session owns the chat socket lifecycle for the active room: dialing,
// the reconnect policy, inbound frame application, and playback.
//
// Every dial attempt gets a connection epoch. Frames and close events are
// stamped with the epoch of the transport that produced them and discarded
// when the session has moved on, so a socket that dies during a room switch
// can never touch the new room's turns.
type Session struct {
	log     *slog.Logger
	cfg     Config
	store   *Store
	auth    AuthState
	dial    Dialer
	history HistoryFunc
	events  Events

	mu         sync.Mutex
	state      ConnState
	roomID     string
	epoch      int
	attempts   int
	tr         Transport
	cancelRead context.CancelFunc
	retry      *time.Timer
	pb         *playback
}

// NewSession constructs a session. Options.Store and Options.Dial are
// required; the rest have working defaults.
func NewSession(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	st := opts.Store
	if st == nil {
		st = NewStore()
	}
	return &Session{
		log:     log,
		cfg:     opts.Config.withDefaults(),
		store:   st,
		auth:    opts.Auth,
		dial:    opts.Dial,
		history: opts.History,
		events:  opts.Events,
	}
}

// Store exposes the session store for read-mostly callers.
func (s *Session) Store() *Store { return s.store }

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot combines the store contents with the connection state.
func (s *Session) Snapshot() View {
	v := s.store.Snapshot()
	v.State = s.State()
	return v
}

// Open binds the session to roomID and starts connecting. A blank room id
// or a signed-out user is logged and ignored. Opening the already-open room
// is a no-op; anything else tears the old binding down first.
func (s *Session) Open(roomID string) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		s.log.Warn("session.open.empty_room")
		return
	}
	if s.auth != nil && !s.auth.Authenticated() {
		s.log.Warn("session.open.unauthenticated", "room_id", roomID)
		return
	}

	s.mu.Lock()
	if s.roomID == roomID && (s.state == StateOpen || s.state == StateConnecting) {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.roomID = roomID
	epoch := s.epoch
	s.mu.Unlock()

	go s.connect(epoch)
}

// EnsureConnected opens roomID if needed and waits until the socket is open,
// polling the state. A non-positive timeout uses the configured default.
func (s *Session) EnsureConnected(ctx context.Context, roomID string, timeout time.Duration) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if timeout <= 0 {
		timeout = s.cfg.ConnectTimeout
	}
	if s.isOpenFor(roomID) {
		return nil
	}

	s.Open(roomID)

	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(s.cfg.ConnectPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if s.isOpenFor(roomID) {
				return nil
			}
			if s.State() == StateFailed {
				return ErrReconnectExhausted
			}
			if time.Now().After(deadline) {
				return ErrConnectTimeout
			}
		}
	}
}

// Send writes a user message to the open socket. The turn is recorded
// before the write so a failed write still leaves a visible failed turn.
func (s *Session) Send(ctx context.Context, roomID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if s.auth != nil && !s.auth.Authenticated() {
		return ErrUnauthenticated
	}

	s.mu.Lock()
	if s.state != StateOpen || s.roomID != roomID || s.tr == nil {
		s.mu.Unlock()
		return ErrNeedsReconnect
	}
	tr := s.tr
	s.mu.Unlock()

	if err := s.store.BeginTurn(text); err != nil {
		return err
	}
	s.emitTurns()

	if err := tr.Send(ctx, v1.NewRequest(text)); err != nil {
		metricSendFailures.Inc()
		s.log.Warn("ws.send.fail", "room_id", roomID, "err", err)
		if s.store.FailTail("send failed: " + err.Error()) {
			s.emitTurns()
		}
		return err
	}
	return nil
}

// BeginLocalTurn records a streaming turn that is not driven by the socket,
// for flows that resolve out of band and finish via PlayResponse or FailTurn.
func (s *Session) BeginLocalTurn(request string) error {
	if err := s.store.BeginTurn(request); err != nil {
		return err
	}
	s.emitTurns()
	return nil
}

// FailTurn settles the in-flight turn as failed with the given reason.
func (s *Session) FailTurn(reason string) {
	if s.store.FailTail(reason) {
		s.emitTurns()
	}
}

// SwitchRoom moves the session to another room: the old transport, retry
// timer, and playback are torn down first, then history is loaded before
// the room's turns are shown. The new room connects lazily on first use.
func (s *Session) SwitchRoom(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrEmptyRoomID
	}

	s.mu.Lock()
	s.teardownLocked()
	s.roomID = roomID
	s.mu.Unlock()
	s.emitState(StateIdle)

	var turns []Turn
	if s.history != nil {
		var err error
		turns, err = s.history(ctx, roomID)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.store.SetActiveRoom(roomID)
	s.store.LoadTurns(turns)
	s.mu.Unlock()

	s.log.Info("session.switch", "room_id", roomID, "history_turns", len(turns))
	s.emitTurns()
	return nil
}

// Close tears the session down to idle from any state.
func (s *Session) Close() {
	s.mu.Lock()
	s.teardownLocked()
	s.roomID = ""
	s.mu.Unlock()
	s.emitState(StateIdle)
	s.log.Info("session.close")
}

// teardownLocked invalidates the current epoch and releases the transport,
// retry timer, and playback. Callers hold s.mu and emit state afterwards.
func (s *Session) teardownLocked() {
	s.epoch++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.cancelRead != nil {
		s.cancelRead()
		s.cancelRead = nil
	}
	if s.tr != nil {
		_ = s.tr.Close("teardown")
		s.tr = nil
	}
	s.stopPlaybackLocked()
	s.attempts = 0
	s.state = StateIdle
}

// ---- connect / reconnect ----

func (s *Session) connect(epoch int) {
	if s.auth != nil && !s.auth.Authenticated() {
		s.log.Warn("session.auth.revoked")
		s.mu.Lock()
		if epoch == s.epoch {
			s.teardownLocked()
		}
		s.mu.Unlock()
		s.emitState(StateIdle)
		return
	}

	s.mu.Lock()
	if epoch != s.epoch || s.roomID == "" {
		s.mu.Unlock()
		return
	}
	roomID := s.roomID
	s.retry = nil
	s.state = StateConnecting
	s.mu.Unlock()
	s.emitState(StateConnecting)

	dctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	tr, err := s.dial(dctx, s.roomURL(roomID))
	cancel()

	if err != nil {
		s.log.Warn("ws.dial.fail", "room_id", roomID, "err", err)
		s.transportDown(epoch, err)
		return
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		_ = tr.Close("stale dial")
		return
	}
	s.tr = tr
	s.state = StateOpen
	s.attempts = 0
	readCtx, cancelRead := context.WithCancel(context.Background())
	s.cancelRead = cancelRead
	s.mu.Unlock()

	s.log.Info("session.open", "room_id", roomID)
	s.emitState(StateOpen)

	go s.readLoop(readCtx, epoch, tr)
}

// transportDown handles a dial failure or a dead socket for the given epoch:
// the in-flight turn is failed, and either a retry is scheduled or the
// session transitions to failed when the budget is spent.
func (s *Session) transportDown(epoch int, cause error) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if s.cancelRead != nil {
		s.cancelRead()
		s.cancelRead = nil
	}
	if s.tr != nil {
		_ = s.tr.Close("transport down")
		s.tr = nil
	}
	s.stopPlaybackLocked()
	roomID := s.roomID
	turnFailed := s.store.FailTail("connection lost")

	if s.attempts >= s.cfg.ReconnectBudget {
		s.epoch++
		s.state = StateFailed
		attempts := s.attempts
		s.mu.Unlock()

		s.log.Warn("session.failed", "room_id", roomID, "attempts", attempts, "err", cause)
		s.emitState(StateFailed)
		if turnFailed {
			s.emitTurns()
		}
		s.emitNotice("connection lost: retries exhausted")
		return
	}

	s.epoch++
	next := s.epoch
	s.attempts++
	attempt := s.attempts
	delay := s.cfg.ReconnectDelay
	s.state = StateClosed
	s.retry = time.AfterFunc(delay, func() { s.connect(next) })
	s.mu.Unlock()

	metricReconnects.Inc()
	s.log.Info("reconnect.schedule", "room_id", roomID, "attempt", attempt, "delay", delay, "err", cause)
	s.emitState(StateClosed)
	if turnFailed {
		s.emitTurns()
	}
}

// ---- inbound ----

// readLoop is the single reader for one transport, so frames apply in
// delivery order.
func (s *Session) readLoop(ctx context.Context, epoch int, tr Transport) {
	for {
		data, err := tr.Read(ctx)
		if err != nil {
			kind := classifyReadErr(err)
			s.log.Info("ws.read.end", "kind", kind.String(), "err", err)
			s.transportDown(epoch, err)
			return
		}

		fr, err := v1.DecodeFrame(data)
		if err != nil {
			metricFrames.WithLabelValues("malformed").Inc()
			s.log.Warn("ws.frame.malformed", "err", err)
			s.emitNotice("received a malformed frame")
			continue
		}

		s.apply(epoch, fr)
	}
}

func (s *Session) apply(epoch int, fr v1.Frame) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		s.log.Debug("ws.frame.stale", "kind", fr.Kind.String())
		return
	}

	var changed bool
	switch fr.Kind {
	case v1.FrameChunk:
		changed = s.store.AppendChunk(fr.Data)
		if !changed {
			s.log.Debug("ws.chunk.orphan")
		}
	case v1.FrameEnd:
		changed = s.store.EndTurn()
	default:
		s.log.Debug("ws.frame.ignored")
	}
	s.mu.Unlock()

	metricFrames.WithLabelValues(fr.Kind.String()).Inc()
	if changed {
		s.emitTurns()
	}
}

// ---- helpers ----

func (s *Session) isOpenFor(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen && s.roomID == roomID
}

func (s *Session) roomURL(roomID string) string {
	return strings.TrimRight(s.cfg.WSBaseURL, "/") + "/" + url.PathEscape(roomID)
}

func (s *Session) emitState(st ConnState) {
	if f := s.events.StateChanged; f != nil {
		f(st)
	}
}

func (s *Session) emitTurns() {
	if f := s.events.TurnsChanged; f != nil {
		f()
	}
}

func (s *Session) emitNotice(msg string) {
	metricNotices.Inc()
	if f := s.events.Notice; f != nil {
		f(msg)
	}
}
