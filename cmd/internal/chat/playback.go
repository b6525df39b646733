package chat

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Playback reveals 4 to 5 runes per tick.
const (
	playbackMinStep = 4
	playbackMaxStep = 5
)

type playback struct {
	cancel chan struct{}
	once   sync.Once
}

func (p *playback) stop() {
	p.once.Do(func() { close(p.cancel) })
}

// PlayResponse animates a one-shot response into the display buffer: every
// tick the shown prefix grows by a few runes until the full text is out,
// then the in-flight turn settles with the full text and the buffer clears.
// At most one playback runs; starting another cancels the current one, as
// does a room switch or teardown.
func (s *Session) PlayResponse(full string) {
	s.mu.Lock()
	s.stopPlaybackLocked()
	pb := &playback{cancel: make(chan struct{})}
	s.pb = pb
	tick := s.cfg.PlaybackTick
	s.mu.Unlock()

	go s.runPlayback(pb, full, tick)
}

// stopPlaybackLocked cancels the in-flight playback, if any, and drops its
// partial display. Caller holds s.mu.
func (s *Session) stopPlaybackLocked() {
	if s.pb != nil {
		s.pb.stop()
		s.pb = nil
		s.store.ClearDisplay()
	}
}

func (s *Session) runPlayback(pb *playback, full string, tick time.Duration) {
	runes := []rune(full)

	t := time.NewTicker(tick)
	defer t.Stop()

	n := 0
	for n < len(runes) {
		select {
		case <-pb.cancel:
			return
		case <-t.C:
			n += playbackMinStep + rand.IntN(playbackMaxStep-playbackMinStep+1)
			if n > len(runes) {
				n = len(runes)
			}
			// Paint under the session lock so a concurrent teardown cannot
			// clear the display and then lose to a late tick.
			s.mu.Lock()
			if s.pb != pb {
				s.mu.Unlock()
				return
			}
			s.store.SetDisplay(string(runes[:n]))
			s.mu.Unlock()
			s.emitTurns()
		}
	}

	// Settle under the session lock so a concurrent teardown either cancels
	// before this point or waits until the turn is settled.
	s.mu.Lock()
	select {
	case <-pb.cancel:
		s.mu.Unlock()
		return
	default:
	}
	if s.pb == pb {
		s.pb = nil
	}
	settled := s.store.FinishPlayback(full)
	s.mu.Unlock()

	if settled {
		s.emitTurns()
	}
}
