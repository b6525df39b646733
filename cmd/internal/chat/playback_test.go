package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func newPlaybackSession(t *testing.T, onTurns func()) *Session {
	t.Helper()
	return NewSession(Options{
		Log:    testLogger(),
		Config: fastConfig(),
		Auth:   signedIn(),
		Dial: func(context.Context, string) (Transport, error) {
			return nil, errors.New("unused")
		},
		Events: Events{TurnsChanged: onTurns},
	})
}

func TestPlaybackRevealsMonotonePrefixes(t *testing.T) {
	full := strings.Repeat("salom dunyo! ", 7) + "xayr"
	n := utf8.RuneCountInString(full)

	var mu sync.Mutex
	var displays []string
	var settled bool

	var s *Session
	s = newPlaybackSession(t, func() {
		v := s.Snapshot()
		mu.Lock()
		defer mu.Unlock()
		if v.Display != "" {
			displays = append(displays, v.Display)
		}
		if len(v.Turns) == 1 && !v.Turns[0].Streaming {
			settled = true
		}
	})
	defer s.Close()

	if err := s.BeginLocalTurn("question"); err != nil {
		t.Fatalf("BeginLocalTurn: %v", err)
	}
	s.PlayResponse(full)

	waitFor(t, 2*time.Second, "playback to finish", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return settled
	})

	mu.Lock()
	defer mu.Unlock()

	prev := 0
	for i, d := range displays {
		if !strings.HasPrefix(full, d) {
			t.Fatalf("display %d is not a prefix: %q", i, d)
		}
		rc := utf8.RuneCountInString(d)
		if rc < prev {
			t.Fatalf("display shrank at %d: %d < %d", i, rc, prev)
		}
		step := rc - prev
		if step < playbackMinStep && rc != n {
			t.Fatalf("tick %d revealed %d runes", i, step)
		}
		if step > playbackMaxStep {
			t.Fatalf("tick %d revealed %d runes", i, step)
		}
		prev = rc
	}

	minTicks := (n + playbackMaxStep - 1) / playbackMaxStep
	maxTicks := (n + playbackMinStep - 1) / playbackMinStep
	if got := len(displays); got < minTicks || got > maxTicks {
		t.Fatalf("ticks = %d, want between %d and %d for %d runes", got, minTicks, maxTicks, n)
	}

	v := s.Snapshot()
	if v.Turns[0].Response != full {
		t.Fatalf("settled response = %q", v.Turns[0].Response)
	}
	if v.Display != "" {
		t.Fatalf("display = %q, want cleared", v.Display)
	}
}

func TestPlaybackEmptyText(t *testing.T) {
	s := newPlaybackSession(t, nil)
	defer s.Close()

	if err := s.BeginLocalTurn("question"); err != nil {
		t.Fatalf("BeginLocalTurn: %v", err)
	}
	s.PlayResponse("")

	waitFor(t, time.Second, "empty playback to settle", func() bool {
		turns := s.Snapshot().Turns
		return len(turns) == 1 && !turns[0].Streaming
	})
}

func TestNewPlaybackCancelsOld(t *testing.T) {
	s := newPlaybackSession(t, nil)
	defer s.Close()

	if err := s.BeginLocalTurn("question"); err != nil {
		t.Fatalf("BeginLocalTurn: %v", err)
	}

	s.PlayResponse(strings.Repeat("first response ", 100))
	s.PlayResponse("second")

	waitFor(t, 2*time.Second, "playback to settle", func() bool {
		turns := s.Snapshot().Turns
		return len(turns) == 1 && !turns[0].Streaming
	})

	if resp := s.Snapshot().Turns[0].Response; resp != "second" {
		t.Fatalf("response = %q, want the second playback", resp)
	}
}

func TestCloseCancelsPlayback(t *testing.T) {
	s := newPlaybackSession(t, nil)
	defer s.Close()

	if err := s.BeginLocalTurn("question"); err != nil {
		t.Fatalf("BeginLocalTurn: %v", err)
	}
	s.PlayResponse(strings.Repeat("long response ", 200))

	waitFor(t, time.Second, "playback to start", func() bool {
		return s.Snapshot().Display != ""
	})

	s.Close()

	waitFor(t, time.Second, "display to clear", func() bool {
		return s.Snapshot().Display == ""
	})

	// The turn must not settle with the played text after cancellation.
	time.Sleep(20 * time.Millisecond)
	turns := s.Snapshot().Turns
	if len(turns) == 1 && !turns[0].Streaming && turns[0].Response != "" {
		t.Fatalf("cancelled playback settled the turn: %+v", turns[0])
	}
}
