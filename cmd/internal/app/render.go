package app

import (
	"sync"

	"imzo/cmd/internal/chat"
)

// renderer turns store snapshots into incremental terminal output. The chat
// session reports changes whole-snapshot, so the renderer remembers how many
// runes of the tail turn it has already written and prints only the suffix.
type renderer struct {
	pf func(format string, args ...any)

	mu      sync.Mutex
	printed int
	done    bool
}

// reset forgets the previous tail. Call it right before starting a new turn.
func (r *renderer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printed = 0
	r.done = false
}

func (r *renderer) notice(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.printed > 0 && !r.done {
		r.pf("\n")
	}
	r.pf("! %s\n", msg)
}

func (r *renderer) onTurns(v chat.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(v.Turns) == 0 || r.done {
		return
	}
	tail := v.Turns[len(v.Turns)-1]

	if tail.Streaming {
		// Socket turns grow Response chunk by chunk; playback turns grow the
		// display buffer instead.
		live := tail.Response
		if v.Display != "" {
			live = v.Display
		}
		r.printSuffix(live)
		return
	}

	if tail.Failed {
		if r.printed > 0 {
			r.pf("\n")
		}
		r.pf("! %s\n", tail.Response)
		r.done = true
		return
	}

	r.printSuffix(tail.Response)
	r.pf("\n")
	r.done = true
}

func (r *renderer) printSuffix(text string) {
	runes := []rune(text)
	if len(runes) <= r.printed {
		return
	}
	r.pf("%s", string(runes[r.printed:]))
	r.printed = len(runes)
}
