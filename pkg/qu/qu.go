// Package qu provides chan struct{} helpers for quit and trigger signalling.
package qu

import (
	"os"
	"sync"

	"github.com/Hubmakerlabs/localstr/pkg/slog"
)

var log, _ = slog.New(os.Stderr)

// C is your basic empty struct signalling channel
type C chan struct{}

// closeMx serialises Q so that concurrent closers cannot double close.
var closeMx sync.Mutex

// T creates an unbuffered chan struct{} for trigger and quit signalling
// (momentary and breaker switches)
func T() C {
	log.T.Ln("created chan from", slog.GetLoc(2))
	return make(C)
}

// Q closes the channel, which makes it emit a nil every time it is selected.
// Closing an already closed channel is a no-op.
func (c C) Q() {
	closeMx.Lock()
	defer closeMx.Unlock()
	if testChanIsClosed(c) {
		return
	}
	close(c)
}

// Wait should be placed with a `<-` in a select case in addition to the channel
// variable name
func (c C) Wait() <-chan struct{} { return c }

// IsClosed exposes a test to see if the channel is closed
func (c C) IsClosed() bool { return testChanIsClosed(c) }

// testChanIsClosed reports whether the channel is closed. A buffered channel
// holding a pending signal is drained of that signal by the check, so this
// is only used on channels that are closed rather than signalled.
func testChanIsClosed(ch C) (o bool) {
	if ch == nil {
		return true
	}
	select {
	case _, ok := <-ch:
		o = !ok
	default:
	}
	return
}
