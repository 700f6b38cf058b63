// Package holder buffers items arriving at a high rate and releases them to
// consumers as batches, at most once per hold interval.
package holder

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/Hubmakerlabs/localstr/pkg/qu"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
)

var log, _ = slog.New(os.Stderr)

// Holder collects items with Append and hands them to a consumer blocked in
// Next once the hold interval since the previous release has elapsed. All
// state is guarded by one mutex so Append and Next never race.
type Holder[T any] struct {
	mx       sync.Mutex
	interval time.Duration
	items    []T
	last     time.Time
	waiters  []chan []T
	timer    *time.Timer
	finished qu.C
}

func New[T any](interval time.Duration) *Holder[T] {
	return &Holder[T]{interval: interval, finished: qu.T()}
}

// Interval is the hold interval.
func (h *Holder[T]) Interval() time.Duration { return h.interval }

// Pending is the number of buffered items.
func (h *Holder[T]) Pending() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return len(h.items)
}

// Done is closed by Finish.
func (h *Holder[T]) Done() <-chan struct{} { return h.finished.Wait() }

// Append buffers items. It returns false and drops them after Finish.
func (h *Holder[T]) Append(items ...T) bool {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.finished.IsClosed() {
		log.W.Ln("append after finish dropped", len(items), "items")
		return false
	}
	h.items = append(h.items, items...)
	if len(h.waiters) > 0 {
		if h.due() {
			h.release()
		} else {
			h.arm()
		}
	}
	return true
}

// Next blocks until a batch is released to this caller. ok is false once the
// holder is finished and drained, or when ctx is cancelled.
func (h *Holder[T]) Next(ctx context.Context) (batch []T, ok bool) {
	h.mx.Lock()
	if len(h.items) > 0 && (h.due() || h.finished.IsClosed()) {
		batch = h.take()
		h.mx.Unlock()
		return batch, true
	}
	if h.finished.IsClosed() {
		h.mx.Unlock()
		return nil, false
	}
	w := make(chan []T, 1)
	h.waiters = append(h.waiters, w)
	if len(h.items) > 0 {
		h.arm()
	}
	h.mx.Unlock()
	select {
	case batch, ok = <-w:
		return
	case <-ctx.Done():
	}
	h.mx.Lock()
	defer h.mx.Unlock()
	for i := range h.waiters {
		if h.waiters[i] == w {
			h.waiters = append(h.waiters[:i], h.waiters[i+1:]...)
			return nil, false
		}
	}
	// released or finished while cancelling, the batch must not be lost.
	batch, ok = <-w
	return
}

// Run releases pending items to a waiting consumer every interval, whether
// or not anything was appended since, until ctx is done. It does not
// finish the holder.
func (h *Holder[T]) Run(ctx context.Context) {
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.finished.Wait():
			return
		case <-ticker.C:
			h.mx.Lock()
			if len(h.items) > 0 && len(h.waiters) > 0 {
				h.release()
			}
			h.mx.Unlock()
		}
	}
}

// Finish ends the stream. A waiting consumer receives whatever is pending,
// every other waiter is released with ok false. Items still pending with no
// waiter are returned by subsequent Next calls. Finish is idempotent.
func (h *Holder[T]) Finish() {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.finished.IsClosed() {
		return
	}
	h.finished.Q()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if len(h.items) > 0 && len(h.waiters) > 0 {
		h.release()
	}
	for _, w := range h.waiters {
		close(w)
	}
	h.waiters = nil
}

func (h *Holder[T]) due() bool { return time.Since(h.last) >= h.interval }

func (h *Holder[T]) take() (batch []T) {
	batch, h.items = h.items, nil
	h.last = time.Now()
	return
}

// release hands the pending items to the oldest waiter.
func (h *Holder[T]) release() {
	w := h.waiters[0]
	h.waiters = h.waiters[1:]
	w <- h.take()
}

// arm schedules a release for when the current window closes.
func (h *Holder[T]) arm() {
	if h.timer != nil {
		return
	}
	wait := h.interval - time.Since(h.last)
	if wait < 0 {
		wait = 0
	}
	h.timer = time.AfterFunc(wait, h.fire)
}

func (h *Holder[T]) fire() {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.timer = nil
	if len(h.items) == 0 || len(h.waiters) == 0 ||
		h.finished.IsClosed() {
		return
	}
	if h.due() {
		h.release()
		return
	}
	h.arm()
}
