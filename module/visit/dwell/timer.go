// Package dwell implements the cancellable countdown that paces a visit
// attempt's dwell period.
package dwell

import (
	"sync"
	"time"
)

const DefaultInterval = time.Second

type Timer struct {
	interval time.Duration
}

func New(interval time.Duration) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Timer{interval: interval}
}

// Handle controls one running countdown.
type Handle struct {
	mu      sync.Mutex
	stopped bool

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

// Start counts down seconds ticks. onTick receives the remaining count,
// strictly decreasing and ending at 0, after which onExpire fires once.
// Callbacks run on the timer goroutine and must not call Stop.
func (t *Timer) Start(seconds int, onTick func(remaining int), onExpire func()) *Handle {
	h := &Handle{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go h.run(seconds, t.interval, onTick, onExpire)
	return h
}

func (h *Handle) run(seconds int, interval time.Duration, onTick func(int), onExpire func()) {
	defer close(h.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for remaining := seconds - 1; remaining >= 0; remaining-- {
		select {
		case <-h.quit:
			return
		case <-ticker.C:
		}
		r := remaining
		if !h.fire(func() { onTick(r) }) {
			return
		}
	}

	h.fire(func() {
		h.stopped = true
		onExpire()
	})
}

// fire runs fn under the handle lock unless the handle was stopped.
func (h *Handle) fire(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	fn()
	return true
}

// Stop cancels remaining ticks and the expiry. Once Stop returns no
// callback is running or will run. Safe to call repeatedly and after expiry.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.quitOnce.Do(func() { close(h.quit) })
}

// Done is closed when the timer goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
