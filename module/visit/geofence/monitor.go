// Package geofence turns a device position stream into distance-to-target
// samples for a circular geofence.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/geo"
)

var ErrStreamClosed = errors.New("position stream closed")

type positionWatcher interface {
	WatchPosition(ctx context.Context, opts domain.WatchOptions) (<-chan domain.PositionEvent, error)
}

type Sample struct {
	Coordinate     domain.Coordinate
	DistanceMeters float64
	Inside         bool
	At             time.Time
}

type Monitor struct {
	watcher positionWatcher
	opts    domain.WatchOptions
}

func NewMonitor(watcher positionWatcher, opts domain.WatchOptions) *Monitor {
	return &Monitor{watcher: watcher, opts: opts}
}

type Handle struct {
	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start subscribes to the position stream and forwards each fix as a Sample.
// Callbacks run on the monitor goroutine and must not call Stop.
func (m *Monitor) Start(ctx context.Context, target domain.Coordinate, radiusMeters float64,
	onSample func(Sample), onError func(error)) (*Handle, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	stream, err := m.watcher.WatchPosition(watchCtx, m.opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch position: %w", err)
	}

	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go h.run(watchCtx, stream, target, radiusMeters, onSample, onError)
	return h, nil
}

func (h *Handle) run(ctx context.Context, stream <-chan domain.PositionEvent, target domain.Coordinate,
	radiusMeters float64, onSample func(Sample), onError func(error)) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				h.fire(func() { onError(ErrStreamClosed) })
				return
			}
			if ev.Err != nil {
				if !h.fire(func() { onError(ev.Err) }) {
					return
				}
				continue
			}
			d := geo.DistanceMeters(target, ev.Coordinate)
			s := Sample{
				Coordinate:     ev.Coordinate,
				DistanceMeters: d,
				Inside:         d <= radiusMeters,
				At:             ev.Timestamp,
			}
			if !h.fire(func() { onSample(s) }) {
				return
			}
		}
	}
}

func (h *Handle) fire(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	fn()
	return true
}

// Stop releases the stream subscription. After it returns no callback
// runs. Calling it again is a no-op.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.cancel()
}

// Done is closed once the monitor goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
