package service

import (
	"sync"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

// broadcaster fans snapshots out to subscribers with latest-value semantics:
// a slow reader sees the newest snapshot, never a backlog.
type broadcaster struct {
	mu     sync.Mutex
	latest domain.Snapshot
	subs   map[int]chan domain.Snapshot
	nextID int
	closed bool
}

func newBroadcaster(initial domain.Snapshot) *broadcaster {
	return &broadcaster{latest: initial, subs: make(map[int]chan domain.Snapshot)}
}

func (b *broadcaster) publish(s domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = s
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
	if s.Status.Terminal() {
		for id, ch := range b.subs {
			close(ch)
			delete(b.subs, id)
		}
		b.closed = true
	}
}

func (b *broadcaster) current() domain.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// subscribe returns a channel primed with the current snapshot. It is closed
// after the terminal snapshot has been delivered or when cancel is called.
func (b *broadcaster) subscribe() (<-chan domain.Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Snapshot, 1)
	ch <- b.latest
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				close(c)
				delete(b.subs, id)
			}
		})
	}
}
