package service

import (
	"sort"
	"sync"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

type eventKind int

const (
	evSample eventKind = iota
	evTick
	evExpire
	evStreamError
	evFinalFix
	evCommitted
	evCancel
)

type event struct {
	kind      eventKind
	distance  float64
	remaining int
	coord     domain.Coordinate
	err       error
	reply     chan struct{}
}

// mailbox is an unbounded queue between producers and the attempt consumer.
// Posting never blocks, so producers may post while holding their own locks.
type mailbox struct {
	mu     sync.Mutex
	items  []event
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(e event) {
	m.mu.Lock()
	m.items = append(m.items, e)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.items
	m.items = nil
	return batch
}

// orderBatch moves dwell expiry behind every other pending event so that a
// geofence violation observed in the same batch is applied first.
func orderBatch(batch []event) {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].kind != evExpire && batch[j].kind == evExpire
	})
}
