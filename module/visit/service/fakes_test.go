package service

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/geo"
)

var spot = domain.Coordinate{Lat: -6.2088, Lon: 106.8456}

// north returns the point meters due north of c.
func north(c domain.Coordinate, meters float64) domain.Coordinate {
	return domain.Coordinate{Lat: c.Lat + meters/geo.EarthRadiusMeters*180/math.Pi, Lon: c.Lon}
}

type fakeProvider struct {
	mu         sync.Mutex
	granted    bool
	permErr    error
	fixFn      func(ctx context.Context, call int) (domain.Coordinate, error)
	fixCalls   int
	watchErr   error
	watchCalls int
	watchCtx   context.Context
	stream     chan domain.PositionEvent
}

func newFakeProvider(fixes ...domain.Coordinate) *fakeProvider {
	return &fakeProvider{
		granted: true,
		stream:  make(chan domain.PositionEvent, 16),
		fixFn: func(_ context.Context, call int) (domain.Coordinate, error) {
			if call >= len(fixes) {
				return fixes[len(fixes)-1], nil
			}
			return fixes[call], nil
		},
	}
}

func (f *fakeProvider) RequestPermission(_ context.Context) (bool, error) {
	return f.granted, f.permErr
}

func (f *fakeProvider) CurrentFix(ctx context.Context, _ time.Duration) (domain.Coordinate, error) {
	f.mu.Lock()
	call := f.fixCalls
	f.fixCalls++
	f.mu.Unlock()
	return f.fixFn(ctx, call)
}

func (f *fakeProvider) WatchPosition(ctx context.Context, _ domain.WatchOptions) (<-chan domain.PositionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCalls++
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.watchCtx = ctx
	return f.stream, nil
}

func (f *fakeProvider) watches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCalls
}

func (f *fakeProvider) watchContext() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCtx
}

func (f *fakeProvider) sendAt(meters float64) {
	f.stream <- domain.PositionEvent{Coordinate: north(spot, meters), Timestamp: time.Now()}
}

type fakeRepo struct {
	mu       sync.Mutex
	commitFn func(ctx context.Context, userID, spotID string) error
	calls    []string
}

func (r *fakeRepo) CommitVisit(ctx context.Context, userID, spotID string) error {
	r.mu.Lock()
	r.calls = append(r.calls, userID+"/"+spotID)
	fn := r.commitFn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, userID, spotID)
	}
	return nil
}

func (r *fakeRepo) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeSink struct {
	mu     sync.Mutex
	events []*domain.OutcomeEvent
}

func (s *fakeSink) PublishOutcome(_ context.Context, ev *domain.OutcomeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) published() []*domain.OutcomeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.OutcomeEvent(nil), s.events...)
}

type transitionLog struct {
	mu  sync.Mutex
	seq map[string][]domain.AttemptStatus
}

func newTransitionLog() *transitionLog {
	return &transitionLog{seq: make(map[string][]domain.AttemptStatus)}
}

func (l *transitionLog) hook(id string, _, to domain.AttemptStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq[id] = append(l.seq[id], to)
}

func (l *transitionLog) of(id string) []domain.AttemptStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.AttemptStatus(nil), l.seq[id]...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.TickInterval = 2 * time.Millisecond
	p.InitialFixTimeout = 200 * time.Millisecond
	p.FinalFixTimeout = 200 * time.Millisecond
	return p
}

func newTestService(provider *fakeProvider, repo *fakeRepo, policy Policy, opts ...Option) *VerificationService {
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return NewVerificationService(ProviderFunc(func(string) domain.LocationProvider { return provider }), repo, policy, opts...)
}

func request(radius float64, dwell int) domain.AttemptRequest {
	return domain.AttemptRequest{
		UserID:       "user-1",
		SpotID:       "spot-1",
		Target:       spot,
		RadiusMeters: radius,
		DwellSeconds: dwell,
	}
}

func waitDone(t *testing.T, a *Attempt) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("attempt %s did not finish, last snapshot %+v", a.ID(), a.Snapshot())
	}
}
