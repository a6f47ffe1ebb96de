package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/dwell"
	"github.com/NTDK5/vibespot-sub000/module/visit/geo"
	"github.com/NTDK5/vibespot-sub000/module/visit/geofence"
)

type VisitRepository interface {
	CommitVisit(ctx context.Context, userID, spotID string) error
}

// LocationProviders resolves the location capability of a user's device.
type LocationProviders interface {
	ForUser(userID string) domain.LocationProvider
}

// ProviderFunc adapts a function to LocationProviders.
type ProviderFunc func(userID string) domain.LocationProvider

func (f ProviderFunc) ForUser(userID string) domain.LocationProvider { return f(userID) }

// OutcomeSink receives one event per attempt that reaches a terminal state.
type OutcomeSink interface {
	PublishOutcome(ctx context.Context, ev *domain.OutcomeEvent) error
}

// AttemptGuard enforces one live attempt per key beyond this process. hold
// is the longest the attempt can stay live; the claim must not lapse sooner.
type AttemptGuard interface {
	Acquire(ctx context.Context, key domain.AttemptKey, token string, hold time.Duration) (bool, error)
	Release(ctx context.Context, key domain.AttemptKey, token string) error
}

type Option func(*VerificationService)

func WithLogger(l *slog.Logger) Option {
	return func(s *VerificationService) { s.log = l.With("component", "visit_verification") }
}

func WithOutcomeSink(sink OutcomeSink) Option {
	return func(s *VerificationService) { s.outcomes = sink }
}

func WithGuard(g AttemptGuard) Option {
	return func(s *VerificationService) { s.guard = g }
}

func WithClock(now func() time.Time) Option {
	return func(s *VerificationService) { s.now = now }
}

// WithTransitionHook observes every status change. The hook runs on the
// attempt's consumer goroutine and must not block.
func WithTransitionHook(fn func(attemptID string, from, to domain.AttemptStatus)) Option {
	return func(s *VerificationService) { s.onTransition = fn }
}

// VerificationService runs proximity-verified visit attempts.
type VerificationService struct {
	providers LocationProviders
	repo      VisitRepository
	policy    Policy
	timer     *dwell.Timer

	log          *slog.Logger
	now          func() time.Time
	outcomes     OutcomeSink
	guard        AttemptGuard
	onTransition func(string, domain.AttemptStatus, domain.AttemptStatus)

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	active   map[domain.AttemptKey]*Attempt
	reserved map[domain.AttemptKey]struct{}
	byID     map[string]*Attempt
	finished map[string]time.Time
	closing  bool
}

func NewVerificationService(providers LocationProviders, repo VisitRepository, policy Policy, opts ...Option) *VerificationService {
	policy = policy.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &VerificationService{
		providers: providers,
		repo:      repo,
		policy:    policy,
		timer:     dwell.New(policy.TickInterval),
		log:       slog.Default().With("component", "visit_verification"),
		now:       time.Now,
		baseCtx:   ctx,
		stop:      cancel,
		active:    make(map[domain.AttemptKey]*Attempt),
		reserved:  make(map[domain.AttemptKey]struct{}),
		byID:      make(map[string]*Attempt),
		finished:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates initial proximity and, when the user is inside the
// geofence, begins monitoring. Immediate failures are *StartError values.
func (s *VerificationService) Start(ctx context.Context, req domain.AttemptRequest) (*Attempt, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	key := req.Key()
	token := uuid.New().String()
	if err := s.reserve(ctx, key, token, s.policy.maxLifetime(req.DwellSeconds)); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			s.unreserve(key, token)
		}
	}()

	log := s.log.With(
		slog.String("user_id", req.UserID),
		slog.String("spot_id", req.SpotID))

	provider := s.providers.ForUser(req.UserID)
	if provider == nil {
		return nil, &StartError{Reason: domain.ReasonLocationUnavailable, Err: errors.New("no location provider for user")}
	}

	granted, err := provider.RequestPermission(ctx)
	if err != nil || !granted {
		log.Info("location permission unavailable", slog.Bool("granted", granted))
		return nil, &StartError{Reason: domain.ReasonPermissionDenied, Err: err}
	}

	fix, err := fixWithin(ctx, provider, s.policy.InitialFixTimeout)
	if err != nil {
		reason := domain.ReasonLocationUnavailable
		if errors.Is(err, domain.ErrPermissionDenied) {
			reason = domain.ReasonPermissionDenied
		}
		log.Info("initial fix unavailable", slog.String("error", err.Error()))
		return nil, &StartError{Reason: reason, Err: err}
	}

	distance := geo.DistanceMeters(req.Target, fix)
	if distance > req.RadiusMeters {
		log.Info("initial position out of range",
			slog.Float64("distance_m", distance),
			slog.Float64("radius_m", req.RadiusMeters))
		return nil, &StartError{Reason: domain.ReasonOutOfRange, DistanceMeters: distance}
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		log.Info("shutdown began during start, attempt dropped")
		return nil, ErrShuttingDown
	}
	a := s.newAttempt(token, req, provider, log)
	delete(s.reserved, key)
	s.active[key] = a
	s.byID[a.id] = a
	s.mu.Unlock()

	monitor := geofence.NewMonitor(provider, s.policy.Watch)
	if err := a.begin(s.baseCtx, monitor, s.timer, distance); err != nil {
		s.mu.Lock()
		delete(s.active, key)
		delete(s.byID, a.id)
		s.mu.Unlock()
		close(a.done)
		log.Warn("position watch failed", slog.String("error", err.Error()))
		return nil, &StartError{Reason: domain.ReasonLocationUnavailable, Err: err}
	}
	committed = true

	log.Info("visit attempt started",
		slog.String("attempt_id", a.id),
		slog.Float64("distance_m", distance),
		slog.Int("dwell_s", req.DwellSeconds))
	return a, nil
}

func (s *VerificationService) newAttempt(id string, req domain.AttemptRequest, provider domain.LocationProvider, log *slog.Logger) *Attempt {
	a := &Attempt{
		id:           id,
		req:          req,
		policy:       s.policy,
		provider:     provider,
		repo:         s.repo,
		log:          log.With(slog.String("attempt_id", id)),
		now:          s.now,
		mailbox:      newMailbox(),
		done:         make(chan struct{}),
		onTerminal:   s.finish,
		onTransition: s.onTransition,
		status:       domain.StatusIdle,
		remaining:    req.DwellSeconds,
	}
	a.snapshots = newBroadcaster(a.snapshot())
	if s.onTransition != nil {
		s.onTransition(id, "", domain.StatusIdle)
	}
	return a
}

// reserve claims key for a starting attempt. The reservation is held through
// the initial fix so concurrent starts for the same key are rejected.
func (s *VerificationService) reserve(ctx context.Context, key domain.AttemptKey, token string, hold time.Duration) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	if _, ok := s.active[key]; ok {
		s.mu.Unlock()
		return ErrAttemptInProgress
	}
	if _, ok := s.reserved[key]; ok {
		s.mu.Unlock()
		return ErrAttemptInProgress
	}
	s.reserved[key] = struct{}{}
	s.pruneLocked()
	s.mu.Unlock()

	if s.guard == nil {
		return nil
	}
	ok, err := s.guard.Acquire(ctx, key, token, hold)
	if err != nil || !ok {
		s.mu.Lock()
		delete(s.reserved, key)
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("acquire attempt guard: %w", err)
		}
		return ErrAttemptInProgress
	}
	return nil
}

func (s *VerificationService) unreserve(key domain.AttemptKey, token string) {
	s.mu.Lock()
	delete(s.reserved, key)
	s.mu.Unlock()
	s.releaseGuard(key, token)
}

func (s *VerificationService) releaseGuard(key domain.AttemptKey, token string) {
	if s.guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.policy.OutcomeTimeout)
	defer cancel()
	if err := s.guard.Release(ctx, key, token); err != nil {
		s.log.Warn("release attempt guard failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
	}
}

// finish runs on the attempt's consumer goroutine right after it turns
// terminal.
func (s *VerificationService) finish(a *Attempt) {
	key := a.Key()
	s.mu.Lock()
	if cur, ok := s.active[key]; ok && cur == a {
		delete(s.active, key)
	}
	s.finished[a.id] = s.now()
	s.mu.Unlock()

	s.releaseGuard(key, a.id)

	if s.outcomes == nil {
		return
	}
	snap := a.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), s.policy.OutcomeTimeout)
	defer cancel()
	err := s.outcomes.PublishOutcome(ctx, &domain.OutcomeEvent{
		AttemptID:          a.id,
		UserID:             snap.UserID,
		SpotID:             snap.SpotID,
		Status:             snap.Status,
		Reason:             snap.TerminationReason,
		LastDistanceMeters: snap.LastDistanceMeters,
		Timestamp:          snap.UpdatedAt.Unix(),
	})
	if err != nil {
		a.log.Warn("publish outcome failed", slog.String("error", err.Error()))
	}
}

func (s *VerificationService) pruneLocked() {
	cutoff := s.now().Add(-s.policy.Retention)
	for id, at := range s.finished {
		if at.Before(cutoff) {
			delete(s.finished, id)
			delete(s.byID, id)
		}
	}
}

func (s *VerificationService) Get(attemptID string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[attemptID]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}

// Cancel cancels the attempt with the given ID. Cancelling a terminal
// attempt is a no-op.
func (s *VerificationService) Cancel(attemptID string) (domain.Snapshot, error) {
	a, err := s.Get(attemptID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	a.Cancel()
	return a.Snapshot(), nil
}

// Active returns the live attempt for key, if any.
func (s *VerificationService) Active(key domain.AttemptKey) (*Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[key]
	return a, ok
}

// Shutdown cancels every live attempt and waits for their producers to be
// released or ctx to end. New starts are rejected afterwards.
func (s *VerificationService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	live := make([]*Attempt, 0, len(s.active))
	for _, a := range s.active {
		live = append(live, a)
	}
	s.mu.Unlock()

	for _, a := range live {
		a.Cancel()
	}
	for _, a := range live {
		select {
		case <-a.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.stop()
	s.log.Info("verification service stopped", slog.Int("cancelled", len(live)))
	return nil
}

// fixWithin requests one authoritative fix bounded by timeout, even if the
// provider ignores its context.
func fixWithin(ctx context.Context, p domain.LocationProvider, timeout time.Duration) (domain.Coordinate, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		coord domain.Coordinate
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := p.CurrentFix(ctx, timeout)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return domain.Coordinate{}, r.err
		}
		return r.coord, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Coordinate{}, domain.ErrFixTimeout
		}
		return domain.Coordinate{}, ctx.Err()
	}
}

func validateRequest(req domain.AttemptRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return invalid("user_id: required")
	}
	if strings.TrimSpace(req.SpotID) == "" {
		return invalid("spot_id: required")
	}
	if err := req.Target.Validate(); err != nil {
		return invalid("target %v", err)
	}
	if !(req.RadiusMeters > 0) {
		return invalid("radius_meters: must be positive")
	}
	if req.DwellSeconds <= 0 {
		return invalid("dwell_seconds: must be positive")
	}
	return nil
}
