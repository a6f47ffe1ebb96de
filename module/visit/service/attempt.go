package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/dwell"
	"github.com/NTDK5/vibespot-sub000/module/visit/geo"
	"github.com/NTDK5/vibespot-sub000/module/visit/geofence"
)

// Attempt is one in-flight proximity verification. All mutable state below
// the mailbox is owned by the consumer goroutine started in begin.
type Attempt struct {
	id       string
	req      domain.AttemptRequest
	policy   Policy
	provider domain.LocationProvider
	repo     VisitRepository
	log      *slog.Logger
	now      func() time.Time

	mailbox   *mailbox
	snapshots *broadcaster
	done      chan struct{}

	onTerminal   func(*Attempt)
	onTransition func(id string, from, to domain.AttemptStatus)

	status       domain.AttemptStatus
	remaining    int
	lastDistance float64
	reason       domain.TerminationReason
	streamErrors int

	timer        *dwell.Handle
	monitor      *geofence.Handle
	verifyCtx    context.Context
	verifyCancel context.CancelFunc
}

func (a *Attempt) ID() string { return a.id }

func (a *Attempt) Key() domain.AttemptKey { return a.req.Key() }

// Snapshot returns the latest published state.
func (a *Attempt) Snapshot() domain.Snapshot {
	return a.snapshots.current()
}

// Subscribe streams snapshots until the attempt is terminal or cancel is
// called. The first value is the current state.
func (a *Attempt) Subscribe() (<-chan domain.Snapshot, func()) {
	return a.snapshots.subscribe()
}

// Done is closed once the attempt is terminal and its producers are released.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Cancel moves a live attempt to Cancelled(UserCancelled) and returns once
// that has been applied. On a terminal attempt it does nothing.
func (a *Attempt) Cancel() {
	select {
	case <-a.done:
		return
	default:
	}
	reply := make(chan struct{})
	a.mailbox.post(event{kind: evCancel, reply: reply})
	select {
	case <-reply:
	case <-a.done:
	}
}

// begin moves the attempt into Monitoring, starts the geofence monitor and
// the dwell timer, and starts the consumer loop.
func (a *Attempt) begin(ctx context.Context, monitor *geofence.Monitor, timer *dwell.Timer, initialDistance float64) error {
	a.verifyCtx, a.verifyCancel = context.WithCancel(ctx)
	a.lastDistance = initialDistance
	a.transition(domain.StatusMonitoring)

	mh, err := monitor.Start(a.verifyCtx, a.req.Target, a.req.RadiusMeters,
		func(s geofence.Sample) {
			a.mailbox.post(event{kind: evSample, distance: s.DistanceMeters, coord: s.Coordinate})
		},
		func(err error) {
			a.mailbox.post(event{kind: evStreamError, err: err})
		},
	)
	if err != nil {
		a.verifyCancel()
		return err
	}
	a.monitor = mh

	a.timer = timer.Start(a.req.DwellSeconds,
		func(remaining int) {
			a.mailbox.post(event{kind: evTick, remaining: remaining})
		},
		func() {
			a.mailbox.post(event{kind: evExpire})
		},
	)

	a.publish()
	go a.loop()
	return nil
}

func (a *Attempt) loop() {
	defer close(a.done)
	for range a.mailbox.notify {
		a.applyBatch(a.mailbox.drain())
		if a.status.Terminal() {
			// Answer any Cancel that raced with the terminal transition.
			for _, e := range a.mailbox.drain() {
				if e.reply != nil {
					close(e.reply)
				}
			}
			return
		}
	}
}

func (a *Attempt) applyBatch(batch []event) {
	if !a.policy.ArrivalOrder {
		orderBatch(batch)
	}
	for _, e := range batch {
		a.apply(e)
	}
}

func (a *Attempt) apply(e event) {
	if e.reply != nil {
		defer close(e.reply)
	}
	if a.status.Terminal() {
		return
	}

	switch e.kind {
	case evSample:
		a.lastDistance = e.distance
		if e.distance > a.req.RadiusMeters && a.status == domain.StatusMonitoring {
			a.log.Info("drifted outside geofence",
				slog.Float64("distance_m", e.distance),
				slog.Float64("radius_m", a.req.RadiusMeters))
			a.terminate(domain.StatusCancelled, domain.ReasonDriftedAway)
			return
		}
		a.publish()

	case evTick:
		a.remaining = e.remaining
		a.publish()

	case evStreamError:
		a.streamErrors++
		a.log.Warn("position stream error", slog.String("error", e.err.Error()))
		a.publish()

	case evExpire:
		if a.status != domain.StatusMonitoring {
			return
		}
		a.remaining = 0
		if a.monitor != nil {
			a.monitor.Stop()
		}
		a.transition(domain.StatusVerifying)
		a.publish()
		go a.requestFinalFix()

	case evFinalFix:
		if a.status != domain.StatusVerifying {
			return
		}
		if e.err != nil {
			a.log.Warn("final fix failed", slog.String("error", e.err.Error()))
			a.terminate(domain.StatusFailed, domain.ReasonVerificationUnavailable)
			return
		}
		a.lastDistance = geo.DistanceMeters(a.req.Target, e.coord)
		if a.lastDistance > a.req.RadiusMeters {
			a.terminate(domain.StatusFailed, domain.ReasonVerificationDrift)
			return
		}
		a.publish()
		go a.commit()

	case evCommitted:
		if a.status != domain.StatusVerifying {
			return
		}
		if e.err != nil {
			a.log.Error("commit visit failed", slog.String("error", e.err.Error()))
			a.terminate(domain.StatusFailed, domain.ReasonRepositoryError)
			return
		}
		a.terminate(domain.StatusCompleted, domain.ReasonNone)

	case evCancel:
		a.terminate(domain.StatusCancelled, domain.ReasonUserCancelled)
	}
}

func (a *Attempt) requestFinalFix() {
	coord, err := fixWithin(a.verifyCtx, a.provider, a.policy.FinalFixTimeout)
	if err != nil {
		err = fmt.Errorf("final fix: %w", err)
	}
	a.mailbox.post(event{kind: evFinalFix, coord: coord, err: err})
}

func (a *Attempt) commit() {
	ctx, cancel := context.WithTimeout(a.verifyCtx, a.policy.OutcomeTimeout)
	defer cancel()
	err := a.repo.CommitVisit(ctx, a.req.UserID, a.req.SpotID)
	if err != nil {
		err = fmt.Errorf("commit visit: %w", err)
	}
	a.mailbox.post(event{kind: evCommitted, err: err})
}

// terminate releases every producer before the terminal state is published,
// so nothing from this attempt can reach a later one.
func (a *Attempt) terminate(status domain.AttemptStatus, reason domain.TerminationReason) {
	a.release()
	a.reason = reason
	a.transition(status)
	a.publish()
	a.log.Info("visit attempt finished",
		slog.String("status", string(status)),
		slog.String("reason", string(reason)),
		slog.Float64("last_distance_m", a.lastDistance))
	if a.onTerminal != nil {
		a.onTerminal(a)
	}
}

func (a *Attempt) release() {
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.verifyCancel != nil {
		a.verifyCancel()
	}
}

func (a *Attempt) transition(to domain.AttemptStatus) {
	from := a.status
	a.status = to
	if a.onTransition != nil {
		a.onTransition(a.id, from, to)
	}
}

func (a *Attempt) publish() {
	a.snapshots.publish(a.snapshot())
}

func (a *Attempt) snapshot() domain.Snapshot {
	return domain.Snapshot{
		AttemptID:          a.id,
		UserID:             a.req.UserID,
		SpotID:             a.req.SpotID,
		Target:             a.req.Target,
		RadiusMeters:       a.req.RadiusMeters,
		DwellSeconds:       a.req.DwellSeconds,
		Status:             a.status,
		RemainingSeconds:   a.remaining,
		LastDistanceMeters: a.lastDistance,
		TerminationReason:  a.reason,
		StreamErrors:       a.streamErrors,
		UpdatedAt:          a.now(),
	}
}
