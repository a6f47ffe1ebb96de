package service

import (
	"time"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

// Policy holds the tunable parts of the verification flow.
type Policy struct {
	TickInterval      time.Duration
	InitialFixTimeout time.Duration
	FinalFixTimeout   time.Duration
	// ArrivalOrder applies a pending dwell expiry in arrival order. By
	// default pending geofence samples are applied before it, so a drift
	// always wins over a simultaneous expiry.
	ArrivalOrder bool
	Watch        domain.WatchOptions
	// Retention is how long finished attempts stay queryable by ID.
	Retention time.Duration
	// OutcomeTimeout bounds the visit commit, guard release and outcome
	// publishing.
	OutcomeTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		TickInterval:      time.Second,
		InitialFixTimeout: 10 * time.Second,
		FinalFixTimeout:   10 * time.Second,
		Watch:             domain.WatchOptions{HighAccuracy: true, DistanceFilter: 1, Interval: 5 * time.Second},
		Retention:         10 * time.Minute,
		OutcomeTimeout:    5 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.TickInterval <= 0 {
		p.TickInterval = d.TickInterval
	}
	if p.InitialFixTimeout <= 0 {
		p.InitialFixTimeout = d.InitialFixTimeout
	}
	if p.FinalFixTimeout <= 0 {
		p.FinalFixTimeout = d.FinalFixTimeout
	}
	if p.Retention <= 0 {
		p.Retention = d.Retention
	}
	if p.OutcomeTimeout <= 0 {
		p.OutcomeTimeout = d.OutcomeTimeout
	}
	return p
}

// maxLifetime bounds how long an attempt with the given dwell can stay live:
// the initial fix, the countdown, the final fix and the commit.
func (p Policy) maxLifetime(dwellSeconds int) time.Duration {
	return p.InitialFixTimeout +
		time.Duration(dwellSeconds)*p.TickInterval +
		p.FinalFixTimeout +
		p.OutcomeTimeout
}
