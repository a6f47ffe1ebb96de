package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrFixTimeout       = errors.New("location fix timed out")
)

// Coordinate is an immutable WGS84 position in degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	return nil
}

// PositionEvent is one element of a position stream. Exactly one of
// Coordinate or Err is meaningful.
type PositionEvent struct {
	Coordinate Coordinate
	Timestamp  time.Time
	Err        error
}

type WatchOptions struct {
	HighAccuracy   bool
	DistanceFilter float64
	Interval       time.Duration
}

// LocationProvider is the device-location capability the engine consumes.
// WatchPosition streams until ctx is cancelled; the returned channel is
// closed once the subscription is released.
type LocationProvider interface {
	RequestPermission(ctx context.Context) (bool, error)
	CurrentFix(ctx context.Context, timeout time.Duration) (Coordinate, error)
	WatchPosition(ctx context.Context, opts WatchOptions) (<-chan PositionEvent, error)
}
