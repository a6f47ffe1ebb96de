package domain

import "time"

type AttemptStatus string

const (
	StatusIdle       AttemptStatus = "idle"
	StatusMonitoring AttemptStatus = "monitoring"
	StatusVerifying  AttemptStatus = "verifying"
	StatusCompleted  AttemptStatus = "completed"
	StatusCancelled  AttemptStatus = "cancelled"
	StatusFailed     AttemptStatus = "failed"
)

func (s AttemptStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

type TerminationReason string

const (
	ReasonNone                    TerminationReason = ""
	ReasonPermissionDenied        TerminationReason = "permission_denied"
	ReasonLocationUnavailable     TerminationReason = "location_unavailable"
	ReasonOutOfRange              TerminationReason = "out_of_range"
	ReasonDriftedAway             TerminationReason = "drifted_away"
	ReasonVerificationUnavailable TerminationReason = "verification_unavailable"
	ReasonVerificationDrift       TerminationReason = "verification_drift"
	ReasonRepositoryError         TerminationReason = "repository_error"
	ReasonUserCancelled           TerminationReason = "user_cancelled"
)

// AttemptKey identifies the (user, spot) pair an attempt is exclusive for.
type AttemptKey struct {
	UserID string
	SpotID string
}

func (k AttemptKey) String() string {
	return k.UserID + ":" + k.SpotID
}

type AttemptRequest struct {
	UserID       string
	SpotID       string
	Target       Coordinate
	RadiusMeters float64
	DwellSeconds int
}

func (r AttemptRequest) Key() AttemptKey {
	return AttemptKey{UserID: r.UserID, SpotID: r.SpotID}
}

// Snapshot is the read-only view of an attempt pushed to callers.
type Snapshot struct {
	AttemptID          string            `json:"attempt_id"`
	UserID             string            `json:"user_id"`
	SpotID             string            `json:"spot_id"`
	Target             Coordinate        `json:"target"`
	RadiusMeters       float64           `json:"radius_meters"`
	DwellSeconds       int               `json:"dwell_seconds"`
	Status             AttemptStatus     `json:"status"`
	RemainingSeconds   int               `json:"remaining_seconds"`
	LastDistanceMeters float64           `json:"last_distance_meters"`
	TerminationReason  TerminationReason `json:"termination_reason,omitempty"`
	StreamErrors       int               `json:"stream_errors"`
	UpdatedAt          time.Time         `json:"updated_at"`
}
