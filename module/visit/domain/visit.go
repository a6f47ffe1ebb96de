package domain

import "time"

type VisitRecord struct {
	UserID    string    `json:"user_id"`
	SpotID    string    `json:"spot_id"`
	VisitedAt time.Time `json:"visited_at"`
}

// OutcomeEvent is emitted once per attempt when it reaches a terminal state.
type OutcomeEvent struct {
	AttemptID          string            `json:"attempt_id"`
	UserID             string            `json:"user_id"`
	SpotID             string            `json:"spot_id"`
	Status             AttemptStatus     `json:"status"`
	Reason             TerminationReason `json:"reason,omitempty"`
	LastDistanceMeters float64           `json:"last_distance_meters"`
	Timestamp          int64             `json:"timestamp"`
}
