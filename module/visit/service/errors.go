package service

import (
	"errors"
	"fmt"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

var (
	ErrAttemptInProgress = errors.New("a visit attempt is already in progress for this spot")
	ErrAttemptNotFound   = errors.New("visit attempt not found")
	ErrInvalidAttempt    = errors.New("invalid visit attempt")
	ErrShuttingDown      = errors.New("verification service is shutting down")

	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrOutOfRange          = errors.New("too far from spot")
)

// StartError reports an attempt that failed before monitoring began.
type StartError struct {
	Reason         domain.TerminationReason
	DistanceMeters float64
	Err            error
}

func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("start visit attempt: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("start visit attempt: %s", e.Reason)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

func (e *StartError) Is(target error) bool {
	switch e.Reason {
	case domain.ReasonPermissionDenied:
		return target == ErrPermissionDenied
	case domain.ReasonLocationUnavailable:
		return target == ErrLocationUnavailable
	case domain.ReasonOutOfRange:
		return target == ErrOutOfRange
	}
	return false
}

// ReasonOf extracts the termination reason from a Start error.
func ReasonOf(err error) (domain.TerminationReason, bool) {
	var se *StartError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return domain.ReasonNone, false
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAttempt, fmt.Sprintf(format, args...))
}
