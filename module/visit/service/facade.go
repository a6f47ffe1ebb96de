package service

import (
	"context"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

// StartAttempt starts an attempt and returns its first snapshot.
func (s *VerificationService) StartAttempt(ctx context.Context, req domain.AttemptRequest) (domain.Snapshot, error) {
	a, err := s.Start(ctx, req)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return a.Snapshot(), nil
}

func (s *VerificationService) CancelAttempt(attemptID string) (domain.Snapshot, error) {
	return s.Cancel(attemptID)
}

func (s *VerificationService) AttemptSnapshot(attemptID string) (domain.Snapshot, error) {
	a, err := s.Get(attemptID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return a.Snapshot(), nil
}

// WatchAttempt subscribes to an attempt's snapshot stream.
func (s *VerificationService) WatchAttempt(attemptID string) (<-chan domain.Snapshot, func(), error) {
	a, err := s.Get(attemptID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := a.Subscribe()
	return ch, cancel, nil
}
