package service

import (
	"context"
	"fmt"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/internal/repository/database"
)

type VisitQueryService struct {
	repo database.VisitRepository
}

func NewVisitQueryService(repo database.VisitRepository) *VisitQueryService {
	return &VisitQueryService{repo: repo}
}

func (s *VisitQueryService) ListVisits(ctx context.Context, userID string) ([]domain.VisitRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id: required", ErrInvalidAttempt)
	}
	return s.repo.ListVisits(ctx, userID)
}

func (s *VisitQueryService) HasVisited(ctx context.Context, userID, spotID string) (bool, error) {
	if userID == "" || spotID == "" {
		return false, fmt.Errorf("%w: user_id and spot_id: required", ErrInvalidAttempt)
	}
	return s.repo.HasVisited(ctx, userID, spotID)
}
