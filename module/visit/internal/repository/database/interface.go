package database

import (
	"context"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

type VisitRepository interface {
	CommitVisit(ctx context.Context, userID, spotID string) error
	ListVisits(ctx context.Context, userID string) ([]domain.VisitRecord, error)
	HasVisited(ctx context.Context, userID, spotID string) (bool, error)
}
