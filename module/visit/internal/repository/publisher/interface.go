package publisher

import (
	"context"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, ev *domain.OutcomeEvent) error
}
