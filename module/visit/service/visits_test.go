package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

type mockVisitRepo struct {
	commitVisitFn func(ctx context.Context, userID, spotID string) error
	listVisitsFn  func(ctx context.Context, userID string) ([]domain.VisitRecord, error)
	hasVisitedFn  func(ctx context.Context, userID, spotID string) (bool, error)
}

func (m *mockVisitRepo) CommitVisit(ctx context.Context, userID, spotID string) error {
	return m.commitVisitFn(ctx, userID, spotID)
}

func (m *mockVisitRepo) ListVisits(ctx context.Context, userID string) ([]domain.VisitRecord, error) {
	return m.listVisitsFn(ctx, userID)
}

func (m *mockVisitRepo) HasVisited(ctx context.Context, userID, spotID string) (bool, error) {
	return m.hasVisitedFn(ctx, userID, spotID)
}

func TestListVisits_Success(t *testing.T) {
	ts := time.Unix(1715003456, 0)
	repo := &mockVisitRepo{
		listVisitsFn: func(_ context.Context, userID string) ([]domain.VisitRecord, error) {
			return []domain.VisitRecord{
				{UserID: userID, SpotID: "spot-1", VisitedAt: ts},
				{UserID: userID, SpotID: "spot-2", VisitedAt: ts},
			}, nil
		},
	}

	svc := NewVisitQueryService(repo)
	visits, err := svc.ListVisits(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(visits) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(visits))
	}
	if visits[0].UserID != "user-1" {
		t.Errorf("expected user-1, got %s", visits[0].UserID)
	}
}

func TestListVisits_EmptyUser(t *testing.T) {
	svc := NewVisitQueryService(&mockVisitRepo{})
	_, err := svc.ListVisits(context.Background(), "")
	if !errors.Is(err, ErrInvalidAttempt) {
		t.Fatalf("expected ErrInvalidAttempt, got %v", err)
	}
}

func TestListVisits_RepoError(t *testing.T) {
	repo := &mockVisitRepo{
		listVisitsFn: func(_ context.Context, _ string) ([]domain.VisitRecord, error) {
			return nil, errors.New("db error")
		},
	}

	svc := NewVisitQueryService(repo)
	if _, err := svc.ListVisits(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestHasVisited(t *testing.T) {
	repo := &mockVisitRepo{
		hasVisitedFn: func(_ context.Context, _, spotID string) (bool, error) {
			return spotID == "spot-1", nil
		},
	}

	svc := NewVisitQueryService(repo)
	ok, err := svc.HasVisited(context.Background(), "user-1", "spot-1")
	if err != nil || !ok {
		t.Fatalf("expected visited, got %v %v", ok, err)
	}
	ok, _ = svc.HasVisited(context.Background(), "user-1", "spot-9")
	if ok {
		t.Fatal("expected not visited")
	}
	if _, err := svc.HasVisited(context.Background(), "user-1", ""); !errors.Is(err, ErrInvalidAttempt) {
		t.Fatalf("expected ErrInvalidAttempt, got %v", err)
	}
}
