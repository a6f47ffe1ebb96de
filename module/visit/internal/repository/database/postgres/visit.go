package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/internal/repository/database"
)

var _ database.VisitRepository = (*VisitRepo)(nil)

type VisitRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewVisitRepo(db *sql.DB) *VisitRepo {
	return &VisitRepo{db: db, now: time.Now}
}

// CommitVisit records the visit once; repeating the call for the same
// user and spot leaves the first record untouched.
func (r *VisitRepo) CommitVisit(ctx context.Context, userID, spotID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO spot_visits (user_id, spot_id, visited_at) VALUES ($1, $2, $3) ON CONFLICT (user_id, spot_id) DO NOTHING`,
		userID, spotID, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert spot visit: %w", err)
	}
	return nil
}

func (r *VisitRepo) ListVisits(ctx context.Context, userID string) ([]domain.VisitRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, spot_id, visited_at FROM spot_visits WHERE user_id = $1 ORDER BY visited_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []domain.VisitRecord
	for rows.Next() {
		var v domain.VisitRecord
		if err := rows.Scan(&v.UserID, &v.SpotID, &v.VisitedAt); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

func (r *VisitRepo) HasVisited(ctx context.Context, userID, spotID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM spot_visits WHERE user_id = $1 AND spot_id = $2)`,
		userID, spotID,
	).Scan(&exists)
	return exists, err
}
