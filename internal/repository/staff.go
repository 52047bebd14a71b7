package repository

import (
	"context"
	"time"

	"github.com/Zakes-Matsimbe/nkateko/internal/model"
)

func (s *Store) ListLearners(ctx context.Context, grade string, limit int) ([]model.LearnerSummary, error) {
	query := `
		SELECT id, full_names, bokamoso_number, grade, school, enrolled
		FROM users
		WHERE ($1 = '' OR grade = $1)
		ORDER BY full_names
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, grade, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	learners := []model.LearnerSummary{}
	for rows.Next() {
		var learner model.LearnerSummary
		if err := rows.Scan(&learner.ID, &learner.Name, &learner.BokamosoNumber, &learner.Grade, &learner.School, &learner.Enrolled); err != nil {
			return nil, err
		}
		learners = append(learners, learner)
	}
	return learners, rows.Err()
}

func (s *Store) ListAllApplications(ctx context.Context, status string, limit int) ([]model.Application, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT app_id, year, status, math_type, grade, created_at, updated_at, data
		FROM applications
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanApplications(rows)
}

func (s *Store) UpdateApplicationStatus(ctx context.Context, appID, status string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications
		SET status = $1, updated_at = $2
		WHERE app_id = $3
	`, status, time.Now().UTC(), appID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CreateNotification(ctx context.Context, learnerID int64, title, content string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (user_id, title, content, is_read, created_at)
		VALUES ($1, $2, $3, false, $4)
	`, learnerID, title, content, time.Now().UTC())
	return err
}
