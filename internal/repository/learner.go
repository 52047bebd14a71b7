package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Zakes-Matsimbe/nkateko/internal/model"
)

func (s *Store) GetLearnerProfile(ctx context.Context, learnerID int64) (model.LearnerProfile, error) {
	var profile model.LearnerProfile
	row := s.pool.QueryRow(ctx, `
		SELECT full_names, bokamoso_number, grade, school, email, cell_number, whatsapp_number, enrolled, southdeep
		FROM users
		WHERE id = $1
	`, learnerID)
	err := row.Scan(
		&profile.Name,
		&profile.BokamosoNumber,
		&profile.Grade,
		&profile.School,
		&profile.Email,
		&profile.CellNumber,
		&profile.WhatsappNumber,
		&profile.Enrolled,
		&profile.Southdeep,
	)
	return profile, err
}

func (s *Store) ListAssessmentMarks(ctx context.Context, learnerID int64) ([]model.AssessmentMark, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.name, a.subject, a.date_written, am.percentage
		FROM assessments a
		JOIN assessment_marks am ON a.id = am.assessment_id
		WHERE am.learner_id = $1
		ORDER BY a.date_written DESC
	`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	marks := []model.AssessmentMark{}
	for rows.Next() {
		var mark model.AssessmentMark
		if err := rows.Scan(&mark.AssessmentName, &mark.Subject, &mark.DateWritten, &mark.Mark); err != nil {
			return nil, err
		}
		marks = append(marks, mark)
	}
	return marks, rows.Err()
}

func (s *Store) ListAttendance(ctx context.Context, learnerID int64) ([]model.AttendanceEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT class_date, status, apology_message, recorded_at
		FROM attendance_classes
		WHERE user_id = $1
		ORDER BY class_date DESC
	`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.AttendanceEntry{}
	for rows.Next() {
		var entry model.AttendanceEntry
		if err := rows.Scan(&entry.ClassDate, &entry.Status, &entry.ApologyMessage, &entry.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) ListNotifications(ctx context.Context, learnerID int64) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, content, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []model.Notification{}
	for rows.Next() {
		var notification model.Notification
		if err := rows.Scan(&notification.ID, &notification.Title, &notification.Content, &notification.IsRead, &notification.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}
	return notifications, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, learnerID, notificationID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE id = $1 AND user_id = $2
	`, notificationID, learnerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE is_read = true AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListApplications(ctx context.Context, learnerID int64) ([]model.Application, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT app_id, year, status, math_type, grade, created_at, updated_at, data
		FROM applications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanApplications(rows)
}

func scanApplications(rows pgx.Rows) ([]model.Application, error) {
	applications := []model.Application{}
	for rows.Next() {
		var app model.Application
		if err := rows.Scan(&app.AppID, &app.Year, &app.Status, &app.MathType, &app.Grade, &app.CreatedAt, &app.UpdatedAt, &app.Data); err != nil {
			return nil, err
		}
		applications = append(applications, app)
	}
	return applications, rows.Err()
}

// CreateApplication inserts a pending application inside a transaction so
// a failed write leaves nothing behind.
func (s *Store) CreateApplication(ctx context.Context, learnerID int64, appID string, year int, mathType, grade string, data []byte) error {
	now := time.Now().UTC()
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO applications (app_id, user_id, year, status, math_type, grade, created_at, updated_at, data)
			VALUES ($1, $2, $3, 'Pending', $4, $5, $6, $6, $7)
		`, appID, learnerID, year, mathType, grade, now, data)
		return err
	})
}

func (s *Store) HasBothDocuments(ctx context.Context, learnerID int64) (bool, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT doc_type)
		FROM learner_documents
		WHERE user_id = $1 AND doc_type IN ('id', 'report')
	`, learnerID)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count == 2, nil
}

// SaveLearnerDocuments upserts the id and report document rows in one
// transaction so a failed write leaves neither behind.
func (s *Store) SaveLearnerDocuments(ctx context.Context, learnerID int64, idPath, reportPath string) error {
	now := time.Now().UTC()
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		for docType, filePath := range map[string]string{"id": idPath, "report": reportPath} {
			_, err := tx.Exec(ctx, `
				INSERT INTO learner_documents (user_id, doc_type, file_path, uploaded_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (user_id, doc_type)
				DO UPDATE SET file_path = EXCLUDED.file_path, uploaded_at = EXCLUDED.uploaded_at
			`, learnerID, docType, filePath, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListLearnerSubjects(ctx context.Context, learnerID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subject FROM learner_subjects
		WHERE user_id = $1
		ORDER BY subject
	`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subjects := []string{}
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

// GetTermMarks returns pgx.ErrNoRows when the learner has not submitted
// anything for the term yet.
func (s *Store) GetTermMarks(ctx context.Context, learnerID int64, term int) (model.TermMarks, error) {
	marks := model.TermMarks{Term: term}
	row := s.pool.QueryRow(ctx, `
		SELECT marks, report_path, updated_at
		FROM term_marks
		WHERE user_id = $1 AND term = $2
	`, learnerID, term)
	err := row.Scan(&marks.Marks, &marks.ReportPath, &marks.UpdatedAt)
	return marks, err
}

func (s *Store) IsTermOpen(ctx context.Context, term int) (bool, error) {
	var open bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM term_windows
			WHERE term = $1 AND now() BETWEEN opens_at AND closes_at
		)
	`, term)
	err := row.Scan(&open)
	return open, err
}

// UpsertTermMarks replaces the term's marks and, when reportPath is set,
// the stored report as well. A nil reportPath keeps the existing report.
func (s *Store) UpsertTermMarks(ctx context.Context, learnerID int64, term int, marks []byte, reportPath *string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO term_marks (user_id, term, marks, report_path, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, term)
		DO UPDATE SET
			marks = EXCLUDED.marks,
			report_path = COALESCE(EXCLUDED.report_path, term_marks.report_path),
			updated_at = EXCLUDED.updated_at
	`, learnerID, term, marks, reportPath, time.Now().UTC())
	return err
}

func (s *Store) ReplaceTermReport(ctx context.Context, learnerID int64, term int, reportPath string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO term_marks (user_id, term, marks, report_path, updated_at)
		VALUES ($1, $2, '{}', $3, $4)
		ON CONFLICT (user_id, term)
		DO UPDATE SET report_path = EXCLUDED.report_path, updated_at = EXCLUDED.updated_at
	`, learnerID, term, reportPath, time.Now().UTC())
	return err
}

func (s *Store) ListWarnings(ctx context.Context, learnerID int64) ([]model.Warning, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, reason, date, severity
		FROM warnings
		WHERE user_id = $1
		ORDER BY date DESC
	`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	warnings := []model.Warning{}
	for rows.Next() {
		var warning model.Warning
		if err := rows.Scan(&warning.ID, &warning.Type, &warning.Reason, &warning.Date, &warning.Severity); err != nil {
			return nil, err
		}
		warnings = append(warnings, warning)
	}
	return warnings, rows.Err()
}

func (s *Store) ListTeacherReviews(ctx context.Context, learnerID int64) ([]model.TeacherReview, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, teacher, subject, rating, comment, date
		FROM teacher_reviews
		WHERE user_id = $1
		ORDER BY date DESC
	`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := []model.TeacherReview{}
	for rows.Next() {
		var review model.TeacherReview
		if err := rows.Scan(&review.ID, &review.Teacher, &review.Subject, &review.Rating, &review.Comment, &review.Date); err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	return reviews, rows.Err()
}
