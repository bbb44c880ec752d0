// Package learning persists failures from fix sessions, distills them
// into prevention lessons, and feeds the most effective lessons back
// into future strategy prompts.
package learning

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Store is the failure/lesson ledger backed by the shared database.
type Store struct {
	db *sql.DB
}

// NewStore builds a learning store over the shared database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordFailure appends one failure row and returns its ID.
func (s *Store) RecordFailure(ctx context.Context, f *models.Failure) (int64, error) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO failures (session_id, timestamp, stage, error_message, issue_category, issue_title, files_involved, strategy, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.SessionID, f.Timestamp, f.Stage, f.ErrorMessage, string(f.IssueCategory),
		f.IssueTitle, strings.Join(f.FilesInvolved, ","), f.Strategy, f.Context)
	if err != nil {
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	f.ID = id
	slog.Info("Recorded failure", "failure_id", id, "session_id", f.SessionID, "stage", f.Stage)
	return id, nil
}

// UnanalyzedFailures returns the failures of one session that have not
// been through lesson extraction yet.
func (s *Store) UnanalyzedFailures(ctx context.Context, sessionID string) ([]models.Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, stage, error_message, issue_category, issue_title, files_involved, strategy, context, analyzed
		FROM failures WHERE session_id = ? AND analyzed = 0 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unanalyzed failures: %w", err)
	}
	defer rows.Close()
	return scanFailures(rows)
}

// MarkAnalyzed flags a failure as processed so it is not re-analyzed.
func (s *Store) MarkAnalyzed(ctx context.Context, failureID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE failures SET analyzed = 1 WHERE id = ?", failureID)
	if err != nil {
		return fmt.Errorf("failed to mark failure analyzed: %w", err)
	}
	return nil
}

// CreateLesson stores a distilled lesson unless an active lesson with
// the same prevention rule already exists. It returns the lesson ID and
// whether a new row was created.
func (s *Store) CreateLesson(ctx context.Context, l *models.Lesson) (int64, bool, error) {
	var existing int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM lessons WHERE prevention_rule = ? AND active = 1", l.PreventionRule).Scan(&existing)
	switch {
	case err == nil:
		slog.Debug("Lesson already known", "lesson_id", existing, "rule", l.PreventionRule)
		return existing, false, nil
	case err != sql.ErrNoRows:
		return 0, false, fmt.Errorf("failed to check for duplicate lesson: %w", err)
	}

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	var failureID any
	if l.FailureID != 0 {
		failureID = l.FailureID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lessons (failure_id, created_at, failure_type, root_cause, lesson, prevention_rule)
		VALUES (?, ?, ?, ?, ?, ?)`,
		failureID, l.CreatedAt, l.FailureType, l.RootCause, l.Lesson, l.PreventionRule)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create lesson: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	l.ID = id
	l.Active = true
	slog.Info("Learned new lesson", "lesson_id", id, "type", l.FailureType)
	return id, true, nil
}

// SeedLesson inserts an operator-authored lesson with no source failure.
func (s *Store) SeedLesson(ctx context.Context, failureType, rootCause, lesson, preventionRule string) (int64, error) {
	id, _, err := s.CreateLesson(ctx, &models.Lesson{
		FailureType:    failureType,
		RootCause:      rootCause,
		Lesson:         lesson,
		PreventionRule: preventionRule,
	})
	return id, err
}

// RelevantLessons returns up to limit active lessons ranked by success
// rate, then by how often they have been applied, then by recency.
// Lessons never scored rank at a neutral 0.5.
func (s *Store) RelevantLessons(ctx context.Context, category models.Category, limit int) ([]models.Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, failure_id, created_at, failure_type, root_cause, lesson, prevention_rule,
		       times_applied, success_count, failure_count, active
		FROM lessons
		WHERE active = 1
		ORDER BY
			CASE WHEN success_count + failure_count = 0 THEN 0.5
			     ELSE CAST(success_count AS REAL) / (success_count + failure_count) END DESC,
			times_applied DESC,
			created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()
	return scanLessons(rows)
}

// RecordApplication notes that a lesson was injected into a session's
// strategy prompt and bumps its application counter.
func (s *Store) RecordApplication(ctx context.Context, lessonID int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lesson_applications (lesson_id, session_id, applied_at) VALUES (?, ?, ?)`,
		lessonID, sessionID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record lesson application: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE lessons SET times_applied = times_applied + 1 WHERE id = ?", lessonID)
	if err != nil {
		return fmt.Errorf("failed to bump times_applied: %w", err)
	}
	return nil
}

// RecordOutcome scores every unscored lesson application of the session
// with the given outcome and updates each distinct lesson's counters.
func (s *Store) RecordOutcome(ctx context.Context, sessionID string, success bool) error {
	outcome := "failure"
	counter := "failure_count"
	if success {
		outcome = "success"
		counter = "success_count"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT lesson_id FROM lesson_applications
		WHERE session_id = ? AND outcome IS NULL`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to query pending applications: %w", err)
	}
	var lessonIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		lessonIDs = append(lessonIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(lessonIDs) == 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE lesson_applications SET outcome = ?
		WHERE session_id = ? AND outcome IS NULL`, outcome, sessionID)
	if err != nil {
		return fmt.Errorf("failed to score applications: %w", err)
	}
	for _, id := range lessonIDs {
		_, err = s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE lessons SET %s = %s + 1 WHERE id = ?", counter, counter), id)
		if err != nil {
			return fmt.Errorf("failed to update lesson counters: %w", err)
		}
	}
	return nil
}

// Prune deactivates lessons applied at least minApplications times with
// a success rate below minSuccessRate. Returns the IDs deactivated.
func (s *Store) Prune(ctx context.Context, minApplications int, minSuccessRate float64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM lessons
		WHERE active = 1 AND times_applied >= ?
		  AND success_count + failure_count > 0
		  AND CAST(success_count AS REAL) / (success_count + failure_count) < ?`,
		minApplications, minSuccessRate)
	if err != nil {
		return nil, fmt.Errorf("failed to query ineffective lessons: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, "UPDATE lessons SET active = 0 WHERE id = ?", id); err != nil {
			return nil, fmt.Errorf("failed to deactivate lesson %d: %w", id, err)
		}
		slog.Info("Deactivated ineffective lesson", "lesson_id", id)
	}
	return ids, nil
}

// ListLessons returns lessons, optionally including deactivated ones.
func (s *Store) ListLessons(ctx context.Context, includeInactive bool) ([]models.Lesson, error) {
	query := `
		SELECT id, failure_id, created_at, failure_type, root_cause, lesson, prevention_rule,
		       times_applied, success_count, failure_count, active
		FROM lessons`
	if !includeInactive {
		query += " WHERE active = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()
	return scanLessons(rows)
}

// Stats summarizes the learning store for operators.
type Stats struct {
	TotalFailures      int            `json:"total_failures"`
	UnanalyzedFailures int            `json:"unanalyzed_failures"`
	ActiveLessons      int            `json:"active_lessons"`
	InactiveLessons    int            `json:"inactive_lessons"`
	TotalApplications  int            `json:"total_applications"`
	OverallSuccessRate float64        `json:"overall_success_rate"`
	FailuresByStage    map[string]int `json:"failures_by_stage"`
}

// GetStats aggregates the store's contents.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{FailuresByStage: make(map[string]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN analyzed = 0 THEN 1 ELSE 0 END), 0)
		FROM failures`).Scan(&stats.TotalFailures, &stats.UnanalyzedFailures)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN active = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(times_applied), 0)
		FROM lessons`).Scan(&stats.ActiveLessons, &stats.InactiveLessons, &stats.TotalApplications)
	if err != nil {
		return nil, fmt.Errorf("failed to count lessons: %w", err)
	}

	var successes, total sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT SUM(success_count), SUM(success_count + failure_count) FROM lessons`).
		Scan(&successes, &total)
	if err != nil {
		return nil, fmt.Errorf("failed to compute success rate: %w", err)
	}
	if total.Int64 > 0 {
		stats.OverallSuccessRate = float64(successes.Int64) / float64(total.Int64)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT stage, COUNT(*) FROM failures GROUP BY stage")
	if err != nil {
		return nil, fmt.Errorf("failed to group failures by stage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats.FailuresByStage[stage] = count
	}
	return stats, rows.Err()
}

func scanFailures(rows *sql.Rows) ([]models.Failure, error) {
	var failures []models.Failure
	for rows.Next() {
		var f models.Failure
		var category, files string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Timestamp, &f.Stage, &f.ErrorMessage,
			&category, &f.IssueTitle, &files, &f.Strategy, &f.Context, &f.Analyzed); err != nil {
			return nil, err
		}
		f.IssueCategory = models.Category(category)
		if files != "" {
			f.FilesInvolved = strings.Split(files, ",")
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func scanLessons(rows *sql.Rows) ([]models.Lesson, error) {
	var lessons []models.Lesson
	for rows.Next() {
		var l models.Lesson
		var failureID sql.NullInt64
		if err := rows.Scan(&l.ID, &failureID, &l.CreatedAt, &l.FailureType, &l.RootCause,
			&l.Lesson, &l.PreventionRule, &l.TimesApplied, &l.SuccessCount, &l.FailureCount, &l.Active); err != nil {
			return nil, err
		}
		l.FailureID = failureID.Int64
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}
