package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightclass/backend/internal/models"
)

// Repository handles class_sessions persistence. The live roster never
// touches the database; only scheduling metadata, lifecycle timestamps, and
// post-session aggregates live here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a class session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new scheduled session.
func (r *Repository) Create(ctx context.Context, s *models.ClassSession) error {
	const q = `INSERT INTO class_sessions (id, subject, tutor_id, status, scheduled_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	s.Status = models.SessionScheduled
	return r.pool.QueryRow(ctx, q, s.Subject, s.TutorID, s.Status, s.ScheduledAt).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a session by ID, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ClassSession, error) {
	const q = `SELECT id, subject, tutor_id, status, scheduled_at, started_at, ended_at, peak_participants, total_watch_time, created_at, updated_at
		FROM class_sessions WHERE id = $1`
	var s models.ClassSession
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.Subject, &s.TutorID, &s.Status, &s.ScheduledAt, &s.StartedAt, &s.EndedAt, &s.PeakParticipants, &s.TotalWatchTime, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// List returns sessions, optionally filtered by tutor.
func (r *Repository) List(ctx context.Context, tutorID *uuid.UUID) ([]models.ClassSession, error) {
	base := `SELECT id, subject, tutor_id, status, scheduled_at, started_at, ended_at, peak_participants, total_watch_time, created_at, updated_at FROM class_sessions`
	var args []interface{}
	var cond string
	if tutorID != nil {
		cond = " WHERE tutor_id = $1"
		args = append(args, *tutorID)
	}
	rows, err := r.pool.Query(ctx, base+cond+" ORDER BY scheduled_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.ClassSession
	for rows.Next() {
		var s models.ClassSession
		if err := rows.Scan(&s.ID, &s.Subject, &s.TutorID, &s.Status, &s.ScheduledAt, &s.StartedAt, &s.EndedAt, &s.PeakParticipants, &s.TotalWatchTime, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// MarkOngoing records the one-time Scheduled -> Ongoing transition. The
// status guard keeps a replayed event from moving the timestamps.
func (r *Repository) MarkOngoing(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	const q = `UPDATE class_sessions SET status = $1, started_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`
	_, err := r.pool.Exec(ctx, q, models.SessionOngoing, startedAt, id, models.SessionScheduled)
	return err
}

// MarkCompleted records the terminal Ongoing -> Completed transition.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	const q = `UPDATE class_sessions SET status = $1, ended_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`
	_, err := r.pool.Exec(ctx, q, models.SessionCompleted, endedAt, id, models.SessionOngoing)
	return err
}

// Cancel moves a session to Cancelled, allowed only while still Scheduled.
// Returns whether a row transitioned.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE class_sessions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`
	tag, err := r.pool.Exec(ctx, q, models.SessionCancelled, id, models.SessionScheduled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdatePeakParticipants raises peak_participants (call when current > peak).
func (r *Repository) UpdatePeakParticipants(ctx context.Context, id uuid.UUID, peak int) error {
	const q = `UPDATE class_sessions SET peak_participants = $1, updated_at = NOW() WHERE id = $2 AND $1 > peak_participants`
	_, err := r.pool.Exec(ctx, q, peak, id)
	return err
}

// UpdateWatchTime sets the aggregated watch time computed by the worker.
func (r *Repository) UpdateWatchTime(ctx context.Context, id uuid.UUID, totalSeconds int64) error {
	const q = `UPDATE class_sessions SET total_watch_time = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, totalSeconds, id)
	return err
}
