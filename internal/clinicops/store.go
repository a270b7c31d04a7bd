// Package clinicops holds the clinic's periodic housekeeping: no-show marking, waiting-room queue
// ordering and appointment reminder dispatch.
package clinicops

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Appointment statuses.
const (
	StatusScheduled = "scheduled"
	StatusCheckedIn = "checked_in"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
	StatusCancelled = "cancelled"
)

// Queue entry statuses.
const (
	QueueWaiting = "waiting"
	QueueInChair = "in_chair"
	QueueDone    = "done"
)

// Appointment is a scheduled visit.
type Appointment struct {
	ID             uuid.UUID
	PatientID      string
	PatientName    string
	PatientEmail   string
	Provider       string
	StartsAt       time.Time
	Status         string
	ReminderSentAt *time.Time
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists appointments and the waiting-room queue in Postgres.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	if db == nil {
		panic("clinicops: pgx db required")
	}
	return &Store{db: db}
}

// MarkNoShows flips scheduled appointments that started before cutoff to no_show.
func (s *Store) MarkNoShows(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET status = 'no_show', updated_at = $2
		WHERE status = 'scheduled' AND starts_at < $1
	`, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("clinicops: mark no-shows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RefreshQueue renumbers waiting entries 1..n by check-in time and clears positions of entries
// that have left the queue. It returns the number of rows whose position changed.
func (s *Store) RefreshQueue(ctx context.Context) (int64, error) {
	ranked, err := s.db.Exec(ctx, `
		WITH ranked AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY checked_in_at, id) AS pos
			FROM queue_entries
			WHERE status = 'waiting'
		)
		UPDATE queue_entries q
		SET position = ranked.pos
		FROM ranked
		WHERE q.id = ranked.id AND q.position IS DISTINCT FROM ranked.pos
	`)
	if err != nil {
		return 0, fmt.Errorf("clinicops: rank queue: %w", err)
	}
	cleared, err := s.db.Exec(ctx, `
		UPDATE queue_entries
		SET position = NULL
		WHERE status <> 'waiting' AND position IS NOT NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("clinicops: clear queue positions: %w", err)
	}
	return ranked.RowsAffected() + cleared.RowsAffected(), nil
}

// DueReminders lists scheduled appointments starting in [from, to) that have an email and no
// reminder yet, earliest first.
func (s *Store) DueReminders(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, patient_id, patient_name, patient_email, provider, starts_at, status, reminder_sent_at
		FROM appointments
		WHERE status = 'scheduled'
		  AND reminder_sent_at IS NULL
		  AND patient_email <> ''
		  AND starts_at >= $1 AND starts_at < $2
		ORDER BY starts_at
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("clinicops: query due reminders: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.PatientEmail, &a.Provider, &a.StartsAt, &a.Status, &a.ReminderSentAt); err != nil {
			return nil, fmt.Errorf("clinicops: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinicops: iterate appointments: %w", err)
	}
	return out, nil
}

// MarkReminderSent records delivery. It reports false when another worker already marked it.
func (s *Store) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = $2, updated_at = $2
		WHERE id = $1 AND reminder_sent_at IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("clinicops: mark reminder sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
