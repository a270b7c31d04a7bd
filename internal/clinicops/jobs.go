package clinicops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dentalchart-platform/internal/notify"
	"github.com/wolfman30/dentalchart-platform/internal/scheduler"
	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

const reminderBatchSize = 100

// OpsStore is the persistence used by Jobs.
type OpsStore interface {
	MarkNoShows(ctx context.Context, cutoff, now time.Time) (int64, error)
	RefreshQueue(ctx context.Context) (int64, error)
	DueReminders(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// Config tunes the housekeeping jobs.
type Config struct {
	NoShowInterval       time.Duration
	NoShowGrace          time.Duration
	QueueRefreshInterval time.Duration
	ReminderInterval     time.Duration
	ReminderLeadTime     time.Duration
	ClinicName           string
	Location             *time.Location
}

// Jobs runs the clinic housekeeping against a store.
type Jobs struct {
	store  OpsStore
	email  notify.EmailSender
	cfg    Config
	now    func() time.Time
	logger *logging.Logger
}

func NewJobs(store OpsStore, email notify.EmailSender, cfg Config, logger *logging.Logger) *Jobs {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = notify.NewStubEmailSender(logger)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Jobs{
		store:  store,
		email:  email,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.WithComponent("clinicops"),
	}
}

// MarkNoShows marks appointments that are past their start by more than the grace period.
func (j *Jobs) MarkNoShows(ctx context.Context, now time.Time) (int64, error) {
	n, err := j.store.MarkNoShows(ctx, now.Add(-j.cfg.NoShowGrace), now.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info("marked appointments as no-show", "count", n)
	}
	return n, nil
}

// RefreshQueue recomputes waiting-room positions.
func (j *Jobs) RefreshQueue(ctx context.Context) error {
	n, err := j.store.RefreshQueue(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Debug("queue positions updated", "rows", n)
	}
	return nil
}

// DispatchReminders emails every appointment starting within the lead time that has not been
// reminded yet. A failed send leaves the appointment unmarked so the next run retries it; the
// remaining reminders are still attempted.
func (j *Jobs) DispatchReminders(ctx context.Context, now time.Time) (int, error) {
	due, err := j.store.DueReminders(ctx, now, now.Add(j.cfg.ReminderLeadTime), reminderBatchSize)
	if err != nil {
		return 0, err
	}

	var (
		sent int
		errs []error
	)
	for _, appt := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		msg := notify.ReminderEmail(notify.AppointmentReminder{
			PatientName:  appt.PatientName,
			PatientEmail: appt.PatientEmail,
			Provider:     appt.Provider,
			StartsAt:     appt.StartsAt,
			ClinicName:   j.cfg.ClinicName,
			Location:     j.cfg.Location,
		})
		if err := j.email.Send(ctx, msg); err != nil {
			j.logger.Warn("appointment reminder failed", "appointment_id", appt.ID.String(), "patient_id", appt.PatientID, "error", err)
			errs = append(errs, fmt.Errorf("clinicops: reminder %s: %w", appt.ID, err))
			continue
		}
		marked, err := j.store.MarkReminderSent(ctx, appt.ID, now.UTC())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if marked {
			sent++
		}
	}
	if sent > 0 {
		j.logger.Info("appointment reminders sent", "count", sent, "due", len(due))
	}
	return sent, errors.Join(errs...)
}

// Tasks returns the scheduler tasks for every job with a positive interval.
func (j *Jobs) Tasks() []scheduler.Task {
	var tasks []scheduler.Task
	if j.cfg.NoShowInterval > 0 {
		tasks = append(tasks, scheduler.Task{
			Name:     "mark_no_shows",
			Interval: j.cfg.NoShowInterval,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				_, err := j.MarkNoShows(ctx, j.now())
				return err
			},
		})
	}
	if j.cfg.QueueRefreshInterval > 0 {
		tasks = append(tasks, scheduler.Task{
			Name:      "refresh_queue",
			Interval:  j.cfg.QueueRefreshInterval,
			Timeout:   30 * time.Second,
			Immediate: true,
			Run:       j.RefreshQueue,
		})
	}
	if j.cfg.ReminderInterval > 0 && j.cfg.ReminderLeadTime > 0 {
		tasks = append(tasks, scheduler.Task{
			Name:     "dispatch_reminders",
			Interval: j.cfg.ReminderInterval,
			Timeout:  5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := j.DispatchReminders(ctx, j.now())
				return err
			},
		})
	}
	return tasks
}
