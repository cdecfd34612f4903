// Package sweeper reminds senders of open cases and archives cases that
// passed their expiry.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hystdevtv/pear/internal/mail"
	"github.com/hystdevtv/pear/internal/models"
)

// CaseStore is what a sweep reads and writes. ListPending must not return
// completed cases.
type CaseStore interface {
	ListPending(ctx context.Context) ([]*models.PendingCase, error)
	Save(ctx context.Context, c *models.PendingCase) error
	Archive(ctx context.Context, c *models.PendingCase) error
}

// Notifier sends reminders and closure notices.
type Notifier interface {
	SendReminder(ctx context.Context, to string, n mail.Notice) error
	SendExpiry(ctx context.Context, to string, n mail.Notice) error
}

// Config holds the reminder schedule. Expiry comes from each case.
type Config struct {
	Required    []models.Field
	RemindAfter time.Duration
	RemindEvery time.Duration
}

// Report summarizes one sweep.
type Report struct {
	Checked  int `json:"checked"`
	Reminded int `json:"reminded"`
	Expired  int `json:"expired"`
	Failed   int `json:"failed"`
}

// Sweeper reminds senders of open cases and archives expired ones.
type Sweeper struct {
	cases    CaseStore
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

// New returns a Sweeper. An empty Config.Required falls back to
// models.DefaultRequiredFields.
func New(cases CaseStore, notifier Notifier, cfg Config) *Sweeper {
	if len(cfg.Required) == 0 {
		cfg.Required = models.DefaultRequiredFields
	}
	return &Sweeper{cases: cases, notifier: notifier, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Sweep visits every pending case once. Per-case failures are logged and
// counted; only a failure to list the cases aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	cases, err := s.cases.ListPending(ctx)
	if err != nil {
		return rep, fmt.Errorf("list pending cases: %w", err)
	}

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++
		now := s.now().UTC()

		if c.Expired(now) {
			if err := s.expire(ctx, c, now); err != nil {
				slog.Error("failed to expire case", "case_id", c.ID, "error", err)
				rep.Failed++
				continue
			}
			rep.Expired++
			continue
		}

		if !s.reminderDue(c, now) {
			continue
		}
		if err := s.remind(ctx, c, now); err != nil {
			slog.Error("failed to send reminder", "case_id", c.ID, "error", err)
			rep.Failed++
			continue
		}
		rep.Reminded++
	}

	slog.Info("sweep finished", "checked", rep.Checked, "reminded", rep.Reminded, "expired", rep.Expired, "failed", rep.Failed)
	return rep, nil
}

// reminderDue applies the first-reminder and repeat-interval rules.
func (s *Sweeper) reminderDue(c *models.PendingCase, now time.Time) bool {
	if last, ok := c.LastEvent(models.EventReminderSent); ok {
		return !now.Before(last.Add(s.cfg.RemindEvery))
	}
	created := c.CreatedAt
	if created.IsZero() && len(c.History) > 0 {
		created = c.History[0].At
	}
	if created.IsZero() {
		return false
	}
	return !now.Before(created.Add(s.cfg.RemindAfter))
}

func (s *Sweeper) remind(ctx context.Context, c *models.PendingCase, now time.Time) error {
	if c.Sender == "" {
		return fmt.Errorf("case %s has no sender", c.ID)
	}
	n := mail.Notice{
		CaseID:  c.ID,
		Subject: c.Subject,
		Missing: c.Fields.MissingFrom(s.cfg.Required),
		Known:   c.Fields.Known(models.AllFields),
	}
	if err := s.notifier.SendReminder(ctx, c.Sender, n); err != nil {
		return err
	}
	c.AddEvent(now, models.EventReminderSent, "")
	if err := s.cases.Save(ctx, c); err != nil {
		return fmt.Errorf("record reminder: %w", err)
	}
	return nil
}

// expire archives the case before notifying, so a failed notice never
// leaves the case matchable.
func (s *Sweeper) expire(ctx context.Context, c *models.PendingCase, now time.Time) error {
	c.State = models.StateExpired
	c.AddEvent(now, models.EventExpired, "")
	if err := s.cases.Archive(ctx, c); err != nil {
		return err
	}
	if c.Sender == "" {
		return nil
	}
	n := mail.Notice{CaseID: c.ID, Subject: c.Subject}
	if err := s.notifier.SendExpiry(ctx, c.Sender, n); err != nil {
		slog.Warn("case archived but closure notice failed", "case_id", c.ID, "error", err)
	}
	return nil
}
