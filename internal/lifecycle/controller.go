// Package lifecycle decides what happens to a case when an inbound message
// arrives: finalize it, update it, or open a new one.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hystdevtv/pear/internal/casestore"
	"github.com/hystdevtv/pear/internal/extract"
	"github.com/hystdevtv/pear/internal/mail"
	"github.com/hystdevtv/pear/internal/merge"
	"github.com/hystdevtv/pear/internal/models"
	"github.com/hystdevtv/pear/internal/store"
)

// caseNamespace seeds the name-based case IDs derived from message keys.
var caseNamespace = uuid.MustParse("6f1c8a52-3d4e-5b8f-9a0c-7e2d41b6c903")

// Action names the transition a message caused.
type Action string

const (
	ActionCompleted Action = "completed"
	ActionUpdated   Action = "updated"
	ActionCreated   Action = "created"
	ActionSkipped   Action = "skipped"
)

// Outcome reports what Handle did. Handled is true when the message must not
// be processed again.
type Outcome struct {
	Action    Action             `json:"action"`
	CaseID    string             `json:"case_id,omitempty"`
	Missing   []models.Field     `json:"missing,omitempty"`
	Notified  bool               `json:"notified"`
	Handled   bool               `json:"handled"`
	MatchedBy casestore.Strategy `json:"matched_by,omitempty"`
	Reopened  bool               `json:"reopened,omitempty"`
}

// Extractor turns message text into fields. It never fails.
type Extractor interface {
	Extract(ctx context.Context, body string, headers map[string]string) models.ExtractedFields
}

// Matcher finds the pending case a message belongs to, if any.
type Matcher interface {
	Match(ctx context.Context, msg models.InboundMessage, extracted models.ExtractedFields, now time.Time) (casestore.Match, error)
}

// CaseStore is the subset of casestore.Store the controller writes to.
type CaseStore interface {
	Load(ctx context.Context, id string) (*models.PendingCase, error)
	Save(ctx context.Context, c *models.PendingCase) error
	SaveCompleted(ctx context.Context, c *models.PendingCase) error
	LoadCompleted(ctx context.Context, id string) (*models.PendingCase, error)
	SaveCompletion(ctx context.Context, rawKey string, rec casestore.Completion) error
	LoadCompletion(ctx context.Context, rawKey string) (*casestore.Completion, error)
	Delete(ctx context.Context, id string) error
}

// Notifier sends the mails a transition requires.
type Notifier interface {
	SendConfirmation(ctx context.Context, to string, n mail.Notice) error
	SendMissingFields(ctx context.Context, to string, n mail.Notice) error
}

// Config holds the lifecycle policy.
type Config struct {
	Required       []models.Field
	ExpireAfter    time.Duration
	NotifyCooldown time.Duration
}

// Controller applies lifecycle transitions. It is not safe for concurrent
// use on the same message set.
type Controller struct {
	extractor Extractor
	matcher   Matcher
	cases     CaseStore
	customers store.CustomerStore
	notifier  Notifier
	cfg       Config
	now       func() time.Time
}

// NewController wires a Controller. An empty Config.Required falls back to
// models.DefaultRequiredFields.
func NewController(extractor Extractor, matcher Matcher, cases CaseStore, customers store.CustomerStore, notifier Notifier, cfg Config) *Controller {
	if len(cfg.Required) == 0 {
		cfg.Required = models.DefaultRequiredFields
	}
	return &Controller{
		extractor: extractor,
		matcher:   matcher,
		cases:     cases,
		customers: customers,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// CaseIDForMessage derives the case ID for a message key. Reprocessing the
// same message therefore always addresses the same case and customer row.
func CaseIDForMessage(key string) string {
	return uuid.NewSHA1(caseNamespace, []byte("pear:"+key)).String()
}

// Handle runs one message through extraction, matching, merge and the
// resulting lifecycle transition. A non-nil error leaves the message
// unhandled so the next batch retries it.
func (c *Controller) Handle(ctx context.Context, msg models.InboundMessage) (Outcome, error) {
	now := c.now().UTC()

	if out, done, err := c.resumeCompletion(ctx, msg); done {
		return out, err
	}

	body := extract.StripQuotedReply(msg.Body)
	if body == "" {
		slog.Info("skipping message without body", "key", msg.Key)
		return Outcome{Action: ActionSkipped, Handled: true}, nil
	}

	extracted := c.extractor.Extract(ctx, body, extractionHeaders(msg))

	match, err := c.matcher.Match(ctx, msg, extracted, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("match message %s: %w", msg.Key, err)
	}
	if match.Case == nil {
		return c.handleNew(ctx, msg, extracted, now)
	}

	out, err := c.handleMatch(ctx, msg, match.Case, extracted, now)
	out.MatchedBy = match.By
	out.Reopened = match.Reopened
	return out, err
}

func (c *Controller) handleNew(ctx context.Context, msg models.InboundMessage, extracted models.ExtractedFields, now time.Time) (Outcome, error) {
	id := CaseIDForMessage(msg.Key)
	fields := merge.Fields(models.ExtractedFields{}, extracted, c.cfg.Required)

	if fields.IsComplete(c.cfg.Required) {
		pc := &models.PendingCase{
			ID:        id,
			Fields:    fields,
			Sender:    msg.Sender,
			Subject:   msg.Subject,
			SourceKey: msg.Key,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := c.persist(ctx, pc, extracted); err != nil {
			return Outcome{Action: ActionCompleted, CaseID: id}, err
		}
		return c.finalize(ctx, msg, pc, now, "", false)
	}

	pc, err := c.cases.Load(ctx, id)
	switch {
	case err == nil:
		// A previous run created the case but could not notify.
		pc.Fields = merge.Fields(pc.Fields, extracted, c.cfg.Required)
	case errors.Is(err, casestore.ErrCaseNotFound):
		pc = &models.PendingCase{
			ID:        id,
			State:     models.StatePendingMissing,
			Fields:    fields,
			Sender:    msg.Sender,
			Subject:   msg.Subject,
			SourceKey: msg.Key,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(c.cfg.ExpireAfter),
		}
		pc.AddEvent(now, models.EventCreated, "")
	default:
		return Outcome{}, fmt.Errorf("load case %s: %w", id, err)
	}

	out := Outcome{Action: ActionCreated, CaseID: id, Missing: pc.Fields.Missing}
	if err := c.cases.Save(ctx, pc); err != nil {
		return out, err
	}
	slog.Info("opened pending case", "case_id", id, "key", msg.Key, "missing", pc.Fields.Missing)

	if err := c.requestMissing(ctx, msg, pc, now); err != nil {
		return out, err
	}
	out.Notified, out.Handled = true, true
	return out, nil
}

func (c *Controller) handleMatch(ctx context.Context, msg models.InboundMessage, pc *models.PendingCase, extracted models.ExtractedFields, now time.Time) (Outcome, error) {
	res := merge.Merge(pc.Fields, extracted, c.cfg.Required)
	pc.Fields = res.Fields

	if pc.Fields.IsComplete(c.cfg.Required) {
		if err := c.persist(ctx, pc, extracted); err != nil {
			// Keep what was learned; the message is retried next run.
			pc.AddEvent(now, models.EventPartialUpdate, merge.FilledDetail(res.Filled))
			if saveErr := c.cases.Save(ctx, pc); saveErr != nil {
				slog.Error("failed to save merged case after durable failure", "case_id", pc.ID, "error", saveErr)
			}
			return Outcome{Action: ActionCompleted, CaseID: pc.ID}, err
		}

		return c.finalize(ctx, msg, pc, now, merge.FilledDetail(res.Filled), true)
	}

	pc.AddEvent(now, models.EventPartialUpdate, merge.FilledDetail(res.Filled))
	out := Outcome{Action: ActionUpdated, CaseID: pc.ID, Missing: pc.Fields.Missing}
	if err := c.cases.Save(ctx, pc); err != nil {
		return out, err
	}

	if last, ok := pc.LastEvent(models.EventMailSent); ok && now.Sub(last) < c.cfg.NotifyCooldown {
		slog.Info("follow-up suppressed by cooldown", "case_id", pc.ID, "last_mail", last)
		out.Handled = true
		return out, nil
	}
	if err := c.requestMissing(ctx, msg, pc, now); err != nil {
		return out, err
	}
	out.Notified, out.Handled = true, true
	return out, nil
}

// finalize runs once the customer row is stored. The completion record is
// written before anything is sent, so a retry of msg resumes here instead of
// opening a new case. An open pending document is overwritten with the
// completed state first; matching and sweeps ignore it from then on even if
// the final delete fails.
func (c *Controller) finalize(ctx context.Context, msg models.InboundMessage, pc *models.PendingCase, now time.Time, detail string, open bool) (Outcome, error) {
	out := Outcome{Action: ActionCompleted, CaseID: pc.ID}

	pc.State = models.StateComplete
	pc.UpdatedAt = now
	pc.AddEvent(now, models.EventCompleted, detail)
	if err := c.cases.SaveCompleted(ctx, pc); err != nil {
		return out, fmt.Errorf("write completion snapshot: %w", err)
	}
	rec := casestore.Completion{CaseID: pc.ID, CompletedAt: now}
	if err := c.cases.SaveCompletion(ctx, msg.Key, rec); err != nil {
		return out, err
	}
	if open {
		if err := c.cases.Save(ctx, pc); err != nil {
			return out, fmt.Errorf("close pending case: %w", err)
		}
	}

	if err := c.confirm(ctx, msg, pc); err != nil {
		return out, err
	}
	out.Notified = true
	c.confirmed(ctx, msg.Key, rec, open)
	out.Handled = true
	return out, nil
}

// resumeCompletion handles a message that already finalized a case. done is
// false when msg completed nothing yet.
func (c *Controller) resumeCompletion(ctx context.Context, msg models.InboundMessage) (out Outcome, done bool, err error) {
	rec, err := c.cases.LoadCompletion(ctx, msg.Key)
	if errors.Is(err, casestore.ErrCompletionNotFound) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, true, err
	}

	out = Outcome{Action: ActionCompleted, CaseID: rec.CaseID}
	if rec.Confirmed {
		out.Handled = true
		return out, true, nil
	}

	pc, err := c.cases.LoadCompleted(ctx, rec.CaseID)
	if err != nil {
		return out, true, fmt.Errorf("load completed case %s: %w", rec.CaseID, err)
	}
	open := false
	switch stale, err := c.cases.Load(ctx, rec.CaseID); {
	case err == nil:
		open = true
		if stale.State != models.StateComplete {
			if err := c.cases.Save(ctx, pc); err != nil {
				return out, true, fmt.Errorf("close pending case: %w", err)
			}
		}
	case !errors.Is(err, casestore.ErrCaseNotFound):
		return out, true, fmt.Errorf("load case %s: %w", rec.CaseID, err)
	}

	slog.Info("resuming completed case", "case_id", rec.CaseID, "key", msg.Key)
	if err := c.confirm(ctx, msg, pc); err != nil {
		return out, true, err
	}
	out.Notified = true
	c.confirmed(ctx, msg.Key, *rec, open)
	out.Handled = true
	return out, true, nil
}

// confirmed records the sent confirmation and drops the pending document.
// Both are logged on failure: the mail is out either way.
func (c *Controller) confirmed(ctx context.Context, key string, rec casestore.Completion, open bool) {
	rec.Confirmed = true
	if err := c.cases.SaveCompletion(ctx, key, rec); err != nil {
		slog.Warn("failed to record confirmation", "case_id", rec.CaseID, "key", key, "error", err)
	}
	if !open {
		return
	}
	if err := c.cases.Delete(ctx, rec.CaseID); err != nil {
		slog.Warn("failed to delete completed pending case", "case_id", rec.CaseID, "error", err)
	}
}

// persist inserts the durable customer row. An existing row for the same
// case counts as success.
func (c *Controller) persist(ctx context.Context, pc *models.PendingCase, extracted models.ExtractedFields) error {
	raw, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("encode extraction for case %s: %w", pc.ID, err)
	}
	rec := models.NewCustomerRecord(pc.ID, pc.Fields, pc.Subject, pc.Sender, raw)
	inserted, err := c.customers.InsertCustomer(ctx, rec)
	if err != nil {
		return fmt.Errorf("insert customer for case %s: %w", pc.ID, err)
	}
	if !inserted {
		slog.Info("customer already stored", "case_id", pc.ID)
	}
	return nil
}

func (c *Controller) confirm(ctx context.Context, msg models.InboundMessage, pc *models.PendingCase) error {
	n := mail.Notice{
		CaseID:  pc.ID,
		Subject: msg.Subject,
		Known:   pc.Fields.Known(models.AllFields),
	}
	if err := c.notifier.SendConfirmation(ctx, recipient(msg, pc), n); err != nil {
		return fmt.Errorf("confirm case %s: %w", pc.ID, err)
	}
	return nil
}

// requestMissing sends the follow-up and records MAIL_SENT.
func (c *Controller) requestMissing(ctx context.Context, msg models.InboundMessage, pc *models.PendingCase, now time.Time) error {
	n := mail.Notice{
		CaseID:  pc.ID,
		Subject: msg.Subject,
		Missing: pc.Fields.Missing,
		Known:   pc.Fields.Known(models.AllFields),
	}
	if err := c.notifier.SendMissingFields(ctx, recipient(msg, pc), n); err != nil {
		return fmt.Errorf("request missing fields for case %s: %w", pc.ID, err)
	}
	pc.AddEvent(now, models.EventMailSent, "")
	if err := c.cases.Save(ctx, pc); err != nil {
		// Mail is out: the message still counts as handled.
		slog.Error("failed to record sent mail", "case_id", pc.ID, "error", err)
	}
	return nil
}

func recipient(msg models.InboundMessage, pc *models.PendingCase) string {
	if msg.Sender != "" {
		return msg.Sender
	}
	return pc.Sender
}

func extractionHeaders(msg models.InboundMessage) map[string]string {
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		if (msg.Subject != "" && strings.EqualFold(k, "Subject")) || (msg.Sender != "" && strings.EqualFold(k, "From")) {
			continue
		}
		headers[k] = v
	}
	if msg.Subject != "" {
		headers["Subject"] = msg.Subject
	}
	if msg.Sender != "" {
		headers["From"] = msg.Sender
	}
	return headers
}
