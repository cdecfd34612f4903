package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hystdevtv/pear/internal/blob"
	"github.com/hystdevtv/pear/internal/casestore"
	"github.com/hystdevtv/pear/internal/mail"
	"github.com/hystdevtv/pear/internal/models"
)

var testNow = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

type sent struct {
	kind string
	to   string
	n    mail.Notice
}

type mockNotifier struct {
	sent []sent
	err  error
}

func (m *mockNotifier) SendReminder(_ context.Context, to string, n mail.Notice) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sent{"reminder", to, n})
	return nil
}

func (m *mockNotifier) SendExpiry(_ context.Context, to string, n mail.Notice) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sent{"expiry", to, n})
	return nil
}

func newCase(id string, created time.Time, expires time.Time) *models.PendingCase {
	c := &models.PendingCase{
		ID:        id,
		State:     models.StatePendingMissing,
		Sender:    "hans@example.de",
		Subject:   "Anfrage",
		Fields:    models.ExtractedFields{Name: "Hans Schmidt", Email: "hans@example.de"},
		CreatedAt: created,
		UpdatedAt: created,
		ExpiresAt: expires,
	}
	c.AddEvent(created, models.EventCreated, "")
	c.AddEvent(created, models.EventMailSent, "")
	return c
}

func setup(t *testing.T, cases ...*models.PendingCase) (*casestore.Store, *mockNotifier, *Sweeper, *time.Time) {
	t.Helper()
	store := casestore.New(blob.NewMemoryStore(), casestore.Prefixes{})
	for _, c := range cases {
		if err := store.Save(context.Background(), c); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	notifier := &mockNotifier{}
	now := testNow
	sw := New(store, notifier, Config{
		RemindAfter: 48 * time.Hour,
		RemindEvery: 48 * time.Hour,
	}).WithClock(func() time.Time { return now })
	return store, notifier, sw, &now
}

func TestSweep_ReminderSchedule(t *testing.T) {
	c := newCase("aaaa0001-0000-4000-8000-000000000000", testNow.Add(-47*time.Hour), testNow.Add(10*24*time.Hour))
	store, notifier, sw, now := setup(t, c)
	ctx := context.Background()

	rep, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Checked != 1 || rep.Reminded != 0 {
		t.Fatalf("reminder sent too early: %+v", rep)
	}

	*now = testNow.Add(time.Hour)
	rep, _ = sw.Sweep(ctx)
	if rep.Reminded != 1 || len(notifier.sent) != 1 {
		t.Fatalf("expected first reminder: %+v", rep)
	}
	got := notifier.sent[0]
	if got.to != "hans@example.de" || len(got.n.Missing) != 6 {
		t.Fatalf("unexpected reminder: %+v", got)
	}

	*now = testNow.Add(25 * time.Hour)
	rep, _ = sw.Sweep(ctx)
	if rep.Reminded != 0 {
		t.Fatalf("repeat reminder before interval: %+v", rep)
	}

	*now = testNow.Add(49 * time.Hour)
	rep, _ = sw.Sweep(ctx)
	if rep.Reminded != 1 {
		t.Fatalf("expected repeat reminder: %+v", rep)
	}

	saved, err := store.Load(ctx, c.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	count := 0
	for _, h := range saved.History {
		if h.Event == models.EventReminderSent {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 REMINDER_SENT entries, got %d", count)
	}
}

func TestSweep_ExpiryArchivesAndNotifies(t *testing.T) {
	c := newCase("bbbb0002-0000-4000-8000-000000000000", testNow.Add(-15*24*time.Hour), testNow.Add(-time.Hour))
	store, notifier, sw, _ := setup(t, c)
	ctx := context.Background()

	rep, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Expired != 1 || rep.Reminded != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].kind != "expiry" {
		t.Fatalf("expected closure notice, got %+v", notifier.sent)
	}
	if _, err := store.Load(ctx, c.ID); !errors.Is(err, casestore.ErrCaseNotFound) {
		t.Fatalf("case still pending: %v", err)
	}
	archived, err := store.LoadArchived(ctx, c.ID)
	if err != nil {
		t.Fatalf("LoadArchived: %v", err)
	}
	if last := archived.History[len(archived.History)-1]; last.Event != models.EventExpired {
		t.Fatalf("last history event = %s", last.Event)
	}

	matcher := casestore.NewMatcher(store, []casestore.Strategy{casestore.MatchBySender}, time.Hour)
	m, err := matcher.Match(ctx, models.InboundMessage{Sender: "hans@example.de", Body: "Hallo"}, models.ExtractedFields{}, testNow)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if m.Case != nil {
		t.Fatalf("expired case still matched by sender: %s", m.Case.ID)
	}
}

func TestSweep_NotificationFailureCounted(t *testing.T) {
	due := newCase("cccc0003-0000-4000-8000-000000000000", testNow.Add(-72*time.Hour), testNow.Add(24*time.Hour))
	fresh := newCase("dddd0004-0000-4000-8000-000000000000", testNow.Add(-time.Hour), testNow.Add(24*time.Hour))
	store, notifier, sw, _ := setup(t, due, fresh)
	notifier.err = errors.New("relay down")

	rep, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Checked != 2 || rep.Failed != 1 || rep.Reminded != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	saved, _ := store.Load(context.Background(), due.ID)
	if _, ok := saved.LastEvent(models.EventReminderSent); ok {
		t.Fatal("failed reminder must not be recorded")
	}
}

func TestSweep_IgnoresCompletedLeftovers(t *testing.T) {
	done := newCase("cccc0003-0000-4000-8000-000000000000", testNow.Add(-72*time.Hour), testNow.Add(-time.Hour))
	done.State = models.StateComplete
	done.Fields.Phone, done.Fields.Address, done.Fields.PLZ, done.Fields.City = "0301234567", "Hauptstraße 5", "10115", "Berlin"
	done.Fields.Recompute(models.DefaultRequiredFields)
	_, notifier, sw, _ := setup(t, done)

	rep, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Checked != 0 || rep.Reminded != 0 || rep.Expired != 0 {
		t.Fatalf("completed case was swept: %+v", rep)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("completed case got mail: %+v", notifier.sent)
	}
}
