package mail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hystdevtv/pear/internal/models"
)

const testCaseID = "abcd1234-5678-4000-8000-000000000000"

func TestCleanSubject(t *testing.T) {
	tests := map[string]string{
		"Neue Kundin":                       "Neue Kundin",
		"Re: [PEAR-abcd1234] Neue Kundin":   "Neue Kundin",
		"AW: Re: PEAR-ABCD1234 Neue Kundin": "Neue Kundin",
		"  ":                                "",
	}
	for in, want := range tests {
		if got := CleanSubject(in); got != want {
			t.Fatalf("CleanSubject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMissingFieldsMessage(t *testing.T) {
	subject, body := MissingFieldsMessage(Notice{
		CaseID:  testCaseID,
		Subject: "Re: [PEAR-abcd1234] Neue Kundin",
		Missing: []models.Field{models.FieldPhone, models.FieldPLZ},
		Known:   []models.KnownField{{Field: models.FieldName, Value: "Hans Schmidt"}},
	})

	if subject != "[PEAR-abcd1234] Rückfrage: Bitte ergänzen Sie fehlende Angaben – Neue Kundin" {
		t.Fatalf("subject = %q", subject)
	}
	for _, want := range []string{"- Telefon\n", "- PLZ\n", "Bereits erfasst:\n- Name: Hans Schmidt\n", "[PEAR-abcd1234]", "Ihr PEAR-Team"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "- E-Mail") {
		t.Fatalf("body lists a field that is not missing:\n%s", body)
	}
}

func TestConfirmationMessage(t *testing.T) {
	subject, body := ConfirmationMessage(Notice{CaseID: testCaseID, Subject: "Neue Kundin"})
	if subject != "Bestätigung: Ihre Angaben wurden vollständig erfasst – Neue Kundin" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(body, "vollständig vorliegen") {
		t.Fatalf("body = %q", body)
	}

	subject, _ = ConfirmationMessage(Notice{CaseID: testCaseID})
	if subject != "Bestätigung: Ihre Angaben wurden vollständig erfasst" {
		t.Fatalf("subject without source = %q", subject)
	}
}

func TestReminderAndExpiryMessages(t *testing.T) {
	subject, body := ReminderMessage(Notice{CaseID: testCaseID, Subject: "Neue Kundin", Missing: []models.Field{models.FieldCity}})
	if !strings.HasPrefix(subject, "[PEAR-abcd1234] Erinnerung:") || !strings.Contains(body, "- Ort\n") {
		t.Fatalf("reminder = %q / %q", subject, body)
	}

	subject, body = ExpiryMessage(Notice{CaseID: testCaseID, Subject: "Neue Kundin"})
	if subject != "[PEAR-abcd1234] Vorgang abgelaufen – Neue Kundin" {
		t.Fatalf("expiry subject = %q", subject)
	}
	if !strings.Contains(body, "öffnen den Vorgang dann wieder") {
		t.Fatalf("expiry body lacks reopen hint: %q", body)
	}
}

type recordingSender struct {
	to, subject, body string
	err               error
}

func (r *recordingSender) Send(to, subject, body string) error {
	r.to, r.subject, r.body = to, subject, body
	return r.err
}

func TestService_SendWrapsErrors(t *testing.T) {
	rec := &recordingSender{}
	svc := NewService(rec)

	if err := svc.SendMissingFields(context.Background(), "hans@example.de", Notice{CaseID: testCaseID, Missing: []models.Field{models.FieldPhone}}); err != nil {
		t.Fatalf("SendMissingFields: %v", err)
	}
	if rec.to != "hans@example.de" || !strings.HasPrefix(rec.subject, "[PEAR-abcd1234]") {
		t.Fatalf("recorded %+v", rec)
	}

	rec.err = errors.New("relay down")
	err := svc.SendConfirmation(context.Background(), "hans@example.de", Notice{CaseID: testCaseID})
	if err == nil || !errors.Is(err, rec.err) {
		t.Fatalf("expected wrapped relay error, got %v", err)
	}
}
