package mail

import (
	"context"
	"fmt"
	"log/slog"
)

// Sender delivers one message. SMTPClient implements it.
type Sender interface {
	Send(to, subject, body string) error
}

// Service renders the German templates and hands them to a Sender.
type Service struct {
	sender Sender
}

// NewService creates a mail Service that sends notifications via sender.
func NewService(sender Sender) *Service {
	return &Service{sender: sender}
}

func (s *Service) SendConfirmation(ctx context.Context, to string, n Notice) error {
	subject, body := ConfirmationMessage(n)
	return s.send(ctx, "confirmation", to, n.CaseID, subject, body)
}

func (s *Service) SendMissingFields(ctx context.Context, to string, n Notice) error {
	subject, body := MissingFieldsMessage(n)
	return s.send(ctx, "missing_fields", to, n.CaseID, subject, body)
}

func (s *Service) SendReminder(ctx context.Context, to string, n Notice) error {
	subject, body := ReminderMessage(n)
	return s.send(ctx, "reminder", to, n.CaseID, subject, body)
}

func (s *Service) SendExpiry(ctx context.Context, to string, n Notice) error {
	subject, body := ExpiryMessage(n)
	return s.send(ctx, "expiry", to, n.CaseID, subject, body)
}

func (s *Service) send(ctx context.Context, kind, to, caseID, subject, body string) error {
	if err := s.sender.Send(to, subject, body); err != nil {
		return fmt.Errorf("mail: failed to send %s to %s: %w", kind, to, err)
	}
	slog.InfoContext(ctx, "sent notification",
		"kind", kind,
		"recipient", to,
		"case_id", caseID,
	)
	return nil
}

// LogSender stands in for SMTP when no relay is configured: every message is
// logged and reported as delivered.
type LogSender struct{}

func (LogSender) Send(to, subject, body string) error {
	slog.Info("smtp disabled, notification logged only", "recipient", to, "subject", subject, "bytes", len(body))
	return nil
}
