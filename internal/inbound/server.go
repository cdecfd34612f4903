package inbound

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-smtp"

	"github.com/hystdevtv/pear/internal/casestore"
)

const maxSMTPMessageBytes = 10 * 1024 * 1024

// Server accepts mail over SMTP and deposits each message as a raw
// document. Processing happens later in the batch driver.
type Server struct {
	smtpServer *smtp.Server
	depositor  *Depositor
	recipients map[string]struct{}
}

// NewServer builds the receiver. An empty recipients list accepts any
// recipient address.
func NewServer(addr, domain string, recipients []string, depositor *Depositor) *Server {
	s := &Server{
		depositor:  depositor,
		recipients: map[string]struct{}{},
	}
	for _, r := range recipients {
		if addr := casestore.NormalizeAddress(r); addr != "" {
			s.recipients[addr] = struct{}{}
		}
	}

	smtpSrv := smtp.NewServer(s)
	smtpSrv.Addr = addr
	smtpSrv.Domain = domain
	smtpSrv.ReadTimeout = 30 * time.Second
	smtpSrv.WriteTimeout = 30 * time.Second
	smtpSrv.MaxMessageBytes = maxSMTPMessageBytes
	smtpSrv.MaxRecipients = 10
	smtpSrv.AllowInsecureAuth = true

	s.smtpServer = smtpSrv
	return s
}

func (s *Server) Start() error {
	slog.Info("inbound SMTP server starting", "addr", s.smtpServer.Addr)
	err := s.smtpServer.ListenAndServe()
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown() error {
	return s.smtpServer.Close()
}

// NewSession implements smtp.Backend.
func (s *Server) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{server: s}, nil
}

func (s *Server) accepts(addr string) bool {
	if len(s.recipients) == 0 {
		return true
	}
	_, ok := s.recipients[addr]
	return ok
}

type session struct {
	server *Server
	from   string
	to     []string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	addr := casestore.NormalizeAddress(to)
	if addr == "" || !s.server.accepts(addr) {
		slog.Warn("inbound email to unknown address", "to", to)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "no such recipient",
		}
	}
	s.to = append(s.to, addr)
	return nil
}

func (s *session) Data(r io.Reader) error {
	if len(s.to) == 0 {
		return errors.New("no valid recipient")
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxSMTPMessageBytes))
	if err != nil {
		return err
	}

	doc := documentFromSMTP(s.from, s.to, raw)
	key, err := s.server.depositor.Deposit(context.Background(), doc)
	if err != nil {
		slog.Error("failed to store inbound email", "from", s.from, "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "temporary storage failure",
		}
	}

	slog.Info("inbound email accepted", "from", s.from, "key", key)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// documentFromSMTP keeps the full message as MIME source. The header From
// is preferred over the envelope sender, which is often a bounce address.
// Non-UTF-8 sources are stored base64 encoded so the JSON stays lossless.
func documentFromSMTP(from string, to []string, raw []byte) Document {
	doc := Document{
		FromEmail: strings.TrimSpace(from),
		ToEmail:   strings.Join(to, ", "),
		Source:    "smtp",
	}
	if utf8.Valid(raw) {
		doc.RawMIME = string(raw)
	} else {
		doc.RawMIME = base64.StdEncoding.EncodeToString(raw)
	}
	if parsed, err := ParseRFC822(string(raw), defaultMaxAttachmentBytes); err == nil {
		doc.Subject = parsed.Subject
		if parsed.Sender != "" {
			doc.FromEmail = parsed.Sender
		}
	}
	return doc
}
