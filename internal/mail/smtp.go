package mail

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dialTimeout = 30 * time.Second

// Overridable in tests.
var (
	smtpSendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return deliver(addr, false, a, from, to, msg)
	}
	smtpSendMailTLS = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return deliver(addr, true, a, from, to, msg)
	}
)

// SMTPClient sends plain-text UTF-8 mail through a relay. Port 587 relays use
// STARTTLS when offered; ImplicitTLS switches to a TLS connection from the
// first byte (port 465).
type SMTPClient struct {
	host string
	port int
	user string
	pass string
	from string

	ImplicitTLS bool
}

// NewSMTPClient creates a new SMTPClient with the given SMTP server configuration.
func NewSMTPClient(host string, port int, user, pass, from string) *SMTPClient {
	return &SMTPClient{
		host: host,
		port: port,
		user: user,
		pass: pass,
		from: from,
	}
}

// Send delivers a message from the configured sender address.
func (c *SMTPClient) Send(to, subject, body string) error {
	return c.SendFrom(envelopeAddress(c.from), c.from, to, subject, body)
}

// SendFrom uses envelopeFrom for the SMTP MAIL command and headerFrom for the
// visible From header.
func (c *SMTPClient) SendFrom(envelopeFrom, headerFrom, to, subject, body string) error {
	auth, err := c.auth()
	if err != nil {
		return err
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("smtp: recipient is required")
	}

	msg, err := buildMessage(headerFrom, to, subject, body, c.host)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	recipients := []string{envelopeAddress(to)}
	if c.ImplicitTLS {
		return smtpSendMailTLS(addr, auth, envelopeFrom, recipients, msg)
	}
	return smtpSendMail(addr, auth, envelopeFrom, recipients, msg)
}

func (c *SMTPClient) auth() (smtp.Auth, error) {
	user := strings.TrimSpace(c.user)
	pass := strings.TrimSpace(c.pass)
	switch {
	case user == "" && pass == "":
		return nil, nil
	case user == "" || pass == "":
		return nil, errors.New("smtp: incomplete credentials, set both user and password or neither")
	default:
		return smtp.PlainAuth("", c.user, c.pass, c.host), nil
	}
}

func buildMessage(from, to, subject, body, host string) ([]byte, error) {
	var qp bytes.Buffer
	w := quotedprintable.NewWriter(&qp)
	if _, err := w.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))); err != nil {
		return nil, fmt.Errorf("smtp: encode body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("smtp: encode body: %w", err)
	}

	domain := host
	if at := strings.LastIndex(envelopeAddress(from), "@"); at >= 0 {
		domain = envelopeAddress(from)[at+1:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	b.WriteString("\r\n")
	b.Write(qp.Bytes())
	return []byte(b.String()), nil
}

// envelopeAddress strips a display name: "PEAR <a@b.de>" becomes "a@b.de".
func envelopeAddress(v string) string {
	if addr, err := mail.ParseAddress(strings.TrimSpace(v)); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(v)
}

func deliver(addr string, implicitTLS bool, auth smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("smtp: address %s: %w", addr, err)
	}
	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	if implicitTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp: dial %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp: handshake: %w", err)
	}
	defer client.Close()

	if !implicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp: starttls: %w", err)
			}
		}
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: close data: %w", err)
	}
	return client.Quit()
}
