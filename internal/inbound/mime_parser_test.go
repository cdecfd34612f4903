package inbound

import (
	"strings"
	"testing"
)

func TestParseRFC822_TextEmail(t *testing.T) {
	raw := "From: Sender <sender@outside.com>\r\nTo: ideas@example.com\r\nSubject: Hello\r\nMessage-ID: <abc@test>\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nHello world"
	msg, err := ParseRFC822(raw, 1024*1024)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg.Sender == "" {
		t.Fatalf("expected sender")
	}
	if len(msg.Recipients) != 1 || msg.Recipients[0] != "ideas@example.com" {
		t.Fatalf("unexpected recipients: %+v", msg.Recipients)
	}
	if msg.TextBody != "Hello world" {
		t.Fatalf("unexpected body: %q", msg.TextBody)
	}
	if msg.Subject != "Hello" {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
}

func TestParseRFC822_Attachment(t *testing.T) {
	raw := "From: Sender <sender@outside.com>\r\n" +
		"To: ideas@example.com\r\n" +
		"Subject: Multipart\r\n" +
		"Message-ID: <abc2@test>\r\n" +
		"Content-Type: multipart/mixed; boundary=abc123\r\n\r\n" +
		"--abc123\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"Body text\r\n" +
		"--abc123\r\n" +
		"Content-Type: text/plain; name=\"note.txt\"\r\n" +
		"Content-Disposition: attachment; filename=\"note.txt\"\r\n\r\n" +
		"Attachment data\r\n" +
		"--abc123--\r\n"

	msg, err := ParseRFC822(raw, 1024*1024)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg.TextBody != "Body text" {
		t.Fatalf("unexpected text body: %q", msg.TextBody)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected one attachment, got %d", len(msg.Attachments))
	}
	if msg.Attachments[0].FileName != "note.txt" {
		t.Fatalf("unexpected filename: %q", msg.Attachments[0].FileName)
	}
}

func TestParseRFC822_Latin1AndEncodedSubject(t *testing.T) {
	raw := "From: =?ISO-8859-1?Q?J=FCrgen_M=FCller?= <juergen@example.de>\r\n" +
		"Subject: =?UTF-8?Q?Anfrage_f=C3=BCr_Umzug?=\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n\r\n" +
		"Stra=DFe 5, 10115 Berlin"

	msg, err := ParseRFC822(raw, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg.Subject != "Anfrage für Umzug" {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
	if msg.Sender != "Jürgen Müller <juergen@example.de>" {
		t.Fatalf("unexpected sender: %q", msg.Sender)
	}
	if msg.TextBody != "Straße 5, 10115 Berlin" {
		t.Fatalf("unexpected body: %q", msg.TextBody)
	}
}

func TestParseRFC822_HTMLOnlyBody(t *testing.T) {
	raw := "From: a@example.de\r\n" +
		"Subject: HTML\r\n" +
		"Content-Type: multipart/alternative; boundary=alt\r\n\r\n" +
		"--alt\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		"<div>Name: Anna Schmidt</div><p>Telefon: 030 1234567</p>\r\n" +
		"--alt--\r\n"

	msg, err := ParseRFC822(raw, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg.TextBody != "" {
		t.Fatalf("expected no text part, got %q", msg.TextBody)
	}
	body := msg.Body()
	if !strings.Contains(body, "Name: Anna Schmidt") || strings.Contains(body, "<div>") {
		t.Fatalf("unexpected converted body: %q", body)
	}
}

func TestParseRFC822_Empty(t *testing.T) {
	if _, err := ParseRFC822("  \r\n", 0); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestMaybeBase64(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "encoded", in: "SGFsbG8gV2VsdA==", want: "Hallo Welt"},
		{name: "plain text", in: "Subject: hi", want: "Subject: hi"},
		{name: "bad padding", in: "SGFsbG8", want: "SGFsbG8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maybeBase64(tt.in); got != tt.want {
				t.Fatalf("maybeBase64(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
