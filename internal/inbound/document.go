package inbound

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hystdevtv/pear/internal/extract"
	"github.com/hystdevtv/pear/internal/models"
)

var htmlBodyPattern = regexp.MustCompile(`(?i)<(html|body|div|p|br|table)\b`)

// Document is the JSON shape of one message in the raw namespace. Upstream
// collectors fill the flat fields; some only deliver the MIME source.
type Document struct {
	ReceivedAt string         `json:"received_at,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	FromEmail  string         `json:"from_email,omitempty"`
	From       string         `json:"from,omitempty"`
	ToEmail    string         `json:"to_email,omitempty"`
	Body       string         `json:"body,omitempty"`
	Headers    map[string]any `json:"headers,omitempty"`
	RawMIME    string         `json:"raw_mime,omitempty"`
	MIME       string         `json:"mime,omitempty"`
	Raw        string         `json:"raw,omitempty"`
	Source     string         `json:"source,omitempty"`
}

func (d *Document) Normalize() {
	d.ReceivedAt = strings.TrimSpace(d.ReceivedAt)
	d.Subject = strings.TrimSpace(d.Subject)
	d.FromEmail = strings.TrimSpace(d.FromEmail)
	d.From = strings.TrimSpace(d.From)
	d.ToEmail = strings.TrimSpace(d.ToEmail)
	d.Body = strings.TrimSpace(d.Body)
	d.Source = strings.TrimSpace(d.Source)
}

// IsUsable reports whether the document carries anything to process.
func (d Document) IsUsable() bool {
	return d.Body != "" || d.mimeSource() != ""
}

func (d Document) mimeSource() string {
	return strings.TrimSpace(firstNonEmpty(d.RawMIME, d.MIME, d.Raw))
}

func (d Document) headerStrings() map[string]string {
	out := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = decodeHeader(val)
		case []any:
			if len(val) > 0 {
				out[k] = decodeHeader(fmt.Sprint(val[0]))
			}
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// ToInboundMessage resolves subject, sender and body: document fields
// first, then headers, then the MIME source (text/plain preferred, HTML
// converted to text).
func (d Document) ToInboundMessage(key string, maxAttachmentBytes int64) models.InboundMessage {
	headers := d.headerStrings()
	msg := models.InboundMessage{
		Key:        key,
		Subject:    decodeHeader(d.Subject),
		Sender:     firstNonEmpty(d.FromEmail, d.From),
		Recipient:  d.ToEmail,
		Body:       d.Body,
		ReceivedAt: parseReceivedAt(d.ReceivedAt),
		Headers:    headers,
	}
	if msg.Subject == "" {
		msg.Subject = lookupHeader(headers, "Subject")
	}
	if msg.Sender == "" {
		msg.Sender = lookupHeader(headers, "From")
	}
	if msg.Recipient == "" {
		msg.Recipient = lookupHeader(headers, "To")
	}

	if msg.Subject == "" || msg.Sender == "" || msg.Body == "" {
		if src := d.mimeSource(); src != "" {
			parsed, err := ParseRFC822(maybeBase64(src), maxAttachmentBytes)
			if err == nil {
				msg.Subject = firstNonEmpty(msg.Subject, parsed.Subject)
				msg.Sender = firstNonEmpty(msg.Sender, parsed.Sender)
				msg.Body = firstNonEmpty(msg.Body, parsed.Body())
				if msg.Recipient == "" && len(parsed.Recipients) > 0 {
					msg.Recipient = parsed.Recipients[0]
				}
				for k, v := range parsed.Headers {
					if _, ok := msg.Headers[k]; !ok {
						msg.Headers[k] = v
					}
				}
			}
		}
	}

	if htmlBodyPattern.MatchString(msg.Body) {
		msg.Body = extract.HTMLToText(msg.Body)
	}
	msg.Subject = strings.TrimSpace(msg.Subject)
	msg.Sender = strings.TrimSpace(msg.Sender)
	msg.Body = strings.TrimSpace(msg.Body)
	return msg
}

func lookupHeader(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseReceivedAt(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
