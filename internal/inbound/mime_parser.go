package inbound

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/hystdevtv/pear/internal/extract"
)

const defaultMaxAttachmentBytes int64 = 5 * 1024 * 1024

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/=\r\n]+$`)

var headerDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// Message is a parsed RFC 822 message.
type Message struct {
	Sender      string
	Recipients  []string
	Subject     string
	TextBody    string
	HTMLBody    string
	MessageID   string
	Headers     map[string]string
	Attachments []Attachment
}

type Attachment struct {
	FileName    string
	ContentType string
	Size        int
}

// Body returns the plain text body, or the HTML body converted to text.
func (m Message) Body() string {
	if m.TextBody != "" {
		return m.TextBody
	}
	if m.HTMLBody != "" {
		return extract.HTMLToText(m.HTMLBody)
	}
	return ""
}

// ParseRFC822 parses a raw message. Text parts are converted to UTF-8 from
// their declared charset and encoded-word headers are decoded.
func ParseRFC822(raw string, maxAttachmentBytes int64) (Message, error) {
	if strings.TrimSpace(raw) == "" {
		return Message{}, fmt.Errorf("raw RFC822 payload is empty")
	}
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = defaultMaxAttachmentBytes
	}

	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}

	result := Message{
		Sender:    decodeHeader(msg.Header.Get("From")),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		MessageID: strings.TrimSpace(firstNonEmpty(msg.Header.Get("Message-ID"), msg.Header.Get("Message-Id"))),
		Headers:   flattenHeaders(msg.Header),
	}
	result.Recipients = parseRecipientsFromHeaders(msg.Header)

	contentType := strings.TrimSpace(msg.Header.Get("Content-Type"))
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
		params = map[string]string{}
	}
	if strings.HasPrefix(strings.ToLower(mediaType), "multipart/") && params["boundary"] != "" {
		reader := multipart.NewReader(msg.Body, params["boundary"])
		if err := parseMultipart(reader, &result, maxAttachmentBytes); err != nil {
			return Message{}, err
		}
		return result, nil
	}

	decoded, err := decodeBody(msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return Message{}, fmt.Errorf("decode body: %w", err)
	}
	text := strings.TrimSpace(decodeCharset(params["charset"], decoded))
	if strings.Contains(strings.ToLower(mediaType), "text/html") {
		result.HTMLBody = text
	} else {
		result.TextBody = text
	}
	return result, nil
}

func parseMultipart(reader *multipart.Reader, msg *Message, maxAttachmentBytes int64) error {
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read multipart part: %w", err)
		}

		contentType := strings.TrimSpace(part.Header.Get("Content-Type"))
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = ""
			params = map[string]string{}
		}

		contentDisposition, dispParams, err := mime.ParseMediaType(strings.TrimSpace(part.Header.Get("Content-Disposition")))
		if err != nil {
			contentDisposition = ""
			dispParams = map[string]string{}
		}

		if strings.HasPrefix(strings.ToLower(mediaType), "multipart/") && params["boundary"] != "" {
			nested := multipart.NewReader(part, params["boundary"])
			if err := parseMultipart(nested, msg, maxAttachmentBytes); err != nil {
				return err
			}
			continue
		}

		payload, err := decodeBody(part.Header.Get("Content-Transfer-Encoding"), io.LimitReader(part, maxAttachmentBytes+1))
		if err != nil {
			return fmt.Errorf("decode multipart part: %w", err)
		}
		if int64(len(payload)) > maxAttachmentBytes {
			continue
		}

		rawFilename := firstNonEmpty(dispParams["filename"], params["name"], part.FileName())
		if isAttachmentPart(contentDisposition, rawFilename) {
			msg.Attachments = append(msg.Attachments, Attachment{
				FileName:    sanitizeFilename(rawFilename),
				ContentType: normalizeContentType(mediaType),
				Size:        len(payload),
			})
			continue
		}

		switch strings.ToLower(mediaType) {
		case "text/plain", "":
			text := strings.TrimSpace(decodeCharset(params["charset"], payload))
			if text != "" {
				if msg.TextBody != "" {
					msg.TextBody += "\n\n"
				}
				msg.TextBody += text
			}
		case "text/html":
			html := strings.TrimSpace(decodeCharset(params["charset"], payload))
			if html != "" {
				if msg.HTMLBody != "" {
					msg.HTMLBody += "\n"
				}
				msg.HTMLBody += html
			}
		}
	}
}

func decodeBody(encoding string, r io.Reader) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(encoding))
	switch enc {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, r))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// decodeCharset converts data to UTF-8. Unknown charsets pass through.
func decodeCharset(charset string, data []byte) string {
	cs := strings.ToLower(strings.TrimSpace(charset))
	switch cs {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return string(data)
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return string(data)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

func decodeHeader(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	decoded, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return strings.TrimSpace(decoded)
}

func flattenHeaders(header mail.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k, values := range header {
		if len(values) > 0 {
			out[k] = decodeHeader(values[0])
		}
	}
	return out
}

// maybeBase64 decodes s when it is a plausible base64 blob and returns the
// input unchanged otherwise.
func maybeBase64(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !base64Pattern.MatchString(trimmed) {
		return s
	}
	compact := strings.NewReplacer("\r", "", "\n", "").Replace(trimmed)
	if len(compact)%4 != 0 {
		return s
	}
	b, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return s
	}
	return string(b)
}

func parseRecipientsFromHeaders(header mail.Header) []string {
	uniq := map[string]struct{}{}
	ordered := make([]string, 0, 8)
	for _, key := range []string{"To", "Cc", "Bcc"} {
		raw := strings.TrimSpace(header.Get(key))
		if raw == "" {
			continue
		}
		list, err := mail.ParseAddressList(raw)
		if err != nil {
			continue
		}
		for _, addr := range list {
			email := strings.ToLower(strings.TrimSpace(addr.Address))
			if email == "" {
				continue
			}
			if _, exists := uniq[email]; exists {
				continue
			}
			uniq[email] = struct{}{}
			ordered = append(ordered, email)
		}
	}
	return ordered
}

func isAttachmentPart(disposition, filename string) bool {
	if strings.EqualFold(strings.TrimSpace(disposition), "attachment") {
		return true
	}
	return strings.TrimSpace(filename) != ""
}

func normalizeContentType(mediaType string) string {
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	if mediaType == "" {
		return "application/octet-stream"
	}
	return mediaType
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "attachment.bin"
	}
	base := strings.TrimSpace(filepath.Base(name))
	if base == "." || base == "/" || base == "" {
		return "attachment.bin"
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
