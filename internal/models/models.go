package models

import (
	"strings"
	"time"
)

// InboundMessage is one received email as deposited in the raw namespace.
type InboundMessage struct {
	Key        string
	Subject    string
	Sender     string
	Recipient  string
	Body       string
	ReceivedAt time.Time
	Headers    map[string]string
}

type CaseState string

const (
	StatePendingMissing CaseState = "PENDING_MISSING"
	StateExpired        CaseState = "EXPIRED"
	StateComplete       CaseState = "COMPLETE"
)

type EventKind string

const (
	EventCreated       EventKind = "CREATED"
	EventPartialUpdate EventKind = "PARTIAL_UPDATE"
	EventMailSent      EventKind = "MAIL_SENT"
	EventReminderSent  EventKind = "REMINDER_SENT"
	EventExpired       EventKind = "EXPIRED"
	EventReopened      EventKind = "REOPENED"
	EventCompleted     EventKind = "COMPLETED"
)

// TagLength is the number of case ID characters embedded in subject lines.
const TagLength = 8

type HistoryEntry struct {
	At     time.Time `json:"ts"`
	Event  EventKind `json:"event"`
	Detail string    `json:"detail,omitempty"`
}

// PendingCase accumulates the fields of one customer until they are complete.
type PendingCase struct {
	ID        string          `json:"case_id"`
	State     CaseState       `json:"state"`
	Fields    ExtractedFields `json:"fields"`
	Sender    string          `json:"source_sender"`
	Subject   string          `json:"source_subject"`
	SourceKey string          `json:"source_key,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	History   []HistoryEntry  `json:"history"`
}

// Tag returns the lowercase case tag (first TagLength characters of the ID).
func (c *PendingCase) Tag() string {
	return CaseTag(c.ID)
}

// CaseTag returns the tag for a case ID.
func CaseTag(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if len(id) > TagLength {
		return id[:TagLength]
	}
	return id
}

// SubjectTag formats the tag as it appears in outbound subject lines.
func SubjectTag(id string) string {
	return "[PEAR-" + CaseTag(id) + "]"
}

// AddEvent appends a history entry and bumps UpdatedAt.
func (c *PendingCase) AddEvent(at time.Time, kind EventKind, detail string) {
	c.History = append(c.History, HistoryEntry{At: at.UTC(), Event: kind, Detail: detail})
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at.UTC()
	}
}

// LastEvent returns the time of the most recent event of kind.
func (c *PendingCase) LastEvent(kind EventKind) (time.Time, bool) {
	var last time.Time
	found := false
	for _, h := range c.History {
		if h.Event != kind {
			continue
		}
		if !found || h.At.After(last) {
			last = h.At
			found = true
		}
	}
	return last, found
}

// LastActivity is the time of the last history entry, falling back to ExpiresAt.
func (c *PendingCase) LastActivity() time.Time {
	if n := len(c.History); n > 0 {
		return c.History[n-1].At
	}
	return c.ExpiresAt
}

// Expired reports whether the case is past its expiry timestamp.
func (c *PendingCase) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// CustomerRecord is the finalized, durable customer row.
type CustomerRecord struct {
	ID            int64
	CaseID        string
	Name          string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Address       string
	PLZ           string
	City          string
	SourceSubject string
	SourceSender  string
	RawExtraction []byte
	CreatedAt     time.Time
}

// NewCustomerRecord copies a complete field set into a durable record.
func NewCustomerRecord(caseID string, f ExtractedFields, subject, sender string, raw []byte) CustomerRecord {
	return CustomerRecord{
		CaseID:        caseID,
		Name:          f.FullName(),
		FirstName:     f.Get(FieldFirstName),
		LastName:      f.Get(FieldLastName),
		Email:         f.Get(FieldEmail),
		Phone:         f.Get(FieldPhone),
		Address:       f.Get(FieldAddress),
		PLZ:           f.Get(FieldPLZ),
		City:          f.Get(FieldCity),
		SourceSubject: subject,
		SourceSender:  sender,
		RawExtraction: raw,
	}
}
