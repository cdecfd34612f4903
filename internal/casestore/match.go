package casestore

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hystdevtv/pear/internal/models"
)

// Strategy names one step of the matching chain.
type Strategy string

const (
	MatchByTag    Strategy = "tag"
	MatchBySender Strategy = "sender"
	MatchByName   Strategy = "name"
)

var DefaultMatchOrder = []Strategy{MatchByTag, MatchBySender, MatchByName}

var tagPattern = regexp.MustCompile(`PEAR-([0-9a-fA-F]{8})`)

// ParseMatchOrder parses a list such as "tag,sender,name".
func ParseMatchOrder(raw string) ([]Strategy, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultMatchOrder, nil
	}
	var out []Strategy
	seen := map[Strategy]bool{}
	for _, part := range strings.Split(raw, ",") {
		s := Strategy(strings.ToLower(strings.TrimSpace(part)))
		switch s {
		case "":
			continue
		case MatchByTag, MatchBySender, MatchByName:
		default:
			return nil, fmt.Errorf("unknown match strategy %q", s)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("match order is empty")
	}
	return out, nil
}

// ExtractTag returns the lowercase case tag found in subject, else in body.
func ExtractTag(subject, body string) string {
	for _, text := range []string{subject, body} {
		if m := tagPattern.FindStringSubmatch(text); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

// FindByTag returns the case whose ID starts with tag. Expiry is not checked:
// an explicit tag always identifies its case.
func FindByTag(cases []*models.PendingCase, tag string) *models.PendingCase {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return nil
	}
	for _, c := range cases {
		if strings.HasPrefix(strings.ToLower(c.ID), tag) {
			return c
		}
	}
	return nil
}

// FindBySender returns the non-expired case from the same address with the
// most recent activity.
func FindBySender(cases []*models.PendingCase, sender string, now time.Time) *models.PendingCase {
	addr := NormalizeAddress(sender)
	if addr == "" {
		return nil
	}
	var best *models.PendingCase
	for _, c := range cases {
		if c.Expired(now) || NormalizeAddress(c.Sender) != addr {
			continue
		}
		if best == nil || c.LastActivity().After(best.LastActivity()) {
			best = c
		}
	}
	return best
}

// FindByName returns the non-expired case whose full name (or first and last
// name) contains name, case-insensitively. Ties go to the most recent activity.
func FindByName(cases []*models.PendingCase, name string, now time.Time) *models.PendingCase {
	needle := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if needle == "" {
		return nil
	}
	var best *models.PendingCase
	for _, c := range cases {
		if c.Expired(now) {
			continue
		}
		full := strings.ToLower(c.Fields.Get(models.FieldName))
		parts := strings.ToLower(strings.TrimSpace(c.Fields.Get(models.FieldFirstName) + " " + c.Fields.Get(models.FieldLastName)))
		if !strings.Contains(full, needle) && !strings.Contains(parts, needle) {
			continue
		}
		if best == nil || c.LastActivity().After(best.LastActivity()) {
			best = c
		}
	}
	return best
}

// NormalizeAddress reduces "Hans <Hans@Example.de>" to "hans@example.de".
func NormalizeAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(addr.Address)
	}
	if i, j := strings.LastIndex(raw, "<"), strings.LastIndex(raw, ">"); i >= 0 && j > i {
		raw = raw[i+1 : j]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// NameFromAddress derives "Hans Schmidt" from "hans.schmidt@example.de".
// It returns "" unless the local part yields at least two words.
func NameFromAddress(raw string) string {
	addr := NormalizeAddress(raw)
	at := strings.Index(addr, "@")
	if at <= 0 {
		return ""
	}
	local := strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(addr[:at])
	words := strings.Fields(local)
	if len(words) < 2 {
		return ""
	}
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Match is the outcome of the matching chain.
type Match struct {
	Case     *models.PendingCase
	By       Strategy
	Reopened bool
}

// Matcher runs the configured matching chain over the pending namespace.
type Matcher struct {
	store     *Store
	order     []Strategy
	reopenTTL time.Duration
}

func NewMatcher(store *Store, order []Strategy, reopenTTL time.Duration) *Matcher {
	if len(order) == 0 {
		order = DefaultMatchOrder
	}
	return &Matcher{store: store, order: order, reopenTTL: reopenTTL}
}

// Match returns the first case found by the chain, or a zero Match. A tag
// that only matches an archived case reopens it.
func (m *Matcher) Match(ctx context.Context, msg models.InboundMessage, extracted models.ExtractedFields, now time.Time) (Match, error) {
	cases, err := m.store.ListPending(ctx)
	if err != nil {
		return Match{}, err
	}

	for _, strategy := range m.order {
		switch strategy {
		case MatchByTag:
			tag := ExtractTag(msg.Subject, msg.Body)
			if tag == "" {
				continue
			}
			if c := FindByTag(cases, tag); c != nil {
				return Match{Case: c, By: MatchByTag}, nil
			}
			c, err := m.store.Reopen(ctx, tag, now, m.reopenTTL)
			if err == nil {
				return Match{Case: c, By: MatchByTag, Reopened: true}, nil
			}
			if !errors.Is(err, ErrCaseNotFound) {
				return Match{}, err
			}
		case MatchBySender:
			if c := FindBySender(cases, msg.Sender, now); c != nil {
				return Match{Case: c, By: MatchBySender}, nil
			}
		case MatchByName:
			name := extracted.FullName()
			if name == "" {
				name = NameFromAddress(msg.Sender)
			}
			if c := FindByName(cases, name, now); c != nil {
				return Match{Case: c, By: MatchByName}, nil
			}
		}
	}
	return Match{}, nil
}
