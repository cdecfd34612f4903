package mail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hystdevtv/pear/internal/models"
)

const signature = "\nFreundliche Grüße\nIhr PEAR-Team"

var (
	subjectTagPattern   = regexp.MustCompile(`\[?PEAR-[0-9a-fA-F]{8}\]?`)
	replyPrefixPattern  = regexp.MustCompile(`(?i)^\s*((re|aw|wg|fw|fwd|antw)\s*:\s*)+`)
	whitespaceRunRegexp = regexp.MustCompile(`\s+`)
)

// Notice is the case data a template needs.
type Notice struct {
	CaseID  string
	Subject string
	Missing []models.Field
	Known   []models.KnownField
}

// CleanSubject removes case tags and reply prefixes from an inbound subject.
func CleanSubject(subject string) string {
	s := subjectTagPattern.ReplaceAllString(subject, " ")
	s = whitespaceRunRegexp.ReplaceAllString(s, " ")
	s = replyPrefixPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func withSubject(prefix, subject string) string {
	if s := CleanSubject(subject); s != "" {
		return prefix + " – " + s
	}
	return prefix
}

func tagged(caseID, subject string) string {
	return models.SubjectTag(caseID) + " " + subject
}

// ConfirmationMessage acknowledges that every required field is on record.
func ConfirmationMessage(n Notice) (subject, body string) {
	subject = withSubject("Bestätigung: Ihre Angaben wurden vollständig erfasst", n.Subject)

	var b strings.Builder
	b.WriteString("Guten Tag,\n\n")
	b.WriteString("vielen Dank für Ihre Nachricht. Wir bestätigen, dass alle erforderlichen Angaben vollständig vorliegen.\n")
	b.WriteString("Wir bearbeiten Ihre Anfrage zeitnah.\n")
	writeKnown(&b, n.Known)
	b.WriteString(signature)
	return subject, b.String()
}

// MissingFieldsMessage asks the sender for exactly the missing fields. The
// subject carries the case tag so the reply can be matched.
func MissingFieldsMessage(n Notice) (subject, body string) {
	subject = tagged(n.CaseID, withSubject("Rückfrage: Bitte ergänzen Sie fehlende Angaben", n.Subject))

	var b strings.Builder
	b.WriteString("Guten Tag,\n\n")
	b.WriteString("vielen Dank für Ihre Nachricht. Uns fehlen leider noch folgende Angaben:\n")
	writeMissing(&b, n.Missing)
	writeKnown(&b, n.Known)
	b.WriteString("\nBitte senden Sie uns diese Informationen, damit wir fortfahren können.\n")
	writeReplyHint(&b, n.CaseID)
	b.WriteString(signature)
	return subject, b.String()
}

// ReminderMessage repeats the request for the fields still missing.
func ReminderMessage(n Notice) (subject, body string) {
	subject = tagged(n.CaseID, withSubject("Erinnerung: Bitte ergänzen Sie fehlende Angaben", n.Subject))

	var b strings.Builder
	b.WriteString("Guten Tag,\n\n")
	b.WriteString("wir warten noch auf folgende fehlende Angaben:\n")
	writeMissing(&b, n.Missing)
	writeKnown(&b, n.Known)
	b.WriteString("\nSobald Sie uns diese übermitteln, schließen wir den Vorgang ab.\n")
	writeReplyHint(&b, n.CaseID)
	b.WriteString(signature)
	return subject, b.String()
}

// ExpiryMessage tells the sender the case was closed and that a reply reopens it.
func ExpiryMessage(n Notice) (subject, body string) {
	subject = tagged(n.CaseID, withSubject("Vorgang abgelaufen", n.Subject))

	var b strings.Builder
	b.WriteString("Guten Tag,\n\n")
	b.WriteString("leider haben wir trotz Erinnerung keine Rückmeldung erhalten. ")
	b.WriteString("Der Vorgang wurde daher vorerst geschlossen.\n")
	b.WriteString("Sie können jederzeit auf diese E-Mail antworten, wir öffnen den Vorgang dann wieder.\n")
	writeReplyHint(&b, n.CaseID)
	b.WriteString(signature)
	return subject, b.String()
}

func writeMissing(b *strings.Builder, missing []models.Field) {
	for _, f := range missing {
		fmt.Fprintf(b, "- %s\n", f.Label())
	}
}

func writeKnown(b *strings.Builder, known []models.KnownField) {
	if len(known) == 0 {
		return
	}
	b.WriteString("\nBereits erfasst:\n")
	for _, k := range known {
		fmt.Fprintf(b, "- %s: %s\n", k.Field.Label(), k.Value)
	}
}

func writeReplyHint(b *strings.Builder, caseID string) {
	fmt.Fprintf(b, "Bitte lassen Sie die Kennung %s im Betreff Ihrer Antwort stehen.\n", models.SubjectTag(caseID))
}
