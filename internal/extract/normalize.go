package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	replyHeaderPattern  = regexp.MustCompile(`(?i)^(am|on)\s.+\s(schrieb|wrote)\b.*:\s*$`)
	originalMsgPattern  = regexp.MustCompile(`(?i)^-{2,}\s*(original message|ursprüngliche nachricht)\s*-{2,}`)
	outlookFromPattern  = regexp.MustCompile(`(?i)^(von|from):\s*\S`)
	outlookDatePattern  = regexp.MustCompile(`(?i)^(gesendet|sent|datum|date):\s*\S`)
	blankRunPattern     = regexp.MustCompile(`[ \t\x{00a0}]+`)
	newlineRunPattern   = regexp.MustCompile(`\n{3,}`)
)

// StripQuotedReply removes quoted history from a reply: lines starting with
// ">" and everything after a reply header such as "Am ... schrieb ...:",
// "On ... wrote:", an Outlook "Von:/Gesendet:" block or an
// "-----Ursprüngliche Nachricht-----" separator. Forwarded messages are kept.
// When nothing but quoted text remains the body is returned unchanged.
func StripQuotedReply(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, ">") {
			continue
		}
		if replyHeaderPattern.MatchString(line) || originalMsgPattern.MatchString(line) {
			break
		}
		if outlookFromPattern.MatchString(line) && i+1 < len(lines) && outlookDatePattern.MatchString(strings.TrimSpace(lines[i+1])) {
			break
		}
		kept = append(kept, strings.TrimRight(lines[i], " \t"))
	}

	out := strings.TrimSpace(strings.Join(kept, "\n"))
	if out == "" {
		return strings.TrimSpace(body)
	}
	return out
}

// HTMLToText reduces an HTML body to plain text. Block ends become line
// breaks and table cells are separated by " | " so tabular customer data
// keeps its column structure. Script, style and head content is dropped.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			if skip == 0 {
				b.Write(z.Text())
			}
			continue
		}

		name, _ := z.TagName()
		tag := atom.Lookup(name)
		switch tt {
		case html.StartTagToken:
			switch tag {
			case atom.Script, atom.Style, atom.Head:
				skip++
			case atom.Body:
				skip = 0
			case atom.Br:
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			if tag == atom.Br {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			switch tag {
			case atom.Script, atom.Style, atom.Head:
				if skip > 0 {
					skip--
				}
			case atom.P, atom.Div, atom.Tr, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				b.WriteByte('\n')
			case atom.Td, atom.Th:
				b.WriteString(" | ")
			}
		}
	}

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		line = blankRunPattern.ReplaceAllString(line, " ")
		lines[i] = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "|"))
	}
	text := strings.Join(lines, "\n")
	text = newlineRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
