package extract

import (
	"strings"

	"github.com/hystdevtv/pear/internal/models"
)

const promptHeader = `Du bist ein Experte für die Extraktion deutscher Kundendaten aus E-Mails von Pflegevermittlungen.
Extrahiere ALLE verfügbaren Informationen aus dem E-Mail-Text und strukturiere sie.

AUSGABE-FORMAT: Nur gültiges JSON mit folgenden Feldern:
`

const promptRules = `

EXTRAKTIONS-REGELN:
• NAME: Vor- und Nachname, auch bei getrennter Angabe (Vorname: Hans, Nachname: Schmidt → name: "Hans Schmidt", first_name: "Hans", last_name: "Schmidt")
• TELEFON: alle deutschen Formate: 030-123, 0221/456, +49 89 123, (089) 456-789
• EMAIL: Standard-E-Mail-Adressen
• ADRESSE: Straße und Hausnummer, auch bei getrennter Angabe (Kastanienallee | 68 → address: "Kastanienallee 68")
• PLZ: 5-stellige deutsche Postleitzahl (12345)
• STADT: Ortsname (Berlin, München, Hamburg, ...)

DEUTSCHE KONTEXT-HINWEISE:
• "Anbei die Daten der Kundin/des Kunden" = Kundendatenübermittlung
• "Begleitung vereinbart" = Pflegekontext
• Tabellen erkennen: | Name | Tel | Email | Straße | Nr | PLZ | Stadt |
• Mehrzeilige Adressen: "Rosenweg 12\n10115 Berlin" → address: "Rosenweg 12", plz: "10115", city: "Berlin"

BEISPIELE:
Input: "Hans Schmidt | 089-123456 | hans@mail.de | Hauptstr. 15 | 80331 München"
Output: {"name":"Hans Schmidt","first_name":"Hans","last_name":"Schmidt","phone":"089-123456","email":"hans@mail.de","address":"Hauptstr. 15","plz":"80331","city":"München"}

Input: "Vorname: Maria\nNachname: Weber\nTelefon: 069-555\nAdresse:\nLindenstr. 8\n60311 Frankfurt"
Output: {"name":"Maria Weber","first_name":"Maria","last_name":"Weber","phone":"069-555","address":"Lindenstr. 8","plz":"60311","city":"Frankfurt"}

WICHTIG:
- Nur eindeutige Daten extrahieren, keine Vermutungen
- Fehlende Felder: null setzen und im Array "missing" auflisten
- confidence: 1.0 nur wenn "missing" leer ist, sonst 0.8 bis 0.95
- Bei Tabellenformat: Spalten korrekt zuordnen
`

// BuildPrompt renders the extraction instruction for body with the required
// fields embedded. Subject and sender headers are added as context when present.
func BuildPrompt(required []models.Field, body string, headers map[string]string) string {
	names := make([]string, 0, len(required)+2)
	for _, f := range required {
		names = append(names, string(f))
	}
	names = append(names, "confidence", "missing")

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(promptRules)

	if subject := headerValue(headers, "Subject"); subject != "" {
		b.WriteString("\nBETREFF: ")
		b.WriteString(subject)
		b.WriteString("\n")
	}
	if from := headerValue(headers, "From"); from != "" {
		b.WriteString("ABSENDER: ")
		b.WriteString(from)
		b.WriteString("\n")
	}

	b.WriteString("\nANALYSIERE FOLGENDEN E-MAIL-TEXT:\n")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n\nJSON-AUSGABE:")
	return b.String()
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
