package extract

import (
	"regexp"
	"strings"

	"github.com/hystdevtv/pear/internal/models"
)

var (
	streetPattern = regexp.MustCompile(
		`((?:(?:Am|An der|An den|Im|In der|Zum|Zur|Auf dem|Auf der|Unter den)\s+)?\p{Lu}?[\p{L}\-]*` +
			`(?i:straße|strasse|str\.|weg|allee|platz|gasse|ring|damm|ufer|chaussee|pfad|steig))` +
			`\s*(\d{1,4}[a-zA-Z]?)(?:[^\d\p{L}]|$)`)
	postalCityPattern = regexp.MustCompile(
		`(?:^|[^\d])(\d{5})\s+((?:Bad\s+)?\p{Lu}[\p{L}\-\.]*(?:\s+(?:am|an der|im|in|ob der|bei)\s+\p{Lu}[\p{L}\-]*)?)`)
)

// ApplyFallback scans body line by line for a street with house number and a
// postal code followed by a city. It only fills empty address, plz and city
// values and reports whether anything changed. Missing and confidence are
// left to the caller.
func ApplyFallback(fields *models.ExtractedFields, body string) bool {
	needAddress := !fields.Has(models.FieldAddress)
	needPLZ := !fields.Has(models.FieldPLZ)
	needCity := !fields.Has(models.FieldCity)
	if !needAddress && !needPLZ && !needCity {
		return false
	}

	changed := false
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ">") {
			continue
		}

		if needAddress {
			if m := streetPattern.FindStringSubmatch(line); m != nil {
				street := strings.Join(strings.Fields(m[1]), " ")
				if street != "" {
					fields.Set(models.FieldAddress, street+" "+m[2])
					needAddress = false
					changed = true
				}
			}
		}

		if needPLZ || needCity {
			if m := postalCityPattern.FindStringSubmatch(line); m != nil {
				if needPLZ {
					fields.Set(models.FieldPLZ, m[1])
					needPLZ = false
					changed = true
				}
				if needCity {
					fields.Set(models.FieldCity, strings.TrimRight(m[2], ".-"))
					needCity = false
					changed = true
				}
			}
		}

		if !needAddress && !needPLZ && !needCity {
			break
		}
	}
	return changed
}
