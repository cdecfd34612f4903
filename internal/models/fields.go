package models

import (
	"fmt"
	"math"
	"strings"
)

// Field names one customer attribute collected from inbound email.
type Field string

const (
	FieldName      Field = "name"
	FieldFirstName Field = "first_name"
	FieldLastName  Field = "last_name"
	FieldEmail     Field = "email"
	FieldPhone     Field = "phone"
	FieldAddress   Field = "address"
	FieldPLZ       Field = "plz"
	FieldCity      Field = "city"
)

// AllFields lists every field the extractor knows, in display order.
var AllFields = []Field{
	FieldName, FieldFirstName, FieldLastName, FieldEmail,
	FieldPhone, FieldAddress, FieldPLZ, FieldCity,
}

// DefaultRequiredFields is the required set used when none is configured.
var DefaultRequiredFields = AllFields

const (
	// MaxIncompleteConfidence caps the confidence of an incomplete field set.
	MaxIncompleteConfidence = 0.95
	// DefaultIncompleteConfidence is used when no prior confidence is known.
	DefaultIncompleteConfidence = 0.9
)

var fieldLabels = map[Field]string{
	FieldName:      "Name",
	FieldFirstName: "Vorname",
	FieldLastName:  "Nachname",
	FieldEmail:     "E-Mail",
	FieldPhone:     "Telefon",
	FieldAddress:   "Straße und Hausnummer",
	FieldPLZ:       "PLZ",
	FieldCity:      "Ort",
}

// Label returns the German display label used in outbound mail.
func (f Field) Label() string {
	if l, ok := fieldLabels[f]; ok {
		return l
	}
	return string(f)
}

// Valid reports whether f is one of the known fields.
func (f Field) Valid() bool {
	_, ok := fieldLabels[f]
	return ok
}

// ParseFields parses a comma separated field list such as "name,email,plz".
func ParseFields(raw string) ([]Field, error) {
	var out []Field
	seen := map[Field]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		f := Field(strings.ToLower(strings.TrimSpace(part)))
		if f == "" {
			continue
		}
		if !f.Valid() {
			return nil, fmt.Errorf("unknown field %q", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("field list is empty")
	}
	return out, nil
}

// ExtractedFields is the structured result of one extraction or merge.
// An empty string means the value is unknown.
type ExtractedFields struct {
	Name       string  `json:"name,omitempty"`
	FirstName  string  `json:"first_name,omitempty"`
	LastName   string  `json:"last_name,omitempty"`
	Email      string  `json:"email,omitempty"`
	Phone      string  `json:"phone,omitempty"`
	Address    string  `json:"address,omitempty"`
	PLZ        string  `json:"plz,omitempty"`
	City       string  `json:"city,omitempty"`
	Missing    []Field `json:"missing"`
	Confidence float64 `json:"confidence"`
}

// AllMissing returns a result with every required field unknown and zero confidence.
func AllMissing(required []Field) ExtractedFields {
	missing := make([]Field, len(required))
	copy(missing, required)
	return ExtractedFields{Missing: missing, Confidence: 0}
}

func (e *ExtractedFields) ptr(f Field) *string {
	switch f {
	case FieldName:
		return &e.Name
	case FieldFirstName:
		return &e.FirstName
	case FieldLastName:
		return &e.LastName
	case FieldEmail:
		return &e.Email
	case FieldPhone:
		return &e.Phone
	case FieldAddress:
		return &e.Address
	case FieldPLZ:
		return &e.PLZ
	case FieldCity:
		return &e.City
	}
	return nil
}

// Get returns the trimmed value of f.
func (e ExtractedFields) Get(f Field) string {
	if p := e.ptr(f); p != nil {
		return strings.TrimSpace(*p)
	}
	return ""
}

// Set stores v for f. Unknown fields are ignored.
func (e *ExtractedFields) Set(f Field, v string) {
	if p := e.ptr(f); p != nil {
		*p = strings.TrimSpace(v)
	}
}

// Has reports whether f holds a non-empty value.
func (e ExtractedFields) Has(f Field) bool {
	return e.Get(f) != ""
}

// MissingFrom returns the required fields that are empty, in required order.
func (e ExtractedFields) MissingFrom(required []Field) []Field {
	missing := make([]Field, 0, len(required))
	for _, f := range required {
		if !e.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsComplete reports whether every required field is known.
func (e ExtractedFields) IsComplete(required []Field) bool {
	return len(e.MissingFrom(required)) == 0
}

// Recompute derives Missing from the field values and clamps Confidence:
// 1.0 when nothing is missing, otherwise at most MaxIncompleteConfidence.
func (e *ExtractedFields) Recompute(required []Field) {
	e.Missing = e.MissingFrom(required)
	if len(e.Missing) == 0 {
		e.Confidence = 1.0
		return
	}
	if math.IsNaN(e.Confidence) || e.Confidence < 0 {
		e.Confidence = 0
	}
	e.Confidence = math.Min(e.Confidence, MaxIncompleteConfidence)
}

// KnownField pairs a field with its value.
type KnownField struct {
	Field Field
	Value string
}

// Known returns the non-empty fields among required, in required order.
func (e ExtractedFields) Known(required []Field) []KnownField {
	out := make([]KnownField, 0, len(required))
	for _, f := range required {
		if v := e.Get(f); v != "" {
			out = append(out, KnownField{Field: f, Value: v})
		}
	}
	return out
}

// FullName returns Name, or "first last" when Name is empty.
func (e ExtractedFields) FullName() string {
	if n := e.Get(FieldName); n != "" {
		return n
	}
	return strings.TrimSpace(e.Get(FieldFirstName) + " " + e.Get(FieldLastName))
}
