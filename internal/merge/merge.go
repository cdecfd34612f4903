// Package merge combines the fields known for a pending case with a freshly
// extracted result. Merging only ever fills gaps: a known value is never
// replaced or erased.
package merge

import (
	"math"
	"strings"

	"github.com/hystdevtv/pear/internal/models"
)

// Result is the merged field set plus the fields that were filled by this merge.
type Result struct {
	Fields models.ExtractedFields
	Filled []models.Field
}

// Merge fills every empty field of existing with the incoming value, derives
// the full name from its parts when possible and recomputes missing and
// confidence against required.
func Merge(existing, incoming models.ExtractedFields, required []models.Field) Result {
	out := existing
	out.Missing = nil
	var filled []models.Field

	for _, f := range models.AllFields {
		if out.Has(f) {
			continue
		}
		if v := incoming.Get(f); v != "" {
			out.Set(f, v)
			filled = append(filled, f)
		}
	}

	if !out.Has(models.FieldName) && out.Has(models.FieldFirstName) && out.Has(models.FieldLastName) {
		out.Set(models.FieldName, out.Get(models.FieldFirstName)+" "+out.Get(models.FieldLastName))
		filled = append(filled, models.FieldName)
	}

	out.Confidence = prior(existing.Confidence, incoming.Confidence)
	out.Recompute(required)

	return Result{Fields: out, Filled: filled}
}

// Fields is Merge without the fill report.
func Fields(existing, incoming models.ExtractedFields, required []models.Field) models.ExtractedFields {
	return Merge(existing, incoming, required).Fields
}

// FilledDetail renders the filled fields for a history entry.
func FilledDetail(filled []models.Field) string {
	if len(filled) == 0 {
		return ""
	}
	names := make([]string, len(filled))
	for i, f := range filled {
		names[i] = string(f)
	}
	return "filled: " + strings.Join(names, ",")
}

func prior(existing, incoming float64) float64 {
	switch {
	case valid(existing) && existing > 0:
		return existing
	case valid(incoming) && incoming > 0:
		return incoming
	default:
		return models.DefaultIncompleteConfidence
	}
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
