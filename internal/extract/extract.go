// Package extract turns free-form email bodies into structured customer
// fields. A language model does the heavy lifting; a small set of regular
// expressions fills address details the model missed.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hystdevtv/pear/internal/models"
)

type Extractor struct {
	backend  Backend
	required []models.Field
}

func New(backend Backend, required []models.Field) *Extractor {
	if len(required) == 0 {
		required = models.DefaultRequiredFields
	}
	return &Extractor{backend: backend, required: required}
}

// Required returns the configured required field set.
func (e *Extractor) Required() []models.Field {
	return e.required
}

// Extract never fails. Backend errors and unusable responses yield a result
// with every required field missing and zero confidence.
func (e *Extractor) Extract(ctx context.Context, body string, headers map[string]string) models.ExtractedFields {
	if strings.TrimSpace(body) == "" {
		return models.AllMissing(e.required)
	}

	raw, err := e.backend.Generate(ctx, BuildPrompt(e.required, body, headers))
	if err != nil {
		slog.Warn("extraction backend failed", "error", err)
		return models.AllMissing(e.required)
	}

	fields, err := ParseResponse(raw, e.required)
	if err != nil {
		slog.Warn("extraction response unusable", "error", err, "response", truncate(raw, 2000))
		return models.AllMissing(e.required)
	}
	return e.withFallback(fields, body)
}

func (e *Extractor) withFallback(fields models.ExtractedFields, body string) models.ExtractedFields {
	if ApplyFallback(&fields, body) {
		fields.Recompute(e.required)
	}
	return fields
}

// ParseResponse decodes a model response into fields. Code fences are
// stripped, scalar values are coerced to strings and the confidence rule is
// applied: 1.0 when nothing is missing, else min(reported or 0.9, 0.95).
func ParseResponse(raw string, required []models.Field) (models.ExtractedFields, error) {
	obj, err := decodeObject(StripCodeFences(raw))
	if err != nil {
		return models.ExtractedFields{}, err
	}

	var out models.ExtractedFields
	for _, f := range models.AllFields {
		if v, ok := obj[string(f)]; ok {
			out.Set(f, coerce(v))
		}
	}

	conf, ok := parseConfidence(obj["confidence"])
	if !ok || conf <= 0 {
		conf = models.DefaultIncompleteConfidence
	}
	out.Confidence = conf
	out.Recompute(required)
	return out, nil
}

// StripCodeFences removes a surrounding Markdown code fence, keeping the
// outermost JSON object.
func StripCodeFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	first := strings.IndexAny(t, "{[")
	last := strings.LastIndexAny(t, "}]")
	if first == -1 || last <= first {
		return strings.TrimSpace(strings.Trim(t, "`"))
	}
	return strings.TrimSpace(t[first : last+1])
}

func decodeObject(text string) (map[string]any, error) {
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		if len(t) > 0 {
			if obj, ok := t[0].(map[string]any); ok {
				return obj, nil
			}
		}
	}
	return nil, fmt.Errorf("response is not a JSON object")
}

func coerce(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		switch strings.ToLower(s) {
		case "null", "none", "n/a", "unbekannt":
			return ""
		}
		return s
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func parseConfidence(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
