package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hystdevtv/pear/internal/models"
)

func stubBackend(response string, err error, calls *int) Backend {
	return BackendFunc(func(_ context.Context, _ string) (string, error) {
		if calls != nil {
			*calls++
		}
		return response, err
	})
}

func TestExtract_EmptyBodySkipsBackend(t *testing.T) {
	calls := 0
	ex := New(stubBackend(`{"name":"x"}`, nil, &calls), nil)

	got := ex.Extract(context.Background(), "  \n\t ", nil)
	if calls != 0 {
		t.Fatalf("backend called %d times for empty body", calls)
	}
	if got.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0", got.Confidence)
	}
	if len(got.Missing) != len(models.DefaultRequiredFields) {
		t.Fatalf("missing = %v", got.Missing)
	}
}

func TestExtract_BackendFailures(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"backend error", "", errors.New("quota exceeded")},
		{"not json", "Ich konnte leider nichts finden.", nil},
		{"json scalar", `"hello"`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := New(stubBackend(tt.response, tt.err, nil), nil)
			got := ex.Extract(context.Background(), "Hauptstr. 15\n80331 München", nil)
			if got.Confidence != 0 {
				t.Fatalf("confidence = %v, want 0", got.Confidence)
			}
			if len(got.Missing) != len(models.DefaultRequiredFields) {
				t.Fatalf("missing = %v, want all", got.Missing)
			}
			if got.Address != "" || got.PLZ != "" {
				t.Fatalf("failed extraction must not carry values: %+v", got)
			}
		})
	}
}

func TestExtract_FallbackCompletesAddress(t *testing.T) {
	response := "```json\n" + `{"name":"Maria Weber","first_name":"Maria","last_name":"Weber","email":"maria@weber.de","phone":"069-555","address":null,"plz":null,"city":null,"confidence":0.85,"missing":["address","plz","city"]}` + "\n```"
	body := "Vorname: Maria\nNachname: Weber\nTelefon: 069-555\nAdresse:\nLindenstr. 8\n60311 Frankfurt"

	ex := New(stubBackend(response, nil, nil), nil)
	got := ex.Extract(context.Background(), body, map[string]string{"Subject": "Neue Kundin"})

	if got.Address != "Lindenstr. 8" {
		t.Fatalf("address = %q", got.Address)
	}
	if got.PLZ != "60311" || got.City != "Frankfurt" {
		t.Fatalf("plz/city = %q/%q", got.PLZ, got.City)
	}
	if len(got.Missing) != 0 || got.Confidence != 1.0 {
		t.Fatalf("expected complete result, got missing=%v confidence=%v", got.Missing, got.Confidence)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantConf float64
		check    func(t *testing.T, f models.ExtractedFields)
	}{
		{
			name:     "numbers coerced and nulls empty",
			raw:      `{"name":"Hans Schmidt","plz":80331,"phone":null,"confidence":0.85}`,
			wantConf: 0.85,
			check: func(t *testing.T, f models.ExtractedFields) {
				if f.PLZ != "80331" {
					t.Fatalf("plz = %q", f.PLZ)
				}
				if f.Phone != "" {
					t.Fatalf("phone = %q", f.Phone)
				}
			},
		},
		{
			name:     "complete forces full confidence",
			raw:      `{"name":"Hans Schmidt","first_name":"Hans","last_name":"Schmidt","email":"hans@mail.de","phone":"089-123456","address":"Hauptstr. 15","plz":"80331","city":"München","confidence":0.5}`,
			wantConf: 1.0,
		},
		{
			name:     "reported confidence capped",
			raw:      `{"email":"a@b.de","confidence":0.99}`,
			wantConf: 0.95,
		},
		{
			name:     "missing confidence defaults",
			raw:      `{"email":"a@b.de"}`,
			wantConf: 0.9,
		},
		{
			name:     "string confidence",
			raw:      `{"email":"a@b.de","confidence":"0.8"}`,
			wantConf: 0.8,
		},
		{
			name:     "array wrapped object",
			raw:      `[{"email":"a@b.de","confidence":0.8}]`,
			wantConf: 0.8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.raw, models.DefaultRequiredFields)
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			if got.Confidence != tt.wantConf {
				t.Fatalf("confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}

	if _, err := ParseResponse("", models.DefaultRequiredFields); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestStripCodeFences(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	if got := StripCodeFences(in); got != `{"a":1}` {
		t.Fatalf("StripCodeFences = %q", got)
	}
	if got := StripCodeFences(` {"a":1} `); got != `{"a":1}` {
		t.Fatalf("StripCodeFences = %q", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt([]models.Field{models.FieldName, models.FieldPLZ}, "  Hallo Welt  ", map[string]string{"subject": "Neue Anfrage"})
	for _, want := range []string{"name, plz, confidence, missing", "BETREFF: Neue Anfrage", "Hallo Welt\n\nJSON-AUSGABE:"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}
