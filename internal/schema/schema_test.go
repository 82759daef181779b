package schema

import (
	"errors"
	"strings"
	"testing"
)

var storyFields = []FieldSpec{
	{Name: "story", Type: "string"},
	{Name: "choices", Type: "array"},
	{Name: "mood", Type: "string"},
}

func TestValidate_AllPresent(t *testing.T) {
	parsed := map[string]any{"story": "x", "choices": []any{}, "mood": "dark"}
	res := Validate(parsed, storyFields)
	if !res.Valid {
		t.Errorf("Valid = false, Missing = %v", res.Missing)
	}
}

func TestValidate_Missing(t *testing.T) {
	parsed := map[string]any{"story": "x"}
	res := Validate(parsed, storyFields)
	if res.Valid {
		t.Fatal("Valid = true, want false")
	}
	want := []string{"choices", "mood"}
	if len(res.Missing) != len(want) {
		t.Fatalf("Missing = %v, want %v", res.Missing, want)
	}
	for i, m := range want {
		if res.Missing[i] != m {
			t.Errorf("Missing[%d] = %q, want %q", i, res.Missing[i], m)
		}
	}
}

func TestReconstruct_OneMissingField(t *testing.T) {
	parsed := map[string]any{"story": "x", "mood": "dark"}
	res := Validate(parsed, storyFields)

	issues, err := Reconstruct(parsed, storyFields, res.Missing)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(issues) != 1 || !strings.Contains(issues[0], "choices") {
		t.Errorf("issues = %v, want one note about choices", issues)
	}

	choices, ok := parsed["choices"].([]any)
	if !ok {
		t.Fatalf("choices placeholder = %T, want []any", parsed["choices"])
	}
	if len(choices) != 0 {
		t.Errorf("placeholder list not empty: %v", choices)
	}
}

func TestReconstruct_AllMissing(t *testing.T) {
	parsed := map[string]any{"unrelated": true}
	res := Validate(parsed, storyFields)

	_, err := Reconstruct(parsed, storyFields, res.Missing)
	if err == nil {
		t.Fatal("Reconstruct succeeded with every field missing")
	}
	if !strings.Contains(err.Error(), "missing fields") {
		t.Errorf("error %q does not name the failure", err)
	}
}

func TestPlaceholderTypes(t *testing.T) {
	tests := []struct {
		hint string
		want any
	}{
		{"string", ""},
		{"array", []any{}},
		{"number", float64(0)},
		{"boolean", false},
		{"unknown-hint", ""},
	}
	for _, tt := range tests {
		got := placeholder(tt.hint)
		switch want := tt.want.(type) {
		case []any:
			if _, ok := got.([]any); !ok {
				t.Errorf("placeholder(%q) = %T, want []any", tt.hint, got)
			}
		default:
			if got != want {
				t.Errorf("placeholder(%q) = %v, want %v", tt.hint, got, want)
			}
		}
	}
}

func choiceList(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

func TestNormalizeChoices(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		wantErr  bool
		wantWarn bool
		wantLen  int
	}{
		{"one is unusable", 1, true, false, 0},
		{"three warns", 3, false, true, 3},
		{"four is clean", 4, false, false, 4},
		{"six is clean", 6, false, false, 6},
		{"seven truncates", 7, false, true, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := map[string]any{ChoicesField: choiceList(tt.count)}
			warn, err := NormalizeChoices(parsed, storyFields)

			if tt.wantErr {
				if !errors.Is(err, ErrTooFewChoices) {
					t.Fatalf("err = %v, want ErrTooFewChoices", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeChoices: %v", err)
			}
			if tt.wantWarn && warn == "" {
				t.Error("expected a warning")
			}
			if !tt.wantWarn && warn != "" {
				t.Errorf("unexpected warning %q", warn)
			}

			got := parsed[ChoicesField].([]any)
			if len(got) != tt.wantLen {
				t.Fatalf("len(choices) = %d, want %d", len(got), tt.wantLen)
			}
			// Truncation must preserve original order.
			for i := range got {
				if got[i] != string(rune('a'+i)) {
					t.Errorf("choices[%d] = %v, order not preserved", i, got[i])
				}
			}
		})
	}
}

func TestNormalizeChoices_NotRequested(t *testing.T) {
	parsed := map[string]any{ChoicesField: choiceList(1)}
	fields := []FieldSpec{{Name: "story", Type: "string"}}

	warn, err := NormalizeChoices(parsed, fields)
	if err != nil || warn != "" {
		t.Errorf("NormalizeChoices inspected an unrequested field: warn=%q err=%v", warn, err)
	}
	if len(parsed[ChoicesField].([]any)) != 1 {
		t.Error("unrequested choices field was modified")
	}
}
