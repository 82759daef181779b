// Package schema checks parsed model responses against a caller-declared
// field list and patches recoverable gaps with typed placeholders.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldSpec declares one expected response field. Type is an advisory hint
// ("string", "array", "number", "boolean", "object") used only to pick a
// placeholder during reconstruction; it is not enforced against the value
// the model actually produced.
type FieldSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ValidationResult reports which requested fields a response is missing.
type ValidationResult struct {
	Valid   bool
	Missing []string
}

// Validate checks that every requested field is present in parsed. Missing
// names are returned in request order.
func Validate(parsed map[string]any, fields []FieldSpec) ValidationResult {
	var missing []string
	for _, f := range fields {
		if _, ok := parsed[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	return ValidationResult{Valid: len(missing) == 0, Missing: missing}
}

// Reconstruct fills each missing field in parsed with a structurally valid
// placeholder so the response stays usable. It returns one issue string per
// patched field; callers surface these so a reconstruction never passes as
// a clean response. When every requested field is missing the response is
// unsalvageable and an error is returned instead.
func Reconstruct(parsed map[string]any, fields []FieldSpec, missing []string) ([]string, error) {
	if len(missing) == 0 {
		return nil, nil
	}
	if len(missing) >= len(fields) && len(fields) > 0 {
		sorted := append([]string(nil), missing...)
		sort.Strings(sorted)
		return nil, fmt.Errorf("response missing fields: %s", strings.Join(sorted, ", "))
	}

	types := make(map[string]string, len(fields))
	for _, f := range fields {
		types[f.Name] = f.Type
	}

	issues := make([]string, 0, len(missing))
	for _, name := range missing {
		parsed[name] = placeholder(types[name])
		issues = append(issues, fmt.Sprintf("reconstructed missing field %q", name))
	}
	return issues, nil
}

// placeholder returns an empty value matching the declared type hint.
func placeholder(typeHint string) any {
	switch strings.ToLower(typeHint) {
	case "array", "list":
		return []any{}
	case "number", "integer", "float":
		return float64(0)
	case "boolean", "bool":
		return false
	case "object", "map":
		return map[string]any{}
	default:
		return ""
	}
}
