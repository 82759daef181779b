// Package repair extracts a usable JSON object from noisy model output.
//
// Local models wrap answers in code fences, restate earlier turns before
// the real one, and occasionally emit near-JSON with wrong quoting. Repair
// applies a fixed sequence of corrective steps, records each one taken, and
// only gives up when nothing in the text parses.
package repair

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result reports the outcome of a repair pass.
type Result struct {
	// Success is true when Parsed holds a JSON object.
	Success bool
	// Parsed is the extracted object, present iff Success.
	Parsed map[string]any
	// CleanedText is the best-effort candidate string, kept for diagnostics
	// even on failure.
	CleanedText string
	// Err holds the final parse error text when Success is false.
	Err string
	// Issues lists every corrective action taken, in order. A clean parse
	// of valid JSON leaves it empty.
	Issues []string
}

// Repair attempts to extract a JSON object from raw model text. markers are
// field names that identify the current turn's answer; when the text holds
// several JSON blobs (models sometimes echo prior turns before answering),
// candidates are tried from last to first and the first one carrying every
// marker wins. Pass nil when no particular shape is expected.
func Repair(raw string, markers []string) Result {
	var issues []string

	cleaned := strings.TrimSpace(raw)
	if stripped, ok := stripCodeFence(cleaned); ok {
		cleaned = stripped
		issues = append(issues, "stripped code fence")
	}

	// Fast path: the whole text is a valid object.
	if parsed, err := parseObject(cleaned); err == nil {
		return Result{Success: true, Parsed: parsed, CleanedText: cleaned, Issues: issues}
	}

	// Brace-delimited blobs embedded in surrounding noise. With several,
	// prefer the newest one that looks like the current turn's answer
	// rather than an echo of an earlier turn.
	candidates := scanObjects(cleaned)
	if len(candidates) == 1 {
		if parsed, err := parseObject(candidates[0]); err == nil {
			issues = append(issues, "extracted JSON object from surrounding text")
			return Result{Success: true, Parsed: parsed, CleanedText: candidates[0], Issues: issues}
		}
	}
	if len(candidates) > 1 {
		issues = append(issues, fmt.Sprintf("found %d JSON candidates", len(candidates)))

		var fallback map[string]any
		fallbackText := ""
		for i := len(candidates) - 1; i >= 0; i-- {
			parsed, err := parseObject(candidates[i])
			if err != nil {
				continue
			}
			if hasMarkers(parsed, markers) {
				issues = append(issues, fmt.Sprintf("selected candidate %d of %d", i+1, len(candidates)))
				return Result{Success: true, Parsed: parsed, CleanedText: candidates[i], Issues: issues}
			}
			if fallback == nil {
				fallback = parsed
				fallbackText = candidates[i]
			}
		}
		if fallback != nil {
			issues = append(issues, "no candidate matched expected fields; used last parseable candidate")
			return Result{Success: true, Parsed: fallback, CleanedText: fallbackText, Issues: issues}
		}
	}

	// Quoting fallback: models sometimes emit near-JSON with single quotes
	// inside values. Swapping them for backticks keeps apostrophes from
	// corrupting string contents the way a straight double-quote swap would.
	attempt := cleaned
	if len(candidates) == 1 {
		attempt = candidates[0]
	}
	normalized := strings.ReplaceAll(attempt, "'", "`")
	if normalized != attempt {
		if parsed, err := parseObject(normalized); err == nil {
			issues = append(issues, "replaced single quotes")
			return Result{Success: true, Parsed: parsed, CleanedText: normalized, Issues: issues}
		}
		attempt = normalized
	}

	_, parseErr := parseObject(attempt)
	errText := "no JSON object found"
	if parseErr != nil {
		errText = parseErr.Error()
	}
	return Result{
		Success:     false,
		CleanedText: attempt,
		Err:         errText,
		Issues:      issues,
	}
}

// stripCodeFence removes a single leading/trailing fenced block, tagged
// (```json) or untagged (```). The second return is true when a fence was
// actually removed.
func stripCodeFence(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text, false
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	body = strings.TrimLeft(body, " \t\r\n")
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body), true
}

// scanObjects returns every balanced top-level {...} span in text. The scan
// is string- and escape-aware so braces inside values don't split objects.
func scanObjects(text string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if inString {
				continue
			}
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if inString {
				continue
			}
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

func parseObject(text string) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// hasMarkers reports whether parsed carries every marker field. An empty
// marker list matches anything.
func hasMarkers(parsed map[string]any, markers []string) bool {
	for _, m := range markers {
		if _, ok := parsed[m]; !ok {
			return false
		}
	}
	return true
}
