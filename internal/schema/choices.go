package schema

import (
	"errors"
	"fmt"
)

// ChoicesField is the response field holding the branching options a story
// turn presents to the player.
const ChoicesField = "choices"

// Choice count bounds. Below minChoices a response cannot branch at all;
// preferredMinChoices is the point below which we warn; above maxChoices the
// list is cut.
const (
	minChoices          = 2
	preferredMinChoices = 4
	maxChoices          = 6
)

// ErrTooFewChoices marks a response whose choice list cannot serve as a
// branching point. It is a hard failure; the retry coordinator treats it
// like any other attempt error.
var ErrTooFewChoices = errors.New("too few choices")

// NormalizeChoices enforces the choice-count rules on parsed, in place.
// It is a no-op unless "choices" appears in the requested fields. Lists
// longer than the maximum are truncated to the first six entries in their
// original order; lists of two or three are accepted with a warning.
func NormalizeChoices(parsed map[string]any, fields []FieldSpec) (string, error) {
	requested := false
	for _, f := range fields {
		if f.Name == ChoicesField {
			requested = true
			break
		}
	}
	if !requested {
		return "", nil
	}

	choices, ok := parsed[ChoicesField].([]any)
	if !ok {
		return "", fmt.Errorf("%w: choices is not a list", ErrTooFewChoices)
	}

	switch n := len(choices); {
	case n < minChoices:
		return "", fmt.Errorf("%w: got %d, need at least %d", ErrTooFewChoices, n, minChoices)
	case n < preferredMinChoices:
		return fmt.Sprintf("only %d choices (preferred minimum is %d)", n, preferredMinChoices), nil
	case n > maxChoices:
		parsed[ChoicesField] = choices[:maxChoices]
		return fmt.Sprintf("truncated %d choices to %d", n, maxChoices), nil
	default:
		return "", nil
	}
}
