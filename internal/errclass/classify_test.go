package errclass

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
		action    Action
	}{
		{"fetch failure", errors.New("failed to fetch"), KindNetwork, true, ActionCheckConnection},
		{"refused", errors.New("generate request: dial tcp: connection refused"), KindNetwork, true, ActionCheckConnection},
		{"timeout", errors.New("generate request timed out after 1m0s"), KindNetwork, true, ActionCheckConnection},
		{"404", errors.New("generate: status 404 Not Found"), KindNotFound, false, ActionCheckURL},
		{"500", errors.New("generate: status 500 Internal Server Error"), KindServerError, true, ActionRetry},
		{"parse", errors.New(`parsing model response: invalid character 'T'`), KindParseError, true, ActionRetry},
		{"missing fields", errors.New("response missing fields: choices, story"), KindValidationError, true, ActionRetry},
		{"choice count", errors.New("too few choices: got 1, need at least 2"), KindValidationError, true, ActionRetry},
		{"unrecognized", errors.New("quux happened"), KindUnknown, false, ActionNone},
		{"nil", nil, KindUnknown, false, ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.kind)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if got.Action != tt.action {
				t.Errorf("Action = %q, want %q", got.Action, tt.action)
			}
			if got.UserMessage == "" {
				t.Error("UserMessage empty")
			}
		})
	}
}

func TestClassify_WrappedErrors(t *testing.T) {
	inner := errors.New("generate: status 404 Not Found")
	wrapped := fmt.Errorf("generation failed after 3 attempts: %w", inner)
	if got := Classify(wrapped); got.Kind != KindNotFound {
		t.Errorf("Kind = %q, want not_found through wrapping", got.Kind)
	}
}
