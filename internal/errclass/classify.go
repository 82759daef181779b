// Package errclass maps pipeline failures onto a closed, user-facing
// taxonomy. It is advisory only: callers use the classification to word
// error screens and decide whether a retry button makes sense, never to
// alter control flow.
package errclass

import "strings"

// Kind is the failure category.
type Kind string

// The closed set of failure kinds.
const (
	KindNetwork         Kind = "network"
	KindNotFound        Kind = "not_found"
	KindServerError     Kind = "server_error"
	KindParseError      Kind = "parse_error"
	KindValidationError Kind = "validation_error"
	KindUnknown         Kind = "unknown"
)

// Action is the suggested user remediation.
type Action string

// Suggested actions per kind.
const (
	ActionNone            Action = "none"
	ActionCheckConnection Action = "check_connection"
	ActionCheckURL        Action = "check_url"
	ActionRetry           Action = "retry"
)

// Classification is the user-facing reading of an internal error.
type Classification struct {
	Kind        Kind   `json:"kind"`
	UserMessage string `json:"user_message"`
	Retryable   bool   `json:"retryable"`
	Action      Action `json:"action"`
}

// rule matches error text to a classification. Rules are evaluated in
// order; the first match wins.
type rule struct {
	substrings []string
	class      Classification
}

// rules is the ordered classification table. Matching stays substring-based
// because upstream errors reach us as wrapped text; each stage does throw
// typed sentinels, so switching this table to errors.As later is mechanical.
var rules = []rule{
	{
		substrings: []string{"404", "not found"},
		class: Classification{
			Kind:        KindNotFound,
			UserMessage: "The model or endpoint was not found. Check the server URL and model name.",
			Retryable:   false,
			Action:      ActionCheckURL,
		},
	},
	{
		substrings: []string{"500", "502", "503", "internal server error"},
		class: Classification{
			Kind:        KindServerError,
			UserMessage: "The model server hit an internal error. It may recover on its own.",
			Retryable:   true,
			Action:      ActionRetry,
		},
	},
	{
		substrings: []string{"fetch", "connection refused", "unreachable", "no such host", "timed out", "timeout", "context deadline exceeded"},
		class: Classification{
			Kind:        KindNetwork,
			UserMessage: "Could not reach the model server. Make sure it is running and the address is correct.",
			Retryable:   true,
			Action:      ActionCheckConnection,
		},
	},
	{
		substrings: []string{"parsing model response", "invalid character", "unexpected end of json", "no json object"},
		class: Classification{
			Kind:        KindParseError,
			UserMessage: "The model returned malformed output. Trying again usually produces a clean response.",
			Retryable:   true,
			Action:      ActionRetry,
		},
	},
	{
		substrings: []string{"missing fields", "too few choices"},
		class: Classification{
			Kind:        KindValidationError,
			UserMessage: "The model's response was incomplete. Trying again usually produces a full response.",
			Retryable:   true,
			Action:      ActionRetry,
		},
	},
}

// unknown is the fallthrough classification.
var unknown = Classification{
	Kind:        KindUnknown,
	UserMessage: "Something unexpected went wrong.",
	Retryable:   false,
	Action:      ActionNone,
}

// Classify maps an error to its user-facing classification. It is pure and
// never fails; nil errors classify as unknown.
func Classify(err error) Classification {
	if err == nil {
		return unknown
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, s := range r.substrings {
			if strings.Contains(msg, s) {
				return r.class
			}
		}
	}
	return unknown
}
