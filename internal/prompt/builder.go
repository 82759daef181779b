// Package prompt assembles the flat text prompt sent to the generate
// endpoint from a system prompt and the running conversation history.
package prompt

import "strings"

// Roles carried by conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// jsonDirective is appended to every prompt. Local models drift into prose
// and markdown without an explicit closing instruction.
const jsonDirective = "Respond with valid JSON only. Do not include any text, prose, or markdown formatting outside the JSON object."

// Build renders the system prompt and message history into a single prompt
// string. The system prompt becomes the leading message; user turns are
// labelled "User: " and everything else "System: ". Output is deterministic:
// identical inputs yield byte-identical prompts.
func Build(systemPrompt string, history []Message) string {
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	msgs = append(msgs, history...)

	parts := make([]string, 0, len(msgs)+1)
	for _, m := range msgs {
		label := "System: "
		if m.Role == RoleUser {
			label = "User: "
		}
		parts = append(parts, label+m.Content)
	}
	parts = append(parts, jsonDirective)

	return strings.Join(parts, "\n\n")
}
