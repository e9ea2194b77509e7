// Package chat provides the OpenAI chat completions client that turns
// retrieved context into answers, whole or streamed delta by delta.
package chat

import "context"

// Chat roles understood by the completions API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system-role message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User builds a user-role message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Client generates chat completions.
type Client interface {
	// Complete returns the whole answer for a conversation.
	Complete(ctx context.Context, messages []Message) (string, error)

	// Stream relays answer fragments to onDelta in generation order. A
	// non-nil error from onDelta aborts the stream.
	Stream(ctx context.Context, messages []Message, onDelta func(string) error) error

	// ModelName returns the model identifier used for completions.
	ModelName() string

	// Close releases client resources.
	Close() error
}
