// Package llm defines a minimal chat-completion abstraction and the
// provider adapters behind it. Callers depend on ChatModel; the concrete
// provider is chosen once at startup from configuration.
package llm

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a chat exchange.
type Message struct {
	Role    Role
	Content string
}

// ChatOut is a provider response reduced to the text the caller needs.
type ChatOut struct {
	Text string
}

// ChatModel produces a completion for a chat transcript. Implementations
// must be safe for concurrent use.
type ChatModel interface {
	Chat(ctx context.Context, msgs []Message) (ChatOut, error)
}

// System is shorthand for a system-role message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User is shorthand for a user-role message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }
