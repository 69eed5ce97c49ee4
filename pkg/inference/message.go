package inference

// Role defines message roles in a conversation.
type Role string

const (
	// RoleSystem is for system instructions.
	RoleSystem Role = "system"

	// RoleUser is for caller messages.
	RoleUser Role = "user"

	// RoleAssistant is for receptionist responses.
	RoleAssistant Role = "assistant"
)

// Message represents a chat message in a conversation.
type Message struct {
	// Role identifies the message sender.
	Role Role

	// Content is the text content of the message.
	Content string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
