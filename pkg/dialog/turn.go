package dialog

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single exchange in a conversation: something the caller said or
// something the receptionist answered.
type Turn struct {
	Role    string
	Content string
}

// NewUserTurn creates a caller turn.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// NewAssistantTurn creates a receptionist turn.
func NewAssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}
