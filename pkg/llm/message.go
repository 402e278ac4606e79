package llm

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant"
	Content string `json:"content"` // The message content
}
