package llm

// ConversationTurn represents a complete request-reply pair for storage in the DAG.
type ConversationTurn struct {
	Request *ChatRequest `json:"request"`
	Reply   Message      `json:"reply"`

	// Partial is set when the reply stream failed after producing some text.
	Partial bool `json:"partial,omitempty"`
}
