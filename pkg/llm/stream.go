package llm

// StreamEvent is one line of an NDJSON chat stream as emitted by the relay
// when it answers a non-streaming client. Only the fields matching Type are set.
type StreamEvent struct {
	Type      string `json:"type"`                // "text-delta" or "message"
	TextDelta string `json:"textDelta,omitempty"` // Incremental text
	Text      string `json:"text,omitempty"`      // Whole message text
}
