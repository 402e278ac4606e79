// Package llm holds the wire types exchanged with the AI coach chat function
// and the relay that fronts it.
package llm

// ErrorResponse represents an error returned by the relay or the chat function.
type ErrorResponse struct {
	Error string `json:"error"`
}
