package llm

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// UnitPreference selects the unit system the coach answers in.
type UnitPreference string

const (
	UnitsMetric   UnitPreference = "metric"
	UnitsImperial UnitPreference = "imperial"
)

// Valid reports whether u is a known unit system.
func (u UnitPreference) Valid() bool {
	return u == UnitsMetric || u == UnitsImperial
}

// NoStreamHeader asks the chat function (or the relay) for a single
// non-streamed body, for clients that cannot consume a stream.
const NoStreamHeader = "X-Coach-No-Stream"

// RequestIDHeader carries a per-request id so client and relay logs line up.
const RequestIDHeader = "X-Request-Id"

// ChatRequest is the request body of the AI coach chat function.
type ChatRequest struct {
	Messages       []Message      `json:"messages"`                 // Conversation history, oldest first
	Images         []string       `json:"images,omitempty"`         // Optional base64 data URLs
	UserID         string         `json:"userId"`                   // Caller identity
	UnitPreference UnitPreference `json:"unitPreference,omitempty"` // "metric" or "imperial"
}

// ImageDataURL encodes data as a base64 data URL of the given media type.
func ImageDataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ContentTypeOf sniffs the media type of data, without parameters.
func ContentTypeOf(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
