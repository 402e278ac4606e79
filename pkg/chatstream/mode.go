package chatstream

import (
	"strings"
	"unicode"
)

// Mode is the wire format of a single chat stream. It is decided once, from
// the first non-whitespace content of the stream, and never revisited.
type Mode int

const (
	// ModeUndetected is the state before any content has been seen.
	ModeUndetected Mode = iota

	// ModePlainText streams are raw UTF-8 text concatenated verbatim.
	ModePlainText

	// ModeEventStream streams are newline-delimited JSON events, each line
	// optionally carrying an SSE-style "data:" prefix.
	ModeEventStream
)

func (m Mode) String() string {
	switch m {
	case ModePlainText:
		return "plain-text"
	case ModeEventStream:
		return "event-stream"
	default:
		return "undetected"
	}
}

// detectMode classifies a stream from its first received text. The second
// return value is false when text holds nothing but whitespace, in which case
// detection has to wait for more content.
func detectMode(text string) (Mode, bool) {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	if trimmed == "" {
		return ModeUndetected, false
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, dataPrefix) {
		return ModeEventStream, true
	}

	return ModePlainText, true
}
