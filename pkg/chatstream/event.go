package chatstream

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix = "data:"

	// DoneSentinel marks logical end of stream. It is skipped, never rendered.
	DoneSentinel = "[DONE]"

	// TypeTextDelta is the discriminator of incremental text events.
	TypeTextDelta = "text-delta"

	// TypeMessage is the discriminator of whole-message events.
	TypeMessage = "message"
)

// Event is one unit extracted from a line of an event stream. It is a closed
// set: TextDelta, Message, Literal and Unrecognized are the only variants.
type Event interface {
	isEvent()
}

// TextDelta is an incremental fragment of assistant text.
type TextDelta struct {
	Text string
}

// Message carries a complete piece of assistant text.
type Message struct {
	Text string
}

// Literal is a line that was not valid JSON. Its text is shown as-is.
type Literal struct {
	Text string
}

// Unrecognized is valid JSON that matches no known event shape, such as tool
// call or status events. It never contributes visible text.
type Unrecognized struct {
	// Type is the "type" discriminator when the payload had a string one.
	Type string

	// Raw is the JSON payload of the line.
	Raw json.RawMessage
}

func (TextDelta) isEvent()    {}
func (Message) isEvent()      {}
func (Literal) isEvent()      {}
func (Unrecognized) isEvent() {}

// VisibleText returns the text an event adds to the assistant reply.
func VisibleText(ev Event) string {
	switch e := ev.(type) {
	case TextDelta:
		return e.Text
	case Message:
		return e.Text
	case Literal:
		return e.Text
	case Unrecognized:
		return ""
	default:
		return ""
	}
}

// envelope holds the raw members of a candidate event so that each one can be
// type checked individually: a "textDelta" that is not a JSON string does not
// make the event a text delta. Keys match exactly, and the last of duplicate
// keys wins.
type envelope map[string]json.RawMessage

// ParseLine classifies one line of an event stream. The line is trimmed and a
// leading "data:" prefix is stripped. It reports false when the line carries
// nothing to process: it is empty, empty after stripping, or the [DONE]
// sentinel.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	if strings.HasPrefix(line, dataPrefix) {
		line = strings.TrimSpace(line[len(dataPrefix):])
	}

	if line == "" || line == DoneSentinel {
		return nil, false
	}

	raw := []byte(line)
	if !json.Valid(raw) {
		return Literal{Text: line}, true
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Valid JSON that is not an object: a string, number, array, etc.
		return Unrecognized{Raw: json.RawMessage(raw)}, true
	}

	typ, _ := jsonString(env["type"])
	switch typ {
	case TypeTextDelta:
		if text, ok := jsonString(env["textDelta"]); ok {
			return TextDelta{Text: text}, true
		}
	case TypeMessage:
		if text, ok := jsonString(env["text"]); ok {
			return Message{Text: text}, true
		}
	}

	return Unrecognized{Type: typ, Raw: json.RawMessage(raw)}, true
}

// jsonString decodes raw when it holds a JSON string.
func jsonString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}

	return s, true
}
