// Package chatstream decodes the streamed reply of the AI coach chat endpoint.
//
// A reply arrives either as plain UTF-8 text or as newline-delimited JSON
// events (optionally framed with an SSE-style "data:" prefix). The Decoder
// detects which one from the first content it receives, turns the stream into
// a single growing string and reports that string after every increment so a
// caller can render partial output.
package chatstream

import (
	"errors"
	"strings"
)

// ErrClosed is returned when writing to a Decoder after Close.
var ErrClosed = errors.New("chatstream: decoder closed")

// UpdateFunc receives the full accumulated reply after each update.
type UpdateFunc func(text string)

// Stats counts what a Decoder has seen so far.
type Stats struct {
	Chunks   int // chunks written
	Lines    int // event-stream lines classified
	Events   int // lines that produced a TextDelta or Message
	Literals int // lines that were not valid JSON
	Ignored  int // valid JSON lines with no visible text
}

// Decoder is a push-style chat stream decoder. Chunks are fed through Write in
// arrival order and Close flushes whatever is left at end of stream.
//
// A Decoder is not safe for concurrent use. It owns no transport and holds no
// state beyond a single stream.
type Decoder struct {
	onUpdate UpdateFunc

	mode   Mode
	utf8   utf8Decoder
	held   strings.Builder // whitespace received before the mode is known
	buffer string          // event-stream text not yet resolved into a line
	text   strings.Builder
	stats  Stats
	closed bool
}

// NewDecoder returns a Decoder that calls onUpdate after every update.
// onUpdate may be nil.
func NewDecoder(onUpdate UpdateFunc) *Decoder {
	return &Decoder{onUpdate: onUpdate}
}

// Write processes one chunk completely before returning. It always consumes
// all of p.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}

	d.stats.Chunks++
	d.consume(d.utf8.decode(p, false))
	return len(p), nil
}

// Close flushes the end of the stream: held UTF-8 bytes are decoded and, in
// event-stream mode, a final line without a trailing newline is processed.
// A stream that never showed any non-whitespace content is treated as plain
// text.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if tail := d.utf8.decode(nil, true); tail != "" {
		d.consume(tail)
	}

	switch d.mode {
	case ModeUndetected:
		d.mode = ModePlainText
		if d.held.Len() > 0 {
			d.text.WriteString(d.held.String())
			d.held.Reset()
			d.publish()
		}
	case ModeEventStream:
		if d.buffer != "" {
			line := d.buffer
			d.buffer = ""
			d.processLine(line)
		}
	}

	return nil
}

// Text returns the reply accumulated so far.
func (d *Decoder) Text() string {
	return d.text.String()
}

// Mode returns the detected stream mode.
func (d *Decoder) Mode() Mode {
	return d.mode
}

// Stats returns counters for the stream so far.
func (d *Decoder) Stats() Stats {
	return d.stats
}

func (d *Decoder) consume(text string) {
	if d.mode == ModeUndetected {
		d.held.WriteString(text)
		mode, ok := detectMode(d.held.String())
		if !ok {
			return
		}
		d.mode = mode
		text = d.held.String()
		d.held.Reset()
	}

	switch d.mode {
	case ModePlainText:
		d.text.WriteString(text)
		d.publish()
	case ModeEventStream:
		d.buffer += text
		d.drainLines()
	}
}

func (d *Decoder) drainLines() {
	for {
		i := strings.IndexByte(d.buffer, '\n')
		if i < 0 {
			return
		}
		line := d.buffer[:i]
		d.buffer = d.buffer[i+1:]
		d.processLine(line)
	}
}

func (d *Decoder) processLine(line string) {
	ev, ok := ParseLine(line)
	if !ok {
		return
	}

	d.stats.Lines++
	switch ev.(type) {
	case TextDelta, Message:
		d.stats.Events++
	case Literal:
		d.stats.Literals++
	case Unrecognized:
		d.stats.Ignored++
	}

	d.text.WriteString(VisibleText(ev))
	d.publish()
}

func (d *Decoder) publish() {
	if d.onUpdate != nil {
		d.onUpdate(d.text.String())
	}
}
