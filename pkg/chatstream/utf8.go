package chatstream

import (
	"strings"
	"unicode/utf8"
)

// utf8Decoder turns a sequence of byte chunks into text. A multi-byte
// sequence split across chunks is held back until the rest of it arrives.
type utf8Decoder struct {
	pending []byte
}

// decode returns the text for chunk. With final set, any held bytes are
// flushed and invalid sequences become U+FFFD.
func (u *utf8Decoder) decode(chunk []byte, final bool) string {
	data := chunk
	if len(u.pending) > 0 {
		data = append(u.pending, chunk...)
		u.pending = nil
	}

	cut := len(data)
	if !final {
		cut = incompleteTail(data)
		if cut < len(data) {
			u.pending = append([]byte(nil), data[cut:]...)
		}
	}

	return strings.ToValidUTF8(string(data[:cut]), string(utf8.RuneError))
}

// incompleteTail returns the offset of a trailing multi-byte sequence that is
// a valid prefix of a rune but not yet complete, or len(b) when there is none.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && len(b)-i < utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}

	return len(b)
}
