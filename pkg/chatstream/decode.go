package chatstream

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ChunkSize is the read size Decode uses against the underlying reader.
const ChunkSize = 32 * 1024

// Decode reads r to completion, feeding every chunk through a Decoder, and
// returns the final reply.
//
// Cancellation is checked before every read and again before a received
// chunk is processed, so no onUpdate call happens once ctx is done. Decode
// does not close r: a caller that wants an in-flight read to unblock must
// tie r to ctx itself (an HTTP body from a request built with ctx does this).
//
// On error the text accumulated so far is returned alongside it.
func Decode(ctx context.Context, r io.Reader, onUpdate UpdateFunc) (string, error) {
	d := NewDecoder(onUpdate)
	buf := make([]byte, ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return d.Text(), err
		}

		n, err := r.Read(buf)
		if n > 0 {
			if cerr := ctx.Err(); cerr != nil {
				return d.Text(), cerr
			}
			// Write never fails on an open decoder.
			_, _ = d.Write(buf[:n])
		}

		if errors.Is(err, io.EOF) {
			_ = d.Close()
			return d.Text(), nil
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return d.Text(), cerr
			}
			return d.Text(), fmt.Errorf("reading chat stream: %w", err)
		}
	}
}
