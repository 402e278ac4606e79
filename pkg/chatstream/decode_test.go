package chatstream_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing/iotest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/repcoach/pkg/chatstream"
)

// chunkReader returns one chunk per Read, then err (io.EOF when nil).
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

var _ = Describe("Decode", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("decodes a reader to completion", func() {
		r := &chunkReader{chunks: []string{`{"typ`, `e":"text-delta","textDelta":"Hel`, "lo\"}\n"}}

		text, err := chatstream.Decode(ctx, r, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("Hello"))
	})

	It("is unaffected by one-byte reads", func() {
		stream := "data: " + textDelta("Pull-ups ") + "\n\n" + textDelta("×3 ✓")
		r := iotest.OneByteReader(strings.NewReader(stream))

		text, err := chatstream.Decode(ctx, r, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("Pull-ups ×3 ✓"))
	})

	It("handles data returned together with EOF", func() {
		r := iotest.DataErrReader(strings.NewReader("Hello, how can I help?"))

		text, err := chatstream.Decode(ctx, r, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("Hello, how can I help?"))
	})

	It("returns transport errors with the text decoded so far", func() {
		boom := errors.New("connection reset")
		r := &chunkReader{chunks: []string{textDelta("partial") + "\n"}, err: boom}

		var last string
		text, err := chatstream.Decode(ctx, r, func(s string) { last = s })
		Expect(err).To(MatchError(boom))
		Expect(err.Error()).To(ContainSubstring("reading chat stream"))
		Expect(text).To(Equal("partial"))
		Expect(last).To(Equal("partial"))
	})

	It("does not read a cancelled stream", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		calls := 0
		text, err := chatstream.Decode(cctx, &chunkReader{chunks: []string{"never"}}, func(string) { calls++ })
		Expect(err).To(MatchError(context.Canceled))
		Expect(text).To(BeEmpty())
		Expect(calls).To(BeZero())
	})

	It("stops publishing once cancelled mid-stream", func() {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		r := &chunkReader{chunks: []string{"one ", "two ", "three"}}
		var updates []string
		text, err := chatstream.Decode(cctx, r, func(s string) {
			updates = append(updates, s)
			cancel()
		})

		Expect(err).To(MatchError(context.Canceled))
		Expect(updates).To(Equal([]string{"one "}))
		Expect(text).To(Equal("one "))
	})
})
