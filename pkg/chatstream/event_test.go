package chatstream_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/repcoach/pkg/chatstream"
)

var _ = Describe("ParseLine", func() {
	DescribeTable("skipped lines",
		func(line string) {
			ev, ok := chatstream.ParseLine(line)
			Expect(ok).To(BeFalse())
			Expect(ev).To(BeNil())
		},
		Entry("empty", ""),
		Entry("whitespace", "  \t\r"),
		Entry("bare prefix", "data:"),
		Entry("prefix and spaces", "data:    "),
		Entry("sentinel", "[DONE]"),
		Entry("prefixed sentinel", "data: [DONE]"),
		Entry("padded sentinel", "  data:[DONE]  "),
	)

	DescribeTable("classified lines",
		func(line string, expected chatstream.Event) {
			ev, ok := chatstream.ParseLine(line)
			Expect(ok).To(BeTrue())
			Expect(ev).To(Equal(expected))
		},
		Entry("text delta",
			`{"type":"text-delta","textDelta":"Row"}`,
			chatstream.TextDelta{Text: "Row"}),
		Entry("prefixed text delta",
			`data: {"type":"text-delta","textDelta":" 4x10"}`,
			chatstream.TextDelta{Text: " 4x10"}),
		Entry("message",
			`{"type":"message","text":"Rest 90s"}`,
			chatstream.Message{Text: "Rest 90s"}),
		Entry("escaped text",
			`{"type":"message","text":"line\nbreak é"}`,
			chatstream.Message{Text: "line\nbreak é"}),
		Entry("literal",
			"Keep your back straight",
			chatstream.Literal{Text: "Keep your back straight"}),
		Entry("truncated JSON is literal",
			`{"type":"text-delta","textDelta":"cut`,
			chatstream.Literal{Text: `{"type":"text-delta","textDelta":"cut`}),
		Entry("tool call",
			`{"type":"tool-call","toolName":"searchExercises"}`,
			chatstream.Unrecognized{
				Type: "tool-call",
				Raw:  json.RawMessage(`{"type":"tool-call","toolName":"searchExercises"}`),
			}),
		Entry("non-string type",
			`{"type":7,"text":"x"}`,
			chatstream.Unrecognized{Raw: json.RawMessage(`{"type":7,"text":"x"}`)}),
		Entry("number",
			"12",
			chatstream.Unrecognized{Raw: json.RawMessage("12")}),
		Entry("mis-cased payload key",
			`{"type":"text-delta","TextDelta":"X"}`,
			chatstream.Unrecognized{
				Type: "text-delta",
				Raw:  json.RawMessage(`{"type":"text-delta","TextDelta":"X"}`),
			}),
		Entry("mis-cased type and text keys",
			`{"TYPE":"message","TEXT":"Y"}`,
			chatstream.Unrecognized{Raw: json.RawMessage(`{"TYPE":"message","TEXT":"Y"}`)}),
		Entry("differently cased duplicate does not shadow text",
			`{"type":"message","text":"A","Text":1}`,
			chatstream.Message{Text: "A"}),
		Entry("last duplicate key wins",
			`{"type":"message","text":"old","text":"new"}`,
			chatstream.Message{Text: "new"}),
	)

	It("reports visible text for every variant", func() {
		Expect(chatstream.VisibleText(chatstream.TextDelta{Text: "a"})).To(Equal("a"))
		Expect(chatstream.VisibleText(chatstream.Message{Text: "b"})).To(Equal("b"))
		Expect(chatstream.VisibleText(chatstream.Literal{Text: "c"})).To(Equal("c"))
		Expect(chatstream.VisibleText(chatstream.Unrecognized{Type: "status"})).To(BeEmpty())
	})
})
