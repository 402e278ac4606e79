package merkle_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/repcoach/pkg/llm"
	"github.com/papercomputeco/repcoach/pkg/merkle"
)

var _ = Describe("StoreTurn", func() {
	var (
		ctx    context.Context
		storer *merkle.MemoryStorer
	)

	BeforeEach(func() {
		ctx = context.Background()
		storer = merkle.NewMemoryStorer()
	})

	turn := func(reply string, images int, msgs ...llm.Message) *llm.ConversationTurn {
		req := &llm.ChatRequest{
			Messages:       msgs,
			UserID:         "user-1",
			UnitPreference: llm.UnitsMetric,
		}
		for i := 0; i < images; i++ {
			req.Images = append(req.Images, "data:image/png;base64,AAAA")
		}
		return &llm.ConversationTurn{
			Request: req,
			Reply:   llm.Message{Role: llm.RoleAssistant, Content: reply},
		}
	}

	It("stores the history and reply as a chain", func() {
		head, err := merkle.StoreTurn(ctx, storer, turn("Try 3x8 rows.", 1,
			llm.Message{Role: llm.RoleUser, Content: "Back day ideas?"},
		))
		Expect(err).NotTo(HaveOccurred())

		path, err := storer.Descendants(ctx, head)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveLen(2))
		Expect(path[0].Content.Role).To(Equal(llm.RoleUser))
		Expect(path[0].Content.ImageCount).To(BeZero())
		Expect(path[0].Content.UserID).To(Equal("user-1"))
		Expect(path[1].Content.Role).To(Equal(llm.RoleAssistant))
		Expect(path[1].Content.Content).To(Equal("Try 3x8 rows."))
		Expect(path[1].Content.UnitPreference).To(Equal("metric"))
		Expect(path[1].Content.ImageCount).To(Equal(1))
	})

	It("deduplicates a repeated history and branches on a new reply", func() {
		first := llm.Message{Role: llm.RoleUser, Content: "Leg day?"}

		head1, err := merkle.StoreTurn(ctx, storer, turn("Squats.", 0, first))
		Expect(err).NotTo(HaveOccurred())
		head2, err := merkle.StoreTurn(ctx, storer, turn("Lunges.", 0, first))
		Expect(err).NotTo(HaveOccurred())
		Expect(head1).NotTo(Equal(head2))

		nodes, err := storer.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(nodes).To(HaveLen(3))

		roots, err := storer.Roots(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(roots).To(HaveLen(1))
	})

	It("extends an existing conversation", func() {
		q1 := llm.Message{Role: llm.RoleUser, Content: "Leg day?"}
		a1 := llm.Message{Role: llm.RoleAssistant, Content: "Squats."}
		q2 := llm.Message{Role: llm.RoleUser, Content: "How many sets?"}

		head1, err := merkle.StoreTurn(ctx, storer, turn("Squats.", 0, q1))
		Expect(err).NotTo(HaveOccurred())
		head2, err := merkle.StoreTurn(ctx, storer, turn("Five.", 0, q1, a1, q2))
		Expect(err).NotTo(HaveOccurred())

		path, err := storer.Descendants(ctx, head2)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveLen(4))
		Expect(path[1].Hash).To(Equal(head1))
	})

	It("marks partial replies", func() {
		t := turn("Start with", 0, llm.Message{Role: llm.RoleUser, Content: "Plan?"})
		t.Partial = true

		head, err := merkle.StoreTurn(ctx, storer, t)
		Expect(err).NotTo(HaveOccurred())

		node, err := storer.Get(ctx, head)
		Expect(err).NotTo(HaveOccurred())
		Expect(node.Content.Partial).To(BeTrue())
	})

	It("rejects a turn without a request", func() {
		_, err := merkle.StoreTurn(ctx, storer, &llm.ConversationTurn{})
		Expect(err).To(HaveOccurred())
	})
})
