package coach_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/repcoach/pkg/chatstream"
	"github.com/papercomputeco/repcoach/pkg/coach"
	"github.com/papercomputeco/repcoach/pkg/llm"
	"github.com/papercomputeco/repcoach/pkg/merkle"
)

// fakeChatter replays fixed updates, or blocks until cancelled when block is set.
type fakeChatter struct {
	mu       sync.Mutex
	updates  []string
	err      error
	block    chan struct{}
	started  chan struct{}
	messages [][]llm.Message
}

func (f *fakeChatter) Chat(ctx context.Context, messages []llm.Message, _ []coach.Image, onUpdate chatstream.UpdateFunc) (string, error) {
	f.mu.Lock()
	f.messages = append(f.messages, messages)
	block, started := f.block, f.started
	f.mu.Unlock()

	text := ""
	for _, u := range f.updates {
		text = u
		onUpdate(u)
	}

	if block != nil {
		if started != nil {
			close(started)
		}
		select {
		case <-block:
		case <-ctx.Done():
			return text, ctx.Err()
		}
	}

	return text, f.err
}

var _ = Describe("Session", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("appends the exchange to the history", func() {
		chatter := &fakeChatter{updates: []string{"Squat", "Squat day"}}
		s := coach.NewSession(chatter)

		var seen []string
		reply, err := s.Send(ctx, "What today?", nil, func(t string) { seen = append(seen, t) })

		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("Squat day"))
		Expect(seen).To(Equal([]string{"Squat", "Squat day"}))
		Expect(s.History()).To(Equal([]llm.Message{
			{Role: llm.RoleUser, Content: "What today?"},
			{Role: llm.RoleAssistant, Content: "Squat day"},
		}))
		Expect(s.Busy()).To(BeFalse())
	})

	It("sends the whole conversation each time", func() {
		chatter := &fakeChatter{updates: []string{"ok"}}
		s := coach.NewSession(chatter)

		_, err := s.Send(ctx, "one", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Send(ctx, "two", nil, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(chatter.messages).To(HaveLen(2))
		Expect(chatter.messages[1]).To(HaveLen(3))
		Expect(chatter.messages[1][2].Content).To(Equal("two"))
	})

	It("records a failure message when the reply fails", func() {
		boom := errors.New("network down")
		chatter := &fakeChatter{updates: []string{"Par"}, err: boom}
		s := coach.NewSession(chatter)

		reply, err := s.Send(ctx, "Plan?", nil, nil)

		Expect(err).To(MatchError(boom))
		Expect(reply).To(Equal("Par"))
		history := s.History()
		Expect(history).To(HaveLen(2))
		Expect(history[1]).To(Equal(llm.Message{Role: llm.RoleAssistant, Content: coach.FailureMessage}))
	})

	It("supersedes a reply in flight", func() {
		first := &fakeChatter{block: make(chan struct{}), started: make(chan struct{})}
		s := coach.NewSession(first)

		done := make(chan error, 1)
		go func() {
			_, err := s.Send(ctx, "first", nil, nil)
			done <- err
		}()
		Eventually(first.started).Should(BeClosed())
		Expect(s.Busy()).To(BeTrue())

		first.mu.Lock()
		first.block = nil
		first.updates = []string{"second reply"}
		first.mu.Unlock()

		reply, err := s.Send(ctx, "second", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("second reply"))
		Eventually(done).Should(Receive(MatchError(coach.ErrSuperseded)))

		Expect(s.History()).To(Equal([]llm.Message{
			{Role: llm.RoleUser, Content: "first"},
			{Role: llm.RoleUser, Content: "second"},
			{Role: llm.RoleAssistant, Content: "second reply"},
		}))
	})

	It("drops updates once a reply is superseded", func() {
		var s *coach.Session
		var forwarded []string
		chatter := chatterFunc(func(ctx context.Context, onUpdate chatstream.UpdateFunc) (string, error) {
			onUpdate("before")
			s.Reset()
			onUpdate("after")
			return "before after", nil
		})
		s = coach.NewSession(chatter)

		_, err := s.Send(ctx, "hi", nil, func(t string) { forwarded = append(forwarded, t) })

		Expect(err).To(MatchError(coach.ErrSuperseded))
		Expect(forwarded).To(Equal([]string{"before"}))
		Expect(s.History()).To(BeEmpty())
	})

	It("stops the reply on Cancel", func() {
		chatter := &fakeChatter{block: make(chan struct{}), started: make(chan struct{})}
		s := coach.NewSession(chatter)

		done := make(chan error, 1)
		go func() {
			_, err := s.Send(ctx, "hi", nil, nil)
			done <- err
		}()
		Eventually(chatter.started).Should(BeClosed())

		s.Cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
		Expect(s.Busy()).To(BeFalse())
	})

	Describe("recording", func() {
		It("stores finished turns", func() {
			storer := merkle.NewMemoryStorer()
			s := coach.NewSession(&fakeChatter{updates: []string{"Deadlifts."}},
				coach.WithRecorder(storer, "user-9", llm.UnitsImperial))

			_, err := s.Send(ctx, "Pull day?", []coach.Image{{MediaType: "image/png", Data: []byte("x")}}, nil)
			Expect(err).NotTo(HaveOccurred())

			leaves, err := storer.Leaves(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(leaves).To(HaveLen(1))
			Expect(leaves[0].Content.Content).To(Equal("Deadlifts."))
			Expect(leaves[0].Content.UserID).To(Equal("user-9"))

			Expect(leaves[0].Content.ImageCount).To(Equal(1))

			roots, err := storer.Roots(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(roots[0].Content.ImageCount).To(BeZero())
		})

		It("stores partial replies as partial", func() {
			storer := merkle.NewMemoryStorer()
			s := coach.NewSession(&fakeChatter{updates: []string{"Half"}, err: errors.New("reset")},
				coach.WithRecorder(storer, "user-9", llm.UnitsMetric))

			_, err := s.Send(ctx, "Plan?", nil, nil)
			Expect(err).To(HaveOccurred())

			leaves, err := storer.Leaves(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(leaves).To(HaveLen(1))
			Expect(leaves[0].Content.Partial).To(BeTrue())
		})
	})
})

type chatterFunc func(ctx context.Context, onUpdate chatstream.UpdateFunc) (string, error)

func (f chatterFunc) Chat(ctx context.Context, _ []llm.Message, _ []coach.Image, onUpdate chatstream.UpdateFunc) (string, error) {
	return f(ctx, onUpdate)
}
