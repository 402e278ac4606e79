package coach

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/repcoach/pkg/chatstream"
	"github.com/papercomputeco/repcoach/pkg/llm"
	"github.com/papercomputeco/repcoach/pkg/merkle"
)

// FailureMessage is shown in place of a reply that could not be fetched.
const FailureMessage = "Sorry, I couldn't reach your coach right now. Please try again."

// ErrSuperseded is returned by Send when a newer message replaced the reply
// before it finished.
var ErrSuperseded = errors.New("coach: reply superseded by a newer message")

// Chatter sends a conversation and streams back the reply. *Client implements it.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, images []Image, onUpdate chatstream.UpdateFunc) (string, error)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRecorder stores every finished turn in storer. userID and units are
// recorded alongside the messages.
func WithRecorder(storer merkle.Storer, userID string, units llm.UnitPreference) SessionOption {
	return func(s *Session) {
		s.recorder = storer
		s.userID = userID
		s.units = units
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// Session is one conversation with the coach. At most one reply is current at
// a time: sending a new message cancels the reply in flight, and updates from
// the cancelled reply are no longer forwarded.
type Session struct {
	chatter  Chatter
	recorder merkle.Storer
	userID   string
	units    llm.UnitPreference
	logger   *zap.Logger

	mu      sync.Mutex
	history []llm.Message
	gen     uint64
	cancel  context.CancelFunc
}

// NewSession creates an empty conversation.
func NewSession(chatter Chatter, opts ...SessionOption) *Session {
	s := &Session{
		chatter: chatter,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send appends a user message and streams the coach's reply, forwarding each
// update to onUpdate while this reply is still the current one.
//
// On success the reply joins the history. On failure FailureMessage joins the
// history instead and the error is returned with any partial text. If a newer
// Send supersedes this one, ErrSuperseded is returned and the history is left
// to the newer reply.
func (s *Session) Send(ctx context.Context, text string, images []Image, onUpdate chatstream.UpdateFunc) (string, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: text})
	messages := slices.Clone(s.history)
	s.mu.Unlock()
	defer cancel()

	reply, err := s.chatter.Chat(ctx, messages, images, func(t string) {
		if onUpdate != nil && s.isCurrent(gen) {
			onUpdate(t)
		}
	})

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return reply, ErrSuperseded
	}
	s.cancel = nil
	if err != nil {
		s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: FailureMessage})
	} else {
		s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("coach reply failed", zap.Int("partial_len", len(reply)), zap.Error(err))
		if reply != "" {
			s.record(context.WithoutCancel(ctx), messages, images, reply, true)
		}
		return reply, err
	}

	s.record(context.WithoutCancel(ctx), messages, images, reply, false)
	return reply, nil
}

// Busy reports whether a reply is streaming.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Cancel stops the reply in flight, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// History returns a copy of the conversation so far, oldest first.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Reset cancels any reply in flight and starts a new conversation.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.history = nil
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) record(ctx context.Context, messages []llm.Message, images []Image, reply string, partial bool) {
	if s.recorder == nil {
		return
	}

	turn := &llm.ConversationTurn{
		Request: &llm.ChatRequest{
			Messages:       messages,
			UserID:         s.userID,
			UnitPreference: s.units,
		},
		Reply:   llm.Message{Role: llm.RoleAssistant, Content: reply},
		Partial: partial,
	}
	for _, img := range images {
		turn.Request.Images = append(turn.Request.Images, img.DataURL())
	}

	head, err := merkle.StoreTurn(ctx, s.recorder, turn)
	if err != nil {
		// Recording is best effort; the reply is already shown.
		s.logger.Error("failed to record conversation", zap.Error(err))
		return
	}
	s.logger.Debug("conversation recorded", zap.String("head_hash", head))
}
