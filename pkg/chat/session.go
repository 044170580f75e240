package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"readmate/internal/util"
	"readmate/pkg/ai"
	"readmate/pkg/domain"
	"readmate/pkg/prompt"
	"readmate/pkg/store"
)

var (
	// ErrEmptyMessage rejects empty or whitespace-only submissions.
	ErrEmptyMessage = errors.New("chat: message is empty")

	// ErrTurnInFlight rejects a submission while another turn is running.
	// New turns are rejected, never queued.
	ErrTurnInFlight = errors.New("chat: a turn is already in flight")

	// ErrBookNotFound means the session's book no longer exists.
	ErrBookNotFound = errors.New("chat: book not found")
)

// Session runs one conversation for one book, one turn at a time. Sessions
// for different books are independent and share only the store.
type Session struct {
	bookID   string
	store    store.Store
	streamer ai.ChatStreamer

	mu      sync.Mutex
	sending bool
	cancel  context.CancelFunc
}

// NewSession builds a session bound to a book.
func NewSession(bookID string, st store.Store, streamer ai.ChatStreamer) *Session {
	return &Session{bookID: bookID, store: st, streamer: streamer}
}

// Busy reports whether a turn is currently in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Cancel aborts the in-flight turn, if any. The turn's own goroutine runs
// the failure cleanup; Cancel never blocks on it.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Submit runs one full turn: persist the user message, stream the
// assistant reply into a placeholder message, and finalize it. onDelta,
// when non-nil, observes each increment in emission order. On any failure
// the placeholder is removed from the store and an error is returned; the
// user's message is never rolled back.
func (s *Session) Submit(ctx context.Context, text string, onDelta func(string)) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return domain.Message{}, ErrTurnInFlight
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.sending = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.sending = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	book, ok, err := s.store.GetBook(s.bookID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return domain.Message{}, ErrBookNotFound
	}
	conversation, err := s.store.EnsureConversation(s.bookID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("ensure conversation: %w", err)
	}
	history, err := s.store.ListConversationMessages(conversation.ID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load history: %w", err)
	}

	userMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversation.ID,
		BookID:         s.bookID,
		Role:           domain.RoleUser,
		Content:        text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(conversation.ID, userMsg); err != nil {
		return domain.Message{}, fmt.Errorf("save your message: %w", err)
	}

	assistant := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversation.ID,
		BookID:         s.bookID,
		Role:           domain.RoleAssistant,
		IsStreaming:    true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(conversation.ID, assistant); err != nil {
		return domain.Message{}, fmt.Errorf("start assistant reply: %w", err)
	}

	// Context is built over the history before this turn; the placeholder
	// and the new user text never appear in it as stored messages.
	payload := prompt.Build(book, history, text)
	deltas, errs := s.streamer.StreamChat(turnCtx, payload)

	var content strings.Builder
	for delta := range deltas {
		content.WriteString(delta)
		if err := s.store.UpdateMessageContent(assistant.ID, content.String(), true); err != nil {
			cancel()
			s.discard(assistant.ID)
			return domain.Message{}, fmt.Errorf("save reply progress: %w", err)
		}
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := <-errs; err != nil {
		s.discard(assistant.ID)
		return domain.Message{}, fmt.Errorf("assistant reply failed: %w", err)
	}

	if err := s.store.UpdateMessageContent(assistant.ID, content.String(), false); err != nil {
		s.discard(assistant.ID)
		return domain.Message{}, fmt.Errorf("finalize reply: %w", err)
	}

	assistant.Content = content.String()
	assistant.IsStreaming = false
	return assistant, nil
}

// discard removes a failed assistant placeholder. Best effort: a delete
// failure leaves nothing worse than a message the next cleanup can remove.
func (s *Session) discard(messageID string) {
	_ = s.store.DeleteMessage(messageID)
}
