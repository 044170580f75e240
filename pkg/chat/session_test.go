package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"readmate/pkg/ai"
	"readmate/pkg/domain"
	"readmate/pkg/store"
)

// scriptedStreamer replays a fixed sequence of deltas, optionally failing
// afterwards, and records every payload it was asked to stream.
type scriptedStreamer struct {
	mu       sync.Mutex
	deltas   []string
	failWith error
	block    chan struct{} // when set, wait before finishing
	payloads [][]ai.ChatMessage
}

func (f *scriptedStreamer) StreamChat(ctx context.Context, messages []ai.ChatMessage) (<-chan string, <-chan error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, messages)
	deltas := f.deltas
	failWith := f.failWith
	block := f.block
	f.mu.Unlock()

	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, d := range deltas {
			select {
			case out <- d:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if failWith != nil {
			errs <- failWith
		}
	}()
	return out, errs
}

func newTestSession(t *testing.T, streamer ai.ChatStreamer) (*Session, *store.MemoryStore, domain.Conversation) {
	t.Helper()
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	book := domain.Book{
		ID:          "book-1",
		Title:       "Moby-Dick",
		Author:      "Herman Melville",
		CurrentPage: 36,
		TotalPages:  180,
		Status:      domain.StatusReady,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := st.SaveBook(book); err != nil {
		t.Fatalf("save book: %v", err)
	}
	conv, err := st.EnsureConversation(book.ID)
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}
	return NewSession(book.ID, st, streamer), st, conv
}

func messageCount(t *testing.T, st *store.MemoryStore, convID string) int {
	t.Helper()
	msgs, err := st.ListConversationMessages(convID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return len(msgs)
}

func TestSubmitSuccessfulTurn(t *testing.T) {
	streamer := &scriptedStreamer{deltas: []string{"The ", "whale ", "is white."}}
	session, st, conv := newTestSession(t, streamer)

	var seen []string
	reply, err := session.Submit(context.Background(), "what color is the whale?", func(d string) {
		seen = append(seen, d)
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if reply.Content != "The whale is white." {
		t.Fatalf("unexpected reply: %q", reply.Content)
	}
	if reply.IsStreaming {
		t.Fatalf("reply still marked streaming")
	}
	if strings.Join(seen, "") != "The whale is white." {
		t.Fatalf("deltas not observed in order: %q", seen)
	}

	msgs, _ := st.ListConversationMessages(conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant persisted, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Content != "what color is the whale?" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleAssistant || msgs[1].IsStreaming {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
}

func TestSubmitEmptyTextIsNoOp(t *testing.T) {
	streamer := &scriptedStreamer{deltas: []string{"never sent"}}
	session, st, conv := newTestSession(t, streamer)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := session.Submit(context.Background(), text, nil); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("submit %q: expected ErrEmptyMessage, got %v", text, err)
		}
	}
	if n := messageCount(t, st, conv.ID); n != 0 {
		t.Fatalf("expected no messages, got %d", n)
	}
	if session.Busy() {
		t.Fatalf("session should be idle")
	}
	if len(streamer.payloads) != 0 {
		t.Fatalf("streamer should not have been called")
	}
}

func TestSubmitFailedStreamRollsBackAssistantOnly(t *testing.T) {
	streamer := &scriptedStreamer{
		deltas:   []string{"one", "two", "three"},
		failWith: fmt.Errorf("connection reset"),
	}
	session, st, conv := newTestSession(t, streamer)

	_, err := session.Submit(context.Background(), "tell me more", nil)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if err.Error() == "" {
		t.Fatalf("expected a user-visible error string")
	}

	msgs, _ := st.ListConversationMessages(conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected only the user message to survive, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser {
		t.Fatalf("surviving message is not the user's: %+v", msgs[0])
	}
	if session.Busy() {
		t.Fatalf("session should return to idle after failure")
	}
}

func TestSubmitRejectsOverlappingTurn(t *testing.T) {
	block := make(chan struct{})
	streamer := &scriptedStreamer{deltas: []string{"slow"}, block: block}
	session, _, _ := newTestSession(t, streamer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = session.Submit(context.Background(), "first", nil)
	}()

	// Wait until the first turn is visibly in flight.
	deadline := time.After(5 * time.Second)
	for !session.Busy() {
		select {
		case <-deadline:
			t.Fatalf("first turn never started")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := session.Submit(context.Background(), "second", nil); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	close(block)
	<-done
	if session.Busy() {
		t.Fatalf("session should be idle after the first turn")
	}
}

func TestCancelCleansUpLikeAFailure(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	streamer := &scriptedStreamer{deltas: []string{"part"}, block: block}
	session, st, conv := newTestSession(t, streamer)

	errCh := make(chan error, 1)
	go func() {
		_, err := session.Submit(context.Background(), "question", nil)
		errCh <- err
	}()

	deadline := time.After(5 * time.Second)
	for !session.Busy() {
		select {
		case <-deadline:
			t.Fatalf("turn never started")
		case <-time.After(time.Millisecond):
		}
	}
	session.Cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected a cancellation error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cancel did not unblock the turn")
	}

	msgs, _ := st.ListConversationMessages(conv.ID)
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user message after cancel, got %+v", msgs)
	}
}

func TestSubmitPayloadExcludesPlaceholder(t *testing.T) {
	streamer := &scriptedStreamer{deltas: []string{"ok"}}
	session, _, _ := newTestSession(t, streamer)

	if _, err := session.Submit(context.Background(), "first question", nil); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := session.Submit(context.Background(), "second question", nil); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if len(streamer.payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(streamer.payloads))
	}
	second := streamer.payloads[1]
	// system + first user + first assistant + new user text.
	if len(second) != 4 {
		t.Fatalf("expected 4 payload messages, got %d: %+v", len(second), second)
	}
	for _, m := range second {
		if m.Role == "assistant" && m.Content == "" {
			t.Fatalf("placeholder leaked into payload: %+v", second)
		}
	}
	if last := second[len(second)-1]; last.Role != "user" || last.Content != "second question" {
		t.Fatalf("unexpected final payload message: %+v", last)
	}
}

func TestSubmitStorageFailureSurfaces(t *testing.T) {
	streamer := &scriptedStreamer{deltas: []string{"ok"}}
	session, st, conv := newTestSession(t, streamer)

	st.FailCommits(true)
	_, err := session.Submit(context.Background(), "question", nil)
	if err == nil {
		t.Fatalf("expected storage failure to surface")
	}
	st.FailCommits(false)
	if n := messageCount(t, st, conv.ID); n != 0 {
		t.Fatalf("expected nothing persisted, got %d", n)
	}
}

func TestManagerOneSessionPerBook(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, &scriptedStreamer{})

	a := m.Session("book-a")
	if m.Session("book-a") != a {
		t.Fatalf("expected the same session for the same book")
	}
	if m.Session("book-b") == a {
		t.Fatalf("expected distinct sessions per book")
	}
	m.Drop("book-a")
	if m.Session("book-a") == a {
		t.Fatalf("expected a fresh session after drop")
	}
}
