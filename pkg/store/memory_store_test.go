package store

import (
	"testing"
	"time"

	"readmate/pkg/domain"
)

func seedBook(t *testing.T, s *MemoryStore) domain.Book {
	t.Helper()
	now := time.Now().UTC()
	book := domain.Book{
		ID:          "book-1",
		Title:       "Moby-Dick",
		Author:      "Herman Melville",
		TotalPages:  180,
		CurrentPage: 36,
		Status:      domain.StatusReady,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.SaveBook(book); err != nil {
		t.Fatalf("save book: %v", err)
	}
	return book
}

func TestEnsureConversationIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s)

	first, err := s.EnsureConversation(book.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := s.EnsureConversation(book.ID)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one conversation per book, got %s and %s", first.ID, second.ID)
	}
}

func TestAppendAdvancesConversationUpdatedAt(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s)
	conv, err := s.EnsureConversation(book.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	before := conv.UpdatedAt
	time.Sleep(2 * time.Millisecond)
	msg := domain.Message{ID: "m1", BookID: book.ID, Role: domain.RoleUser, Content: "hi", CreatedAt: time.Now().UTC()}
	if err := s.AppendMessage(conv.ID, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	after, ok, err := s.GetConversation(conv.ID)
	if err != nil || !ok {
		t.Fatalf("get conversation: ok=%v err=%v", ok, err)
	}
	if !after.UpdatedAt.After(before) {
		t.Fatalf("expected updatedAt to advance: %v -> %v", before, after.UpdatedAt)
	}
}

func TestMessagesSortedByCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s)
	conv, _ := s.EnsureConversation(book.ID)

	base := time.Now().UTC()
	// Appended out of chronological order on purpose.
	for _, m := range []domain.Message{
		{ID: "m2", Role: domain.RoleAssistant, CreatedAt: base.Add(2 * time.Second)},
		{ID: "m1", Role: domain.RoleUser, CreatedAt: base.Add(1 * time.Second)},
		{ID: "m3", Role: domain.RoleUser, CreatedAt: base.Add(3 * time.Second)},
	} {
		if err := s.AppendMessage(conv.ID, m); err != nil {
			t.Fatalf("append %s: %v", m.ID, err)
		}
	}

	msgs, err := s.ListConversationMessages(conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Fatalf("position %d = %s, want %s", i, msgs[i].ID, want)
		}
	}
}

func TestMessagesStableOrderOnEqualTimestamps(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s)
	conv, _ := s.EnsureConversation(book.ID)

	ts := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.AppendMessage(conv.ID, domain.Message{ID: id, Role: domain.RoleUser, CreatedAt: ts}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	first, _ := s.ListConversationMessages(conv.ID)
	second, _ := s.ListConversationMessages(conv.ID)
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("tie order not stable at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestUpdateMessageContentReplacesInPlace(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s)
	conv, _ := s.EnsureConversation(book.ID)

	msg := domain.Message{ID: "m1", Role: domain.RoleAssistant, IsStreaming: true, CreatedAt: time.Now().UTC()}
	if err := s.AppendMessage(conv.ID, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.UpdateMessageContent("m1", "partial", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpdateMessageContent("m1", "final answer", false); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	msgs, _ := s.ListConversationMessages(conv.ID)
	if msgs[0].Content != "final answer" || msgs[0].IsStreaming {
		t.Fatalf("unexpected message state: %+v", msgs[0])
	}
}

func TestDeleteBookCascades(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s)
	conv, _ := s.EnsureConversation(book.ID)
	_ = s.AppendMessage(conv.ID, domain.Message{ID: "m1", Role: domain.RoleUser, CreatedAt: time.Now().UTC()})

	if err := s.DeleteBook(book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if _, ok, _ := s.GetConversation(conv.ID); ok {
		t.Fatalf("expected conversation gone with its book")
	}
	if msgs, _ := s.ListConversationMessages(conv.ID); len(msgs) != 0 {
		t.Fatalf("expected messages gone with their book, got %d", len(msgs))
	}
}

func TestCommitFailuresSurface(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s)
	conv, _ := s.EnsureConversation(book.ID)

	s.FailCommits(true)
	if err := s.AppendMessage(conv.ID, domain.Message{ID: "m1"}); err == nil {
		t.Fatalf("expected append to report the commit failure")
	}
	if err := s.SetPosition(book.ID, 40, ""); err == nil {
		t.Fatalf("expected position update to report the commit failure")
	}
}

func TestSetPositionRecomputesProgress(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s)

	if err := s.SetPosition(book.ID, 90, "Chapter IX"); err != nil {
		t.Fatalf("set position: %v", err)
	}
	got, _, _ := s.GetBook(book.ID)
	if got.ReadingProgress != 0.5 {
		t.Fatalf("progress = %v, want 0.5", got.ReadingProgress)
	}
	if got.CurrentChapter != "Chapter IX" {
		t.Fatalf("chapter = %q", got.CurrentChapter)
	}
}

func TestSetFullTextUpdatesPagesAndProgress(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.SaveBook(domain.Book{ID: "b2", Title: "Untracked", CurrentPage: 10, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SetFullText("b2", "body text", 100); err != nil {
		t.Fatalf("set full text: %v", err)
	}
	got, _, _ := s.GetBook("b2")
	if got.FullText != "body text" || got.TotalPages != 100 {
		t.Fatalf("unexpected book: %+v", got)
	}
	if got.ReadingProgress != 0.1 {
		t.Fatalf("progress = %v, want 0.1", got.ReadingProgress)
	}
}
