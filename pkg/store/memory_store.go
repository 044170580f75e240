package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"readmate/internal/util"
	"readmate/pkg/domain"
	"readmate/pkg/position"
)

// MemoryStore keeps everything in-process. Used by tests and as a
// zero-dependency dev fallback.
type MemoryStore struct {
	mu            sync.RWMutex
	books         map[string]domain.Book
	bookOrder     []string
	conversations map[string]domain.Conversation // keyed by conversation ID
	byBook        map[string]string              // book ID -> conversation ID
	messages      map[string][]domain.Message    // conversation ID -> insertion order
	failCommits   bool
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:         make(map[string]domain.Book),
		conversations: make(map[string]domain.Conversation),
		byBook:        make(map[string]string),
		messages:      make(map[string][]domain.Message),
	}
}

// FailCommits makes every mutating call return an error. Test hook for
// storage-failure paths.
func (m *MemoryStore) FailCommits(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommits = fail
}

func (m *MemoryStore) commitErr() error {
	if m.failCommits {
		return fmt.Errorf("commit failed")
	}
	return nil
}

func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.commitErr(); err != nil {
		return err
	}
	if existing, ok := m.books[b.ID]; ok {
		// Full text only changes through SetFullText.
		b.FullText = existing.FullText
	} else {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.commitErr(); err != nil {
		return err
	}
	delete(m.books, id)
	if convID, ok := m.byBook[id]; ok {
		delete(m.conversations, convID)
		delete(m.messages, convID)
		delete(m.byBook, id)
	}
	return nil
}

func (m *MemoryStore) SetPosition(id string, currentPage int, currentChapter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.commitErr(); err != nil {
		return err
	}
	b, ok := m.books[id]
	if !ok {
		return fmt.Errorf("book not found: %s", id)
	}
	b.CurrentPage = currentPage
	b.CurrentChapter = currentChapter
	if b.TotalPages > 0 {
		b.ReadingProgress = position.Progress(currentPage, b.TotalPages)
	}
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

func (m *MemoryStore) SetFullText(id string, fullText string, totalPages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.commitErr(); err != nil {
		return err
	}
	b, ok := m.books[id]
	if !ok {
		return fmt.Errorf("book not found: %s", id)
	}
	b.FullText = fullText
	if totalPages > 0 {
		b.TotalPages = totalPages
		b.ReadingProgress = position.Progress(b.CurrentPage, totalPages)
	}
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

func (m *MemoryStore) SetStatus(id string, status domain.BookStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.commitErr(); err != nil {
		return err
	}
	b, ok := m.books[id]
	if !ok {
		return fmt.Errorf("book not found: %s", id)
	}
	b.Status = status
	b.ErrorMessage = errMsg
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

func (m *MemoryStore) EnsureConversation(bookID string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if convID, ok := m.byBook[bookID]; ok {
		return m.conversations[convID], nil
	}
	if err := m.commitErr(); err != nil {
		return domain.Conversation{}, err
	}
	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:        util.NewID(),
		BookID:    bookID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	m.byBook[bookID] = conv.ID
	return conv, nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

func (m *MemoryStore) AppendMessage(conversationID string, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.commitErr(); err != nil {
		return err
	}
	conv, ok := m.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation not found: %s", conversationID)
	}
	msg.ConversationID = conversationID
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	conv.UpdatedAt = time.Now().UTC()
	m.conversations[conversationID] = conv
	return nil
}

func (m *MemoryStore) UpdateMessageContent(id string, content string, isStreaming bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.commitErr(); err != nil {
		return err
	}
	for convID, msgs := range m.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				msgs[i].Content = content
				msgs[i].IsStreaming = isStreaming
				m.messages[convID] = msgs
				return nil
			}
		}
	}
	return fmt.Errorf("message not found: %s", id)
}

func (m *MemoryStore) DeleteMessage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.commitErr(); err != nil {
		return err
	}
	for convID, msgs := range m.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				m.messages[convID] = append(msgs[:i:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (m *MemoryStore) ListConversationMessages(conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := make([]domain.Message, len(m.messages[conversationID]))
	copy(msgs, m.messages[conversationID])
	// Stable sort keeps insertion order for identical timestamps.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}
