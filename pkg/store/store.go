package store

import "readmate/pkg/domain"

// Store defines persistence operations for books, conversations, and
// messages. Commit failures are returned to the caller, never swallowed;
// the caller decides whether to retry or abandon the in-memory change.
type Store interface {
	// books
	SaveBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	DeleteBook(id string) error
	SetPosition(id string, currentPage int, currentChapter string) error
	SetFullText(id string, fullText string, totalPages int) error
	SetStatus(id string, status domain.BookStatus, errMsg string) error

	// conversations
	EnsureConversation(bookID string) (domain.Conversation, error)
	GetConversation(id string) (domain.Conversation, bool, error)

	// messages
	AppendMessage(conversationID string, msg domain.Message) error
	UpdateMessageContent(id string, content string, isStreaming bool) error
	DeleteMessage(id string) error
	ListConversationMessages(conversationID string) ([]domain.Message, error)
}
