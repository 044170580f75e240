package domain

import "time"

type BookStatus string

const (
	StatusDraft      BookStatus = "draft"
	StatusQueued     BookStatus = "queued"
	StatusProcessing BookStatus = "processing"
	StatusReady      BookStatus = "ready"
	StatusFailed     BookStatus = "failed"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Book is a library entry together with the reader's position inside it.
// FullText is populated by ingestion and is only ever used for spoiler-safe
// context truncation; it never leaves the server.
type Book struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	ISBN            string     `json:"isbn,omitempty"`
	CoverImageURL   string     `json:"coverImageURL,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	CurrentPage     int        `json:"currentPage"`
	TotalPages      int        `json:"totalPages,omitempty"`
	CurrentChapter  string     `json:"currentChapter,omitempty"`
	Chapters        []string   `json:"chapters,omitempty"`
	FullText        string     `json:"-"`
	ReadingProgress float64    `json:"readingProgress"`
	StorageKey      string     `json:"-"`
	Status          BookStatus `json:"status"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Conversation is the single chat log attached to a book.
type Conversation struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one entry in a conversation. Content is mutable while
// IsStreaming is true; CreatedAt is the sort key and never changes.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	BookID         string    `json:"bookId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	IsStreaming    bool      `json:"isStreaming"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CatalogEntry is bibliographic metadata looked up at book-creation time.
type CatalogEntry struct {
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	ISBN          string   `json:"isbn,omitempty"`
	CoverImageURL string   `json:"coverImageURL,omitempty"`
	Description   string   `json:"description,omitempty"`
	NumberOfPages int      `json:"numberOfPages,omitempty"`
	Chapters      []string `json:"chapters,omitempty"`
}
