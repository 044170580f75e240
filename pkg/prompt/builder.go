package prompt

import (
	"fmt"
	"strings"

	"readmate/pkg/ai"
	"readmate/pkg/domain"
	"readmate/pkg/position"
)

const (
	// MaxExcerptChars caps the book excerpt included in the system message.
	// The excerpt is a prefix; anything past the cap is silently dropped.
	MaxExcerptChars = 8000

	// MaxHistoryMessages caps how many recent messages accompany a turn.
	MaxHistoryMessages = 10
)

// Build assembles the outbound payload for one turn: a single system
// instruction, the most recent history, then the new user message. History
// must already be in chronological order. Absent optional book fields are
// omitted, never substituted with placeholders.
func Build(book domain.Book, history []domain.Message, userText string) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{
		Role:    string(domain.RoleSystem),
		Content: systemInstruction(book),
	})
	if len(history) > MaxHistoryMessages {
		history = history[len(history)-MaxHistoryMessages:]
	}
	for _, msg := range history {
		messages = append(messages, ai.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, ai.ChatMessage{
		Role:    string(domain.RoleUser),
		Content: userText,
	})
	return messages
}

func systemInstruction(book domain.Book) string {
	var sb strings.Builder
	sb.WriteString("You are a reading companion for the book ")
	sb.WriteString(fmt.Sprintf("%q", book.Title))
	if book.Author != "" {
		sb.WriteString(" by ")
		sb.WriteString(book.Author)
	}
	sb.WriteString(".\n")
	fmt.Fprintf(&sb, "The reader is currently on page %d", book.CurrentPage)
	if book.TotalPages > 0 {
		fmt.Fprintf(&sb, " of %d", book.TotalPages)
	}
	sb.WriteString(".\n")
	sb.WriteString("Never reveal, hint at, or discuss anything that happens beyond the reader's current page, even if asked directly. This rule has no exceptions.\n")
	if book.Summary != "" {
		sb.WriteString("\nBook summary:\n")
		sb.WriteString(book.Summary)
		sb.WriteString("\n")
	}
	if excerpt, ok := position.TextUpToPage(book.FullText, book.CurrentPage, book.TotalPages); ok {
		runes := []rune(excerpt)
		if len(runes) > MaxExcerptChars {
			excerpt = string(runes[:MaxExcerptChars])
		}
		sb.WriteString("\nText the reader has read so far:\n")
		sb.WriteString(excerpt)
		sb.WriteString("\n")
	}
	return sb.String()
}
