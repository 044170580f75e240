package chat

import (
	"sync"

	"readmate/pkg/ai"
	"readmate/pkg/store"
)

// Manager hands out one session per book. Sessions are created lazily and
// live for the process lifetime.
type Manager struct {
	store    store.Store
	streamer ai.ChatStreamer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a session manager over shared collaborators.
func NewManager(st store.Store, streamer ai.ChatStreamer) *Manager {
	return &Manager{
		store:    st,
		streamer: streamer,
		sessions: make(map[string]*Session),
	}
}

// Session returns the session for a book, creating it on first use.
func (m *Manager) Session(bookID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[bookID]; ok {
		return s
	}
	s := NewSession(bookID, m.store, m.streamer)
	m.sessions[bookID] = s
	return s
}

// Drop cancels and forgets the session for a book, e.g. when the book is
// deleted.
func (m *Manager) Drop(bookID string) {
	m.mu.Lock()
	s := m.sessions[bookID]
	delete(m.sessions, bookID)
	m.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}
