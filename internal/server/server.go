package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"readmate/internal/ratelimit"
	"readmate/internal/token"
	"readmate/internal/util"
	"readmate/pkg/auth"
	"readmate/pkg/catalog"
	"readmate/pkg/chat"
	"readmate/pkg/domain"
	"readmate/pkg/events"
	"readmate/pkg/queue"
	"readmate/pkg/secrets"
	"readmate/pkg/storage"
	"readmate/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store              store.Store
	Sessions           *chat.Manager
	Catalog            *catalog.Client
	Source             storage.SourceStore
	Queue              *queue.RedisJobQueue
	Secrets            secrets.Store
	Events             *events.Publisher
	Tokens             *token.Manager
	Limiter            *ratelimit.FixedWindowLimiter
	AccessPasswordHash string
	MaxUploadBytes     int64
}

// Server exposes the reading-companion HTTP API.
type Server struct {
	store          store.Store
	sessions       *chat.Manager
	catalog        *catalog.Client
	source         storage.SourceStore
	queue          *queue.RedisJobQueue
	secrets        secrets.Store
	events         *events.Publisher
	tokens         *token.Manager
	limiter        *ratelimit.FixedWindowLimiter
	passwordHash   string
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		store:          cfg.Store,
		sessions:       cfg.Sessions,
		catalog:        cfg.Catalog,
		source:         cfg.Source,
		queue:          cfg.Queue,
		secrets:        cfg.Secrets,
		events:         cfg.Events,
		tokens:         cfg.Tokens,
		limiter:        cfg.Limiter,
		passwordHash:   cfg.AccessPasswordHash,
		maxUploadBytes: maxUploadBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/session", s.handleSession)

	s.mux.Handle("/books", s.withReader(s.handleBooks))
	s.mux.Handle("/books/", s.withReader(s.handleBookByID))
	s.mux.Handle("/jobs/", s.withReader(s.handleJobByID))
	s.mux.Handle("/settings/api-key", s.withReader(s.handleAPIKey))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSession exchanges the access password for a session token.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !auth.CheckPassword(req.Password, s.passwordHash) {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	tok, err := s.tokens.Issue("reader")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) withReader(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := token.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.tokens.Verify(tok); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListBooks(w)
	case http.MethodPost:
		s.handleCreateBook(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListBooks(w http.ResponseWriter) {
	books, err := s.store.ListBooks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if books == nil {
		books = []domain.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

type createBookRequest struct {
	Title      string   `json:"title"`
	Author     string   `json:"author"`
	ISBN       string   `json:"isbn"`
	Summary    string   `json:"summary"`
	TotalPages int      `json:"totalPages"`
	Chapters   []string `json:"chapters"`
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TotalPages < 0 {
		writeError(w, http.StatusBadRequest, "totalPages must not be negative")
		return
	}

	now := time.Now().UTC()
	book := domain.Book{
		ID:         util.NewID(),
		Title:      strings.TrimSpace(req.Title),
		Author:     strings.TrimSpace(req.Author),
		ISBN:       strings.TrimSpace(req.ISBN),
		Summary:    strings.TrimSpace(req.Summary),
		TotalPages: req.TotalPages,
		Chapters:   req.Chapters,
		Status:     domain.StatusReady,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// An ISBN-only request is filled in from the catalog.
	if book.ISBN != "" && book.Title == "" && s.catalog != nil {
		entry, found, err := s.catalog.LookupISBN(r.Context(), book.ISBN)
		if err != nil {
			writeCatalogError(w, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "no catalog record for isbn")
			return
		}
		book.Title = entry.Title
		book.Author = entry.Author
		book.CoverImageURL = entry.CoverImageURL
		if book.Summary == "" {
			book.Summary = entry.Description
		}
		if book.TotalPages == 0 {
			book.TotalPages = entry.NumberOfPages
		}
		if len(book.Chapters) == 0 {
			book.Chapters = entry.Chapters
		}
	}
	if book.Title == "" {
		writeError(w, http.StatusBadRequest, "title or isbn is required")
		return
	}
	if err := s.store.SaveBook(book); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// /books/{id} plus /books/{id}/position, /books/{id}/source,
// /books/{id}/messages, /books/{id}/chat
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "position":
			s.handlePosition(w, r, id)
		case "source":
			s.handleUploadSource(w, r, id)
		case "messages":
			s.handleMessages(w, r, id)
		case "chat":
			s.handleChat(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		book, ok, err := s.store.GetBook(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			notFound(w, "book not found")
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		s.sessions.Drop(id)
		if err := s.store.DeleteBook(id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type positionRequest struct {
	CurrentPage    int    `json:"currentPage"`
	CurrentChapter string `json:"currentChapter"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req positionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CurrentPage < 0 {
		writeError(w, http.StatusBadRequest, "currentPage must not be negative")
		return
	}
	if _, ok, err := s.store.GetBook(id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if !ok {
		notFound(w, "book not found")
		return
	}
	if err := s.store.SetPosition(id, req.CurrentPage, strings.TrimSpace(req.CurrentChapter)); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	book, _, err := s.store.GetBook(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleUploadSource(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.source == nil || s.queue == nil {
		writeError(w, http.StatusInternalServerError, "ingestion not configured")
		return
	}
	if _, ok, err := s.store.GetBook(id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if !ok {
		notFound(w, "book not found")
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	key := id + "/" + safeFilename(header.Filename)
	contentType := header.Header.Get("Content-Type")
	if err := s.source.Put(r.Context(), key, file, header.Size, contentType); err != nil {
		writeError(w, http.StatusInternalServerError, "store upload")
		return
	}
	if err := s.store.SetStatus(id, domain.StatusQueued, ""); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	job, err := s.queue.Enqueue(r.Context(), id, header.Filename, key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue ingest job")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.queue == nil {
		writeError(w, http.StatusInternalServerError, "ingestion not configured")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	job, found, err := s.queue.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		notFound(w, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok, err := s.store.GetBook(id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if !ok {
		notFound(w, "book not found")
		return
	}
	conversation, err := s.store.EnsureConversation(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	msgs, err := s.store.ListConversationMessages(conversation.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type chatRequest struct {
	Message string `json:"message"`
}

// handleChat runs one chat turn and relays increments as SSE. DELETE
// aborts the in-flight turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodDelete:
		s.sessions.Session(id).Cancel()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	case http.MethodPost:
	default:
		methodNotAllowed(w)
		return
	}

	if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many chat turns, slow down")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	session := s.sessions.Session(id)
	reply, err := session.Submit(r.Context(), req.Message, func(delta string) {
		writeSSE(w, "delta", map[string]string{"content": delta})
		flusher.Flush()
	})
	if err != nil {
		writeSSE(w, "error", map[string]string{"error": userFacingChatError(err)})
		flusher.Flush()
		return
	}
	writeSSE(w, "done", reply)
	flusher.Flush()

	if pubErr := s.events.TurnCompleted(r.Context(), events.TurnCompleted{
		BookID:         id,
		ConversationID: reply.ConversationID,
		MessageID:      reply.ID,
		At:             time.Now().UTC(),
	}); pubErr != nil {
		slog.Warn("publish turn.completed failed", "error", pubErr)
	}
}

// userFacingChatError keeps sentinel messages readable without leaking
// wrapped internals verbatim.
func userFacingChatError(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, chat.ErrTurnInFlight):
		return "a reply is already being written"
	case errors.Is(err, chat.ErrBookNotFound):
		return "book not found"
	case errors.Is(err, context.Canceled):
		return "reply cancelled"
	default:
		return err.Error()
	}
}

// handleAPIKey manages the chat provider credential in the secret store.
func (s *Server) handleAPIKey(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		writeError(w, http.StatusInternalServerError, "secret store not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		_, found, err := s.secrets.Get(r.Context(), secrets.APIKeyName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"configured": found})
	case http.MethodPut:
		var req struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Value) == "" {
			writeError(w, http.StatusBadRequest, "value is required")
			return
		}
		if err := s.secrets.Save(r.Context(), secrets.APIKeyName, req.Value); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	case http.MethodDelete:
		if err := s.secrets.Delete(r.Context(), secrets.APIKeyName); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSSE(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeCatalogError(w http.ResponseWriter, err error) {
	var apiErr *catalog.APIError
	if errors.As(err, &apiErr) {
		writeError(w, http.StatusBadGateway, apiErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, "catalog unavailable")
}

func safeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "book"
	}
	return name
}
