package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"readmate/pkg/domain"
	"readmate/pkg/queue"
	"readmate/pkg/storage"
	"readmate/pkg/store"
)

func newTestWorker(t *testing.T) (*Worker, *store.MemoryStore, *storage.FileStore) {
	t.Helper()
	st := store.NewMemoryStore()
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	now := time.Now().UTC()
	if err := st.SaveBook(domain.Book{
		ID:        "book-1",
		Title:     "Moby-Dick",
		Status:    domain.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("save book: %v", err)
	}
	return NewWorker(st, fs, nil, nil, 3), st, fs
}

func TestProcessExtractsAndMarksReady(t *testing.T) {
	w, st, fs := newTestWorker(t)
	ctx := context.Background()

	body := "Call me Ishmael. Some years ago."
	if err := fs.Put(ctx, "book-1/moby.txt", strings.NewReader(body), int64(len(body)), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}

	job := queue.Job{ID: "job-1", BookID: "book-1", Filename: "moby.txt", StorageKey: "book-1/moby.txt", Attempts: 1}
	if err := w.Process(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	book, ok, err := st.GetBook("book-1")
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if book.Status != domain.StatusReady {
		t.Fatalf("status = %q (%s)", book.Status, book.ErrorMessage)
	}
	if book.FullText != body {
		t.Fatalf("full text = %q", book.FullText)
	}
	if book.TotalPages != 1 {
		t.Fatalf("total pages = %d", book.TotalPages)
	}
}

func TestProcessMissingSourceRetries(t *testing.T) {
	w, st, _ := newTestWorker(t)
	ctx := context.Background()

	job := queue.Job{ID: "job-1", BookID: "book-1", Filename: "moby.txt", StorageKey: "book-1/moby.txt", Attempts: 1}
	if err := w.Process(ctx, job); err == nil {
		t.Fatalf("expected an error for a missing source")
	}

	// Retries remain, so the book is not yet marked failed.
	book, _, _ := st.GetBook("book-1")
	if book.Status == domain.StatusFailed {
		t.Fatalf("book failed before retries were exhausted")
	}
}

func TestProcessFinalAttemptMarksBookFailed(t *testing.T) {
	w, st, _ := newTestWorker(t)
	ctx := context.Background()

	job := queue.Job{ID: "job-1", BookID: "book-1", Filename: "moby.txt", StorageKey: "book-1/moby.txt", Attempts: 3}
	if err := w.Process(ctx, job); err == nil {
		t.Fatalf("expected an error for a missing source")
	}

	book, _, _ := st.GetBook("book-1")
	if book.Status != domain.StatusFailed {
		t.Fatalf("status = %q", book.Status)
	}
	if book.ErrorMessage == "" {
		t.Fatalf("expected an error message on the book")
	}
}
