package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"readmate/pkg/booktext"
	"readmate/pkg/domain"
	"readmate/pkg/events"
	"readmate/pkg/queue"
	"readmate/pkg/storage"
	"readmate/pkg/store"
)

// Worker turns queued ingest jobs into stored book text. It downloads the
// uploaded source, extracts its text, and commits the result with the
// book's status.
type Worker struct {
	store       store.Store
	source      storage.SourceStore
	queue       *queue.RedisJobQueue
	events      *events.Publisher
	maxAttempts int
}

// NewWorker wires a worker. maxAttempts must match the queue's retry
// budget so the book is marked failed exactly when the job is.
func NewWorker(st store.Store, source storage.SourceStore, q *queue.RedisJobQueue, pub *events.Publisher, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{store: st, source: source, queue: q, events: pub, maxAttempts: maxAttempts}
}

// Run blocks on a bounded group of queue consumers until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := w.queue.ConsumerName(i)
		g.Go(func() error {
			w.queue.Consume(gctx, consumer, w.Process)
			return nil
		})
	}
	return g.Wait()
}

// Process handles one job. Returning an error makes the queue retry it;
// on the final attempt the book itself is marked failed.
func (w *Worker) Process(ctx context.Context, job queue.Job) error {
	log := slog.With("bookId", job.BookID, "jobId", job.ID, "attempt", job.Attempts)
	log.Info("ingesting book source", "storageKey", job.StorageKey)

	if err := w.store.SetStatus(job.BookID, domain.StatusProcessing, ""); err != nil {
		return w.fail(ctx, job, fmt.Errorf("mark processing: %w", err))
	}

	extraction, err := w.extract(ctx, job)
	if err != nil {
		return w.fail(ctx, job, err)
	}

	if err := w.store.SetFullText(job.BookID, extraction.Text, extraction.Pages); err != nil {
		return w.fail(ctx, job, fmt.Errorf("store full text: %w", err))
	}
	if err := w.store.SetStatus(job.BookID, domain.StatusReady, ""); err != nil {
		return w.fail(ctx, job, fmt.Errorf("mark ready: %w", err))
	}

	log.Info("book ingested", "pages", extraction.Pages)
	if err := w.events.BookIngested(ctx, events.BookIngested{
		BookID:     job.BookID,
		Status:     string(domain.StatusReady),
		TotalPages: extraction.Pages,
		At:         time.Now().UTC(),
	}); err != nil {
		log.Warn("publish book.ingested failed", "error", err)
	}
	return nil
}

// extract stages the source in a temp file because the pdf reader needs
// a seekable path, then runs text extraction.
func (w *Worker) extract(ctx context.Context, job queue.Job) (booktext.Extraction, error) {
	rc, err := w.source.Get(ctx, job.StorageKey)
	if err != nil {
		return booktext.Extraction{}, fmt.Errorf("fetch source: %w", err)
	}
	defer rc.Close()

	tmpDir, err := os.MkdirTemp("", "readmate-ingest-")
	if err != nil {
		return booktext.Extraction{}, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	filename := job.Filename
	if filename == "" {
		filename = filepath.Base(job.StorageKey)
	}
	tmpPath := filepath.Join(tmpDir, filepath.Base(filename))
	out, err := os.Create(tmpPath)
	if err != nil {
		return booktext.Extraction{}, fmt.Errorf("stage source: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return booktext.Extraction{}, fmt.Errorf("download source: %w", err)
	}
	if err := out.Close(); err != nil {
		return booktext.Extraction{}, fmt.Errorf("stage source: %w", err)
	}

	extraction, err := booktext.Extract(filename, tmpPath)
	if err != nil {
		return booktext.Extraction{}, fmt.Errorf("extract text: %w", err)
	}
	return extraction, nil
}

// fail records the terminal failure on the book when no retries remain,
// then returns the error so the queue can account for the attempt.
func (w *Worker) fail(ctx context.Context, job queue.Job, err error) error {
	if job.Attempts >= w.maxAttempts {
		if statusErr := w.store.SetStatus(job.BookID, domain.StatusFailed, err.Error()); statusErr != nil {
			slog.Error("mark book failed", "bookId", job.BookID, "error", statusErr)
		}
		if pubErr := w.events.BookIngested(ctx, events.BookIngested{
			BookID: job.BookID,
			Status: string(domain.StatusFailed),
			Error:  err.Error(),
			At:     time.Now().UTC(),
		}); pubErr != nil {
			slog.Warn("publish book.ingested failed", "error", pubErr)
		}
	}
	return err
}
