package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"readmate/internal/util"
	"readmate/pkg/domain"
	"readmate/pkg/position"
)

const migrateLockID int64 = 48214821

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&BookModel{}, &ConversationModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM conversation_models c
				WHERE NOT EXISTS (SELECT 1 FROM book_models b WHERE b.id = c.book_id);
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM conversation_models c WHERE c.id = m.conversation_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'conversation_models'
					AND constraint_name = 'conversation_models_book_id_fkey'
				) THEN
					ALTER TABLE conversation_models
					ADD CONSTRAINT conversation_models_book_id_fkey
					FOREIGN KEY (book_id) REFERENCES book_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "author", "isbn", "cover_image_url", "summary",
			"current_page", "total_pages", "current_chapter", "chapters",
			"reading_progress", "storage_key", "status", "error_message", "updated_at",
		}),
	}).Create(&model).Error
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by created_at.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// DeleteBook removes the book and cascades its conversation and messages.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var conversations []ConversationModel
		if err := tx.Where("book_id = ?", id).Find(&conversations).Error; err != nil {
			return err
		}
		for _, c := range conversations {
			if err := tx.Delete(&MessageModel{}, "conversation_id = ?", c.ID).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&ConversationModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// SetPosition updates the reader's page and chapter and recomputes the
// derived reading progress from the stored page count.
func (s *GormStore) SetPosition(id string, currentPage int, currentChapter string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model BookModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		updates := map[string]any{
			"current_page":    currentPage,
			"current_chapter": currentChapter,
			"updated_at":      time.Now().UTC(),
		}
		if model.TotalPages > 0 {
			updates["reading_progress"] = position.Progress(currentPage, model.TotalPages)
		}
		return tx.Model(&BookModel{}).Where("id = ?", id).Updates(updates).Error
	})
}

// SetFullText stores the ingested book body and, when known, the page count.
func (s *GormStore) SetFullText(id string, fullText string, totalPages int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model BookModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		updates := map[string]any{
			"full_text":  fullText,
			"updated_at": time.Now().UTC(),
		}
		if totalPages > 0 {
			updates["total_pages"] = totalPages
			updates["reading_progress"] = position.Progress(model.CurrentPage, totalPages)
		}
		return tx.Model(&BookModel{}).Where("id = ?", id).Updates(updates).Error
	})
}

// SetStatus updates book ingestion status/error.
func (s *GormStore) SetStatus(id string, status domain.BookStatus, errMsg string) error {
	return s.db.Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// EnsureConversation returns the conversation for a book, creating one when
// none exists. The unique index on book_id keeps this one-per-book; the
// earliest record wins for data that predates the constraint.
func (s *GormStore) EnsureConversation(bookID string) (domain.Conversation, error) {
	var model ConversationModel
	err := s.db.Where("book_id = ?", bookID).Order("created_at ASC").First(&model).Error
	if err == nil {
		return conversationFromModel(model), nil
	}
	if err != gorm.ErrRecordNotFound {
		return domain.Conversation{}, err
	}
	now := time.Now().UTC()
	model = ConversationModel{
		ID:        util.NewID(),
		BookID:    bookID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversationFromModel(model), nil
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// AppendMessage records a message and advances the conversation's
// updated_at in the same transaction.
func (s *GormStore) AppendMessage(conversationID string, msg domain.Message) error {
	model := messageToModel(msg)
	model.ConversationID = conversationID
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&ConversationModel{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// UpdateMessageContent replaces the message body in place. Content and the
// streaming flag always change together so no reader observes a mix.
func (s *GormStore) UpdateMessageContent(id string, content string, isStreaming bool) error {
	return s.db.Model(&MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"content":      content,
			"is_streaming": isStreaming,
		}).Error
}

// DeleteMessage removes a message.
func (s *GormStore) DeleteMessage(id string) error {
	return s.db.Delete(&MessageModel{}, "id = ?", id).Error
}

// ListConversationMessages returns messages ordered by created_at; ties
// break on ID so the order is stable.
func (s *GormStore) ListConversationMessages(conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

func bookToModel(b domain.Book) BookModel {
	chapters, _ := json.Marshal(b.Chapters)
	return BookModel{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		CoverImageURL:   b.CoverImageURL,
		Summary:         b.Summary,
		CurrentPage:     b.CurrentPage,
		TotalPages:      b.TotalPages,
		CurrentChapter:  b.CurrentChapter,
		Chapters:        chapters,
		FullText:        b.FullText,
		ReadingProgress: b.ReadingProgress,
		StorageKey:      b.StorageKey,
		Status:          string(b.Status),
		ErrorMessage:    b.ErrorMessage,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	var chapters []string
	if len(m.Chapters) > 0 {
		_ = json.Unmarshal(m.Chapters, &chapters)
	}
	return domain.Book{
		ID:              m.ID,
		Title:           m.Title,
		Author:          m.Author,
		ISBN:            m.ISBN,
		CoverImageURL:   m.CoverImageURL,
		Summary:         m.Summary,
		CurrentPage:     m.CurrentPage,
		TotalPages:      m.TotalPages,
		CurrentChapter:  m.CurrentChapter,
		Chapters:        chapters,
		FullText:        m.FullText,
		ReadingProgress: m.ReadingProgress,
		StorageKey:      m.StorageKey,
		Status:          domain.BookStatus(m.Status),
		ErrorMessage:    m.ErrorMessage,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:        m.ID,
		BookID:    m.BookID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		BookID:         msg.BookID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		IsStreaming:    msg.IsStreaming,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		BookID:         m.BookID,
		Role:           domain.Role(m.Role),
		Content:        m.Content,
		IsStreaming:    m.IsStreaming,
		CreatedAt:      m.CreatedAt,
	}
}
