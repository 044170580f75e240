package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	ID              string `gorm:"primaryKey"`
	Title           string `gorm:"not null"`
	Author          string
	ISBN            string
	CoverImageURL   string
	Summary         string `gorm:"type:text"`
	CurrentPage     int    `gorm:"not null"`
	TotalPages      int
	CurrentChapter  string
	Chapters        datatypes.JSON `gorm:"type:jsonb"`
	FullText        string         `gorm:"type:text"`
	ReadingProgress float64
	StorageKey      string
	Status          string `gorm:"not null"`
	ErrorMessage    string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type ConversationModel struct {
	ID        string    `gorm:"primaryKey"`
	BookID    string    `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"not null;index"`
	BookID         string `gorm:"not null;index"`
	Role           string `gorm:"not null"`
	Content        string `gorm:"type:text;not null"`
	IsStreaming    bool   `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}
