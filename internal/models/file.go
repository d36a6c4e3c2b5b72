package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// File is an uploaded object. Rows are never updated; replacing an upload
// creates a new row.
type File struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Type      string    `json:"type"`
	Size      int64     `json:"size"`
	Link      string    `gorm:"not null" json:"link"`
	Key       string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (f *File) BeforeCreate(*gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
