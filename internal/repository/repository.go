package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// Repository groups the per-entity repositories over one *gorm.DB, which is
// either the root connection or an open transaction.
type Repository struct {
	db *gorm.DB

	Users        *UserRepository
	Files        *FileRepository
	Certificates *CertificateRepository
	Codes        *CodeRepository
}

func New(db *gorm.DB) *Repository {
	return &Repository{
		db:           db,
		Users:        &UserRepository{db: db},
		Files:        &FileRepository{db: db},
		Certificates: &CertificateRepository{db: db},
		Codes:        &CodeRepository{db: db},
	}
}

// Transaction runs fn with a Repository bound to a single transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
