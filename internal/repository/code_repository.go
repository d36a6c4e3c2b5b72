package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"smilecert/internal/models"
)

type CodeRepository struct {
	db *gorm.DB
}

func (r *CodeRepository) Create(ctx context.Context, c *models.VerificationCode) error {
	c.Email = models.NormalizeEmail(c.Email)
	return r.db.WithContext(ctx).Create(c).Error
}

// FindActive lists codes for email that have not expired at now, newest first.
func (r *CodeRepository) FindActive(ctx context.Context, email string, now time.Time) ([]models.VerificationCode, error) {
	var codes []models.VerificationCode
	err := r.db.WithContext(ctx).
		Where("email = ? AND expires_at > ?", models.NormalizeEmail(email), now).
		Order("created_at DESC").
		Find(&codes).Error
	return codes, err
}

// Consume deletes an unexpired code. A second consumer of the same code
// gets ErrNotFound.
func (r *CodeRepository) Consume(ctx context.Context, id string, now time.Time) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, now).
		Delete(&models.VerificationCode{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.VerificationCode{})
	return res.RowsAffected, res.Error
}
