package repository

import (
	"context"

	"gorm.io/gorm"

	"smilecert/internal/models"
)

type FileRepository struct {
	db *gorm.DB
}

func (r *FileRepository) Create(ctx context.Context, f *models.File) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *FileRepository) FindByID(ctx context.Context, id string) (*models.File, error) {
	var f models.File
	if err := r.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.File{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InUse reports whether a certificate still references the file.
func (r *FileRepository) InUse(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("smile_photo_id = ? OR digital_copy_id = ?", id, id).
		Count(&n).Error
	return n > 0, err
}
