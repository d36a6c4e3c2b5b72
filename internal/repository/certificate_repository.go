package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smilecert/internal/models"
)

// searchColumns are matched case-insensitively by the admin listing.
var searchColumns = []string{
	"certificates.title",
	"certificates.doctor_first_name",
	"certificates.doctor_last_name",
	"certificates.technician_first_name",
	"certificates.technician_last_name",
	"certificates.clinic_name",
	"certificates.clinic_city",
	"users.first_name",
	"users.last_name",
	"users.name",
	"users.email",
}

type CertificateRepository struct {
	db *gorm.DB
}

func (r *CertificateRepository) withFiles(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("SmilePhoto").
		Preload("DigitalCopy").
		Preload("User")
}

func (r *CertificateRepository) Create(ctx context.Context, c *models.Certificate) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error
}

func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	var c models.Certificate
	if err := r.withFiles(ctx).First(&c, "certificates.id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// Save writes every column of c without touching associated rows.
func (r *CertificateRepository) Save(ctx context.Context, c *models.Certificate) error {
	res := r.db.WithContext(ctx).Omit(clause.Associations).Select("*").Updates(c)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CertificateRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.Certificate{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns certificates newest first, optionally filtered by a search
// term over certificate and owner fields.
func (r *CertificateRepository) List(ctx context.Context, search string, page PageRequest) (PageResult[models.Certificate], error) {
	page = normalizePageRequest(page)

	var (
		cond string
		args []any
	)
	if term := strings.ToLower(strings.TrimSpace(search)); term != "" {
		like := "%" + escapeLike(term) + "%"
		conds := make([]string, 0, len(searchColumns))
		for _, col := range searchColumns {
			conds = append(conds, "LOWER("+col+") LIKE ? ESCAPE '\\'")
			args = append(args, like)
		}
		cond = strings.Join(conds, " OR ")
	}
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&models.Certificate{}).
			Joins("LEFT JOIN users ON users.id = certificates.user_id")
		if cond != "" {
			q = q.Where(cond, args...)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return PageResult[models.Certificate]{}, err
	}

	items := make([]models.Certificate, 0, page.PageSize)
	err := base().Select("certificates.*").
		Preload("SmilePhoto").
		Preload("DigitalCopy").
		Preload("User").
		Order("certificates.created_at DESC").
		Offset(page.offset()).
		Limit(page.PageSize).
		Find(&items).Error
	if err != nil {
		return PageResult[models.Certificate]{}, err
	}

	return PageResult[models.Certificate]{
		Items:      items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      total,
		TotalPages: calcTotalPages(total, page.PageSize),
	}, nil
}

func (r *CertificateRepository) ListByUser(ctx context.Context, userID string) ([]models.Certificate, error) {
	var items []models.Certificate
	err := r.withFiles(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&items).Error
	return items, err
}

func (r *CertificateRepository) ListRecent(ctx context.Context, limit int) ([]models.Certificate, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	var items []models.Certificate
	err := r.withFiles(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
