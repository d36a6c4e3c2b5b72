package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"smilecert/internal/models"
)

type UserRepository struct {
	db *gorm.DB
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	u.Email = models.NormalizeEmail(u.Email)
	return r.db.WithContext(ctx).Create(u).Error
}

// FindOrCreate returns the user for email, provisioning one with the given
// role on first sight. The bool reports whether a row was created.
func (r *UserRepository) FindOrCreate(ctx context.Context, email string, role models.Role) (*models.User, bool, error) {
	email = models.NormalizeEmail(email)
	u, err := r.FindByEmail(ctx, email)
	if err == nil {
		return u, false, nil
	}
	if err != ErrNotFound {
		return nil, false, err
	}

	u = &models.User{Email: email, Name: models.EmailLocalPart(email), Role: role}
	if err := r.Create(ctx, u); err != nil {
		// Lost a race with a concurrent sign-in for the same email.
		if existing, findErr := r.FindByEmail(ctx, email); findErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return u, true, nil
}

// UpsertProfile creates the user for email or refreshes its non-empty names.
func (r *UserRepository) UpsertProfile(ctx context.Context, email, firstName, lastName string) (*models.User, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	name := strings.TrimSpace(firstName + " " + lastName)

	u, err := r.FindByEmail(ctx, email)
	switch {
	case err == ErrNotFound:
		u = &models.User{
			Email:     email,
			FirstName: firstName,
			LastName:  lastName,
			Name:      name,
			Role:      models.RoleUser,
		}
		if err := r.Create(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	case err != nil:
		return nil, err
	}

	// Blank names leave the stored ones alone.
	if firstName == "" {
		firstName = u.FirstName
	}
	if lastName == "" {
		lastName = u.LastName
	}
	if firstName == u.FirstName && lastName == u.LastName {
		return u, nil
	}
	name = strings.TrimSpace(firstName + " " + lastName)
	updates := map[string]any{"first_name": firstName, "last_name": lastName, "name": name}
	if err := r.db.WithContext(ctx).Model(u).Updates(updates).Error; err != nil {
		return nil, err
	}
	u.FirstName, u.LastName, u.Name = firstName, lastName, name
	return u, nil
}

func (r *UserRepository) SetRole(ctx context.Context, id string, role models.Role) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
