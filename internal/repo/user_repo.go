package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
)

// GetProfile fetches a user profile by id.
func GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile inserts p.
func CreateProfile(ctx context.Context, db *gorm.DB, p *domain.UserProfile) error {
	return db.WithContext(ctx).Create(p).Error
}

// UpdateProfile applies column updates and returns the fresh row.
func UpdateProfile(ctx context.Context, db *gorm.DB, id string, updates map[string]any) (*domain.UserProfile, error) {
	res := db.WithContext(ctx).Model(&domain.UserProfile{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetProfile(ctx, db, id)
}

// GetCredentialByEmail looks up sign-in credentials by normalized email.
func GetCredentialByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Credential, error) {
	var c domain.Credential
	if err := db.WithContext(ctx).First(&c, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCredential inserts c.
func CreateCredential(ctx context.Context, db *gorm.DB, c *domain.Credential) error {
	return db.WithContext(ctx).Create(c).Error
}
