package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
)

// CategoryWithCount is a category and the number of live books in it.
type CategoryWithCount struct {
	domain.Category
	BookCount int64 `json:"book_count"`
}

// ListCategories returns every category ordered by name with book counts.
func ListCategories(ctx context.Context, db *gorm.DB) ([]CategoryWithCount, error) {
	out := make([]CategoryWithCount, 0)
	err := db.WithContext(ctx).
		Model(&domain.Category{}).
		Select(`categories.*, (SELECT COUNT(*) FROM book_categories bc JOIN books b ON b.id = bc.book_id AND b.deleted_at IS NULL WHERE bc.category_id = categories.id) AS book_count`).
		Order("categories.name").
		Scan(&out).Error
	return out, err
}

// GetCategory looks a category up by id or slug.
func GetCategory(ctx context.Context, db *gorm.DB, idOrSlug string) (*domain.Category, error) {
	var c domain.Category
	if err := db.WithContext(ctx).Where("id = ? OR slug = ?", idOrSlug, idOrSlug).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCategory inserts c.
func CreateCategory(ctx context.Context, db *gorm.DB, c *domain.Category) error {
	return db.WithContext(ctx).Create(c).Error
}
