package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
)

// ListReviews returns a page of reviews for a book, newest first.
func ListReviews(ctx context.Context, db *gorm.DB, bookID string, offset, limit int) ([]domain.Review, int64, error) {
	var total int64
	q := func(tx *gorm.DB) *gorm.DB { return tx.Where("book_id = ?", bookID) }
	if err := db.WithContext(ctx).Model(&domain.Review{}).Scopes(q).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Review, 0, limit)
	if total == 0 {
		return out, 0, nil
	}
	err := db.WithContext(ctx).Scopes(q).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, total, err
}

// GetReview fetches a review by id.
func GetReview(ctx context.Context, db *gorm.DB, id string) (*domain.Review, error) {
	var r domain.Review
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReview inserts r.
func CreateReview(ctx context.Context, db *gorm.DB, r *domain.Review) error {
	return db.WithContext(ctx).Omit("Book").Create(r).Error
}

// DeleteReview removes a review by id.
func DeleteReview(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Review{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecomputeBookRating refreshes the denormalized rating columns of a book.
func RecomputeBookRating(ctx context.Context, db *gorm.DB, bookID string) error {
	var agg struct {
		Avg   float64
		Count int
	}
	if err := db.WithContext(ctx).Model(&domain.Review{}).
		Select("COALESCE(AVG(rating), 0) AS avg, COUNT(*) AS count").
		Where("book_id = ?", bookID).
		Scan(&agg).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Unscoped().Model(&domain.Book{}).Where("id = ?", bookID).
		UpdateColumns(map[string]any{"average_rating": agg.Avg, "review_count": agg.Count}).Error
}
