package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
)

// ---- bookmarks ----

// ListBookmarks returns a page of the user's bookmarks, optionally for one book.
func ListBookmarks(ctx context.Context, db *gorm.DB, userID, bookID string, offset, limit int) ([]domain.Bookmark, int64, error) {
	scope := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Where("user_id = ?", userID)
		if bookID != "" {
			tx = tx.Where("book_id = ?", bookID)
		}
		return tx
	}
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Bookmark{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Bookmark, 0, limit)
	if total == 0 {
		return out, 0, nil
	}
	err := db.WithContext(ctx).Scopes(scope).
		Order("book_id, page, created_at").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, total, err
}

// GetBookmark fetches a bookmark owned by userID.
func GetBookmark(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Bookmark, error) {
	var b domain.Bookmark
	if err := db.WithContext(ctx).First(&b, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBookmark inserts b.
func CreateBookmark(ctx context.Context, db *gorm.DB, b *domain.Bookmark) error {
	return db.WithContext(ctx).Omit("Book").Create(b).Error
}

// UpdateBookmark applies updates to a bookmark owned by userID.
func UpdateBookmark(ctx context.Context, db *gorm.DB, id, userID string, updates map[string]any) (*domain.Bookmark, error) {
	res := db.WithContext(ctx).Model(&domain.Bookmark{}).Where("id = ? AND user_id = ?", id, userID).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetBookmark(ctx, db, id, userID)
}

// DeleteBookmark removes a bookmark owned by userID.
func DeleteBookmark(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Bookmark{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- reading progress ----

// ListProgress returns a page of the user's reading progress, most recent first.
func ListProgress(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ReadingProgress, int64, error) {
	var total int64
	q := func(tx *gorm.DB) *gorm.DB { return tx.Where("user_id = ?", userID) }
	if err := db.WithContext(ctx).Model(&domain.ReadingProgress{}).Scopes(q).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.ReadingProgress, 0, limit)
	if total == 0 {
		return out, 0, nil
	}
	err := db.WithContext(ctx).Scopes(q).Preload("Book").
		Order("last_read_at DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, total, err
}

// GetProgress fetches the user's progress for one book.
func GetProgress(ctx context.Context, db *gorm.DB, userID, bookID string) (*domain.ReadingProgress, error) {
	var p domain.ReadingProgress
	if err := db.WithContext(ctx).First(&p, "user_id = ? AND book_id = ?", userID, bookID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProgress inserts or updates the (user, book) progress row.
func UpsertProgress(ctx context.Context, db *gorm.DB, p *domain.ReadingProgress) (*domain.ReadingProgress, error) {
	p.UpdatedAt = time.Now().UTC()
	err := db.WithContext(ctx).Omit("Book").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_page", "total_pages", "percentage", "last_read_at", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return nil, err
	}
	return GetProgress(ctx, db, p.UserID, p.BookID)
}

// ---- wishlist ----

// ListWishlist returns a page of the user's wishlist with books, newest first.
func ListWishlist(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Wishlist, int64, error) {
	var total int64
	q := func(tx *gorm.DB) *gorm.DB { return tx.Where("user_id = ?", userID) }
	if err := db.WithContext(ctx).Model(&domain.Wishlist{}).Scopes(q).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Wishlist, 0, limit)
	if total == 0 {
		return out, 0, nil
	}
	err := db.WithContext(ctx).Scopes(q).Preload("Book").
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, total, err
}

// AddWishlist inserts w; a duplicate (user, book) is a unique violation.
func AddWishlist(ctx context.Context, db *gorm.DB, w *domain.Wishlist) error {
	return db.WithContext(ctx).Omit("Book").Create(w).Error
}

// RemoveWishlist deletes the (user, book) entry.
func RemoveWishlist(ctx context.Context, db *gorm.DB, userID, bookID string) error {
	res := db.WithContext(ctx).Where("user_id = ? AND book_id = ?", userID, bookID).Delete(&domain.Wishlist{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
