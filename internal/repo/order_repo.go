package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
)

// OrderFilter narrows ListOrders. An empty UserID lists every user's orders.
type OrderFilter struct {
	UserID string
	Status string
	Offset int
	Limit  int
}

func (f OrderFilter) scope(tx *gorm.DB) *gorm.DB {
	if f.UserID != "" {
		tx = tx.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		tx = tx.Where("status = ?", f.Status)
	}
	return tx
}

// CreateOrder inserts o together with its items.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	return db.WithContext(ctx).Omit("Items.Book").Create(o).Error
}

// GetOrder fetches an order with items and their books (including soft-deleted books).
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at, id") }).
		Preload("Items.Book", func(tx *gorm.DB) *gorm.DB { return tx.Unscoped() }).
		First(&o, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders returns one page of orders, newest first, and the exact total.
func ListOrders(ctx context.Context, db *gorm.DB, f OrderFilter) ([]domain.Order, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Order{}).Scopes(f.scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Order, 0, f.Limit)
	if total == 0 {
		return out, 0, nil
	}
	err := db.WithContext(ctx).
		Scopes(f.scope).
		Preload("Items").
		Order("created_at DESC, id DESC").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&out).Error
	return out, total, err
}

// TransitionOrder moves an order to status `to` only when its current status
// is one of `from`. It returns ErrNotFound when no row matched.
func TransitionOrder(ctx context.Context, db *gorm.DB, id string, from []string, to string) error {
	res := db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HasPurchased reports whether userID has a confirmed or delivered order containing bookID.
func HasPurchased(ctx context.Context, db *gorm.DB, userID, bookID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Table("order_items AS oi").
		Joins("JOIN orders o ON o.id = oi.order_id").
		Where("o.user_id = ? AND oi.book_id = ? AND o.status IN ?", userID, bookID, []string{domain.OrderConfirmed, domain.OrderDelivered}).
		Count(&n).Error
	return n > 0, err
}
