package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
)

// TopBook is a best-selling book by units on confirmed or delivered orders.
type TopBook struct {
	BookID string `json:"book_id"`
	Title  string `json:"title"`
	Sold   int64  `json:"sold"`
}

// Stats is the admin dashboard aggregate.
type Stats struct {
	Books         int64            `json:"books"`
	Categories    int64            `json:"categories"`
	Users         int64            `json:"users"`
	Reviews       int64            `json:"reviews"`
	Orders        int64            `json:"orders"`
	OrdersByState map[string]int64 `json:"orders_by_status"`
	Revenue       int64            `json:"revenue"`
	LowStock      int64            `json:"low_stock"`
	TopBooks      []TopBook        `json:"top_books"`
}

// LoadStats runs the aggregate queries behind GET /admin/stats.
func LoadStats(ctx context.Context, db *gorm.DB, lowStock int) (*Stats, error) {
	tx := db.WithContext(ctx)
	s := &Stats{OrdersByState: map[string]int64{}}

	counts := []struct {
		model any
		dst   *int64
	}{
		{&domain.Book{}, &s.Books},
		{&domain.Category{}, &s.Categories},
		{&domain.UserProfile{}, &s.Users},
		{&domain.Review{}, &s.Reviews},
		{&domain.Order{}, &s.Orders},
	}
	for _, c := range counts {
		if err := tx.Model(c.model).Count(c.dst).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Model(&domain.Book{}).Where("stock <= ?", lowStock).Count(&s.LowStock).Error; err != nil {
		return nil, err
	}

	var byState []struct {
		Status string
		N      int64
	}
	if err := tx.Model(&domain.Order{}).Select("status, COUNT(*) AS n").Group("status").Scan(&byState).Error; err != nil {
		return nil, err
	}
	for _, r := range byState {
		s.OrdersByState[r.Status] = r.N
	}

	paid := []string{domain.OrderConfirmed, domain.OrderDelivered}
	if err := tx.Model(&domain.Order{}).Select("COALESCE(SUM(total), 0)").Where("status IN ?", paid).Scan(&s.Revenue).Error; err != nil {
		return nil, err
	}

	s.TopBooks = make([]TopBook, 0, 5)
	if err := tx.Table("order_items AS oi").
		Select("oi.book_id AS book_id, b.title AS title, SUM(oi.quantity) AS sold").
		Joins("JOIN orders o ON o.id = oi.order_id").
		Joins("JOIN books b ON b.id = oi.book_id").
		Where("o.status IN ?", paid).
		Group("oi.book_id, b.title").
		Order("sold DESC").
		Limit(5).
		Scan(&s.TopBooks).Error; err != nil {
		return nil, err
	}
	return s, nil
}
