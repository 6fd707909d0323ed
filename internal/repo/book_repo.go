// Package repo implements the data persistence layer for domain entities,
// backed by GORM.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Missing rows surface as ErrNotFound;
// other driver errors are propagated unchanged for apperr.FromDB to classify.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/bookshelvz-backend/internal/domain"
)

// ErrInsufficientStock is returned when a conditional stock decrement matches no row.
var ErrInsufficientStock = errors.New("insufficient stock")

// BookFilter narrows ListBooks. Zero values mean "no filter".
type BookFilter struct {
	Search   string
	Category string // category id or slug
	Author   string
	Genre    string
	MinPrice *int64
	MaxPrice *int64
	Featured *bool
	InStock  bool
	Sort     string // title|author|price|created_at|average_rating
	Desc     bool
	Offset   int
	Limit    int
}

var bookSortColumns = map[string]string{
	"title":          "title",
	"author":         "author",
	"price":          "price",
	"created_at":     "created_at",
	"average_rating": "average_rating",
	"stock":          "stock",
}

// likePattern escapes LIKE wildcards and wraps s for a contains match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func (f BookFilter) scope(tx *gorm.DB) *gorm.DB {
	if s := strings.TrimSpace(f.Search); s != "" {
		p := likePattern(s)
		tx = tx.Where(`LOWER(books.title) LIKE ? ESCAPE '\' OR LOWER(books.author) LIKE ? ESCAPE '\' OR LOWER(books.description) LIKE ? ESCAPE '\'`, p, p, p)
	}
	if a := strings.TrimSpace(f.Author); a != "" {
		tx = tx.Where(`LOWER(books.author) LIKE ? ESCAPE '\'`, likePattern(a))
	}
	if g := strings.TrimSpace(f.Genre); g != "" {
		tx = tx.Where("LOWER(books.genre) = ?", strings.ToLower(g))
	}
	if c := strings.TrimSpace(f.Category); c != "" {
		tx = tx.Where(`books.id IN (SELECT bc.book_id FROM book_categories bc JOIN categories c ON c.id = bc.category_id WHERE c.id = ? OR c.slug = ?)`, c, strings.ToLower(c))
	}
	if f.MinPrice != nil {
		tx = tx.Where("books.price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		tx = tx.Where("books.price <= ?", *f.MaxPrice)
	}
	if f.Featured != nil {
		tx = tx.Where("books.featured = ?", *f.Featured)
	}
	if f.InStock {
		tx = tx.Where("books.stock > 0")
	}
	return tx
}

// ListBooks returns one page of books matching f and the exact total.
func ListBooks(ctx context.Context, db *gorm.DB, f BookFilter) ([]domain.Book, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Book{}).Scopes(f.scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Book, 0, f.Limit)
	if total == 0 {
		return out, 0, nil
	}
	col, ok := bookSortColumns[f.Sort]
	if !ok {
		col = "created_at"
	}
	err := db.WithContext(ctx).
		Scopes(f.scope).
		Preload("Categories").
		Order(clause.OrderByColumn{Column: clause.Column{Table: "books", Name: col}, Desc: f.Desc}).
		Order("books.id").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&out).Error
	return out, total, err
}

// GetBook fetches a book with its categories.
func GetBook(ctx context.Context, db *gorm.DB, id string) (*domain.Book, error) {
	var b domain.Book
	if err := db.WithContext(ctx).Preload("Categories").First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBooksByIDs loads the given books keyed by id. On Postgres the rows are
// locked for the surrounding transaction.
func GetBooksByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.Book, error) {
	q := db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []domain.Book
	if err := q.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.Book, len(rows))
	for _, b := range rows {
		out[b.ID] = b
	}
	return out, nil
}

// CreateBook inserts b and links it to categoryIDs.
func CreateBook(ctx context.Context, db *gorm.DB, b *domain.Book, categoryIDs []string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Categories").Create(b).Error; err != nil {
			return err
		}
		return replaceCategories(tx, b, categoryIDs)
	})
}

// UpdateBook applies column updates and, when categoryIDs is non-nil,
// replaces the book's categories.
func UpdateBook(ctx context.Context, db *gorm.DB, id string, updates map[string]any, categoryIDs *[]string) (*domain.Book, error) {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Book
		if err := tx.First(&b, "id = ?", id).Error; err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := tx.Model(&b).Updates(updates).Error; err != nil {
				return err
			}
		}
		if categoryIDs != nil {
			return replaceCategories(tx, &b, *categoryIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GetBook(ctx, db, id)
}

func replaceCategories(tx *gorm.DB, b *domain.Book, ids []string) error {
	cats := make([]domain.Category, 0, len(ids))
	if len(ids) > 0 {
		if err := tx.Where("id IN ?", ids).Find(&cats).Error; err != nil {
			return err
		}
		if len(cats) != len(uniq(ids)) {
			return gorm.ErrForeignKeyViolated
		}
	}
	return tx.Model(b).Association("Categories").Replace(cats)
}

// DeleteBook soft-deletes a book.
func DeleteBook(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Book{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementStock subtracts qty when enough stock remains.
func DecrementStock(ctx context.Context, db *gorm.DB, id string, qty int) error {
	res := db.WithContext(ctx).Model(&domain.Book{}).
		Where("id = ? AND stock >= ?", id, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// IncrementStock returns qty units to stock (order cancellation).
func IncrementStock(ctx context.Context, db *gorm.DB, id string, qty int) error {
	return db.WithContext(ctx).Unscoped().Model(&domain.Book{}).
		Where("id = ?", id).
		UpdateColumn("stock", gorm.Expr("stock + ?", qty)).Error
}

// SetBookPDF records the object key of an uploaded PDF.
func SetBookPDF(ctx context.Context, db *gorm.DB, id, key string) error {
	res := db.WithContext(ctx).Model(&domain.Book{}).Where("id = ?", id).
		Updates(map[string]any{"pdf_key": key, "has_pdf": key != ""})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func uniq(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := ss[:0:0]
	for _, s := range ss {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
