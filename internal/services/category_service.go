// Package services – CategoryService
package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/utils"
)

// CategoryService implements category reads and creation.
type CategoryService struct {
	DB *gorm.DB
	// Locale drives case folding for slugs and title casing for names.
	Locale language.Tag
}

// CategoryPage is a category with one page of its books.
type CategoryPage struct {
	domain.Category
	Books      []domain.Book    `json:"books"`
	Pagination utils.Pagination `json:"pagination"`
}

// List returns every category with its live book count.
func (s *CategoryService) List(ctx context.Context) ([]repo.CategoryWithCount, error) {
	out, err := repo.ListCategories(ctx, s.DB)
	if err != nil {
		return nil, dbErr(err, "Category")
	}
	return out, nil
}

// Get looks a category up by id or slug and loads one page of its books.
func (s *CategoryService) Get(ctx context.Context, idOrSlug string, page, limit int) (*CategoryPage, error) {
	c, err := repo.GetCategory(ctx, s.DB, idOrSlug)
	if err != nil {
		return nil, dbErr(err, "Category")
	}
	page, limit = utils.ClampPage(page, limit)
	books, total, err := repo.ListBooks(ctx, s.DB, repo.BookFilter{
		Category: c.ID,
		Sort:     "title",
		Offset:   utils.Offset(page, limit),
		Limit:    limit,
	})
	if err != nil {
		return nil, dbErr(err, "Book")
	}
	return &CategoryPage{Category: *c, Books: books, Pagination: utils.NewPagination(page, limit, total)}, nil
}

// Create inserts a category. The slug is derived from the name.
func (s *CategoryService) Create(ctx context.Context, name, description string) (*domain.Category, error) {
	name = whitespaceRE.ReplaceAllString(strings.TrimSpace(name), " ")
	if name == strings.ToLower(name) {
		name = cases.Title(s.Locale).String(name)
	}
	slug := s.Slug(name)
	if slug == "" {
		return nil, apperr.Validation([]apperr.FieldError{{Field: "name", Message: "name must contain letters or digits"}})
	}
	c := &domain.Category{ID: uuid.NewString(), Name: name, Slug: slug, Description: strings.TrimSpace(description)}
	if err := repo.CreateCategory(ctx, s.DB, c); err != nil {
		return nil, dbErr(err, "Category")
	}
	return c, nil
}

// Slug folds case and joins runs of letters and digits with dashes:
// "Science Fiction & Fantasy" becomes "science-fiction-fantasy".
func (s *CategoryService) Slug(name string) string {
	folded := cases.Fold().String(name)
	return strings.Trim(slugSepRE.ReplaceAllString(folded, "-"), "-")
}

var (
	// whitespaceRE collapses consecutive whitespace to a single space.
	whitespaceRE = regexp.MustCompile(`\s+`)
	slugSepRE    = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)
