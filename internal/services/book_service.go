// Package services – BookService
//
// BookService covers the catalog: listing with filters, reads, admin writes,
// and the PDF file attached to a book. PDF reads are restricted to buyers
// (a confirmed or delivered order containing the book) and administrators.
package services

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/storage"
	"github.com/tbourn/bookshelvz-backend/internal/utils"
)

// BookInput is the full set of writable book fields.
type BookInput struct {
	Title         string
	Author        string
	Description   string
	ISBN          *string
	Price         int64
	Currency      string
	Stock         int
	Genre         string
	Language      string
	CoverURL      string
	PageCount     int
	PublishedYear *int
	Featured      bool
	CategoryIDs   []string
}

// BookPatch holds the fields of a partial update; nil means unchanged.
type BookPatch struct {
	Title         *string
	Author        *string
	Description   *string
	ISBN          *string
	Price         *int64
	Currency      *string
	Stock         *int
	Genre         *string
	Language      *string
	CoverURL      *string
	PageCount     *int
	PublishedYear *int
	Featured      *bool
	CategoryIDs   *[]string
}

func (p BookPatch) updates() map[string]any {
	m := map[string]any{}
	if p.Title != nil {
		m["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Author != nil {
		m["author"] = strings.TrimSpace(*p.Author)
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	if p.ISBN != nil {
		var isbn *string
		if v := strings.TrimSpace(*p.ISBN); v != "" {
			isbn = &v
		}
		m["isbn"] = isbn
	}
	if p.Price != nil {
		m["price"] = *p.Price
	}
	if p.Currency != nil {
		m["currency"] = strings.ToUpper(*p.Currency)
	}
	if p.Stock != nil {
		m["stock"] = *p.Stock
	}
	if p.Genre != nil {
		m["genre"] = *p.Genre
	}
	if p.Language != nil {
		m["language"] = *p.Language
	}
	if p.CoverURL != nil {
		m["cover_url"] = *p.CoverURL
	}
	if p.PageCount != nil {
		m["page_count"] = *p.PageCount
	}
	if p.PublishedYear != nil {
		m["published_year"] = *p.PublishedYear
	}
	if p.Featured != nil {
		m["featured"] = *p.Featured
	}
	return m
}

const defaultMaxPDFBytes = 50 << 20

// BookService implements catalog use-cases.
type BookService struct {
	DB          *gorm.DB
	Bucket      storage.Bucket
	MaxPDFBytes int64
}

// List returns one page of books and the exact number of matches.
func (s *BookService) List(ctx context.Context, f repo.BookFilter, page, limit int) ([]domain.Book, int64, error) {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	page, limit = utils.ClampPage(page, limit)
	f.Offset, f.Limit = utils.Offset(page, limit), limit
	items, total, err := repo.ListBooks(ctx, s.DB, f)
	if err != nil {
		return nil, 0, dbErr(err, "Book")
	}
	return items, total, nil
}

// Get returns a book with its categories.
func (s *BookService) Get(ctx context.Context, id string) (*domain.Book, error) {
	b, err := repo.GetBook(ctx, s.DB, id)
	if err != nil {
		return nil, dbErr(err, "Book")
	}
	return b, nil
}

// Create inserts a new book. Unknown category ids are a 400.
func (s *BookService) Create(ctx context.Context, in BookInput) (*domain.Book, error) {
	b := &domain.Book{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(in.Title),
		Author:        strings.TrimSpace(in.Author),
		Description:   in.Description,
		Price:         in.Price,
		Currency:      strings.ToUpper(orDefault(in.Currency, "USD")),
		Stock:         in.Stock,
		Genre:         in.Genre,
		Language:      orDefault(in.Language, "en"),
		CoverURL:      in.CoverURL,
		PageCount:     in.PageCount,
		PublishedYear: in.PublishedYear,
		Featured:      in.Featured,
	}
	if in.ISBN != nil {
		if v := strings.TrimSpace(*in.ISBN); v != "" {
			b.ISBN = &v
		}
	}
	if err := repo.CreateBook(ctx, s.DB, b, in.CategoryIDs); err != nil {
		return nil, categoryAware(err, "Book")
	}
	return s.Get(ctx, b.ID)
}

// Update applies a partial update.
func (s *BookService) Update(ctx context.Context, id string, p BookPatch) (*domain.Book, error) {
	b, err := repo.UpdateBook(ctx, s.DB, id, p.updates(), p.CategoryIDs)
	if err != nil {
		return nil, categoryAware(err, "Book")
	}
	return b, nil
}

// Delete soft-deletes a book so past orders keep their line items.
func (s *BookService) Delete(ctx context.Context, id string) error {
	if err := repo.DeleteBook(ctx, s.DB, id); err != nil {
		return dbErr(err, "Book")
	}
	return nil
}

// UploadPDF validates and stores the book's PDF, replacing any previous file.
func (s *BookService) UploadPDF(ctx context.Context, id string, r io.Reader, size int64) (*domain.Book, error) {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "UploadPDF", trace.WithAttributes(attribute.String("book.id", id)))
	defer span.End()

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	limit := s.MaxPDFBytes
	if limit <= 0 {
		limit = defaultMaxPDFBytes
	}
	if size > limit {
		return nil, apperr.PayloadTooLarge("File exceeds the maximum PDF size").WithCause(storage.ErrTooLarge)
	}
	body, err := storage.CheckPDF(r, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	key := storage.PDFKey(id)
	if err := s.Bucket.Put(ctx, key, body, size, "application/pdf"); err != nil {
		span.RecordError(err)
		return nil, storageErr(err)
	}
	if err := repo.SetBookPDF(ctx, s.DB, id, key); err != nil {
		return nil, dbErr(err, "Book")
	}
	return s.Get(ctx, id)
}

// OpenPDF opens the book's PDF for p. Administrators can read every file;
// everyone else needs a confirmed or delivered order for the book.
func (s *BookService) OpenPDF(ctx context.Context, p *domain.Principal, id string) (*storage.Object, *domain.Book, error) {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "OpenPDF", trace.WithAttributes(attribute.String("book.id", id)))
	defer span.End()

	if p == nil {
		return nil, nil, apperr.Authentication("")
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !b.HasPDF || b.PDFKey == "" {
		return nil, nil, apperr.NotFound("PDF").WithCause(ErrNoPDF)
	}
	if !p.HasRole(domain.RoleAdmin) {
		ok, err := repo.HasPurchased(ctx, s.DB, p.ID, id)
		if err != nil {
			return nil, nil, dbErr(err, "Order")
		}
		if !ok {
			return nil, nil, apperr.Authorization("Purchase this book to read it").WithCause(ErrNotPurchased)
		}
	}
	obj, err := s.Bucket.Open(ctx, b.PDFKey)
	if err != nil {
		return nil, nil, storageErr(err)
	}
	return obj, b, nil
}

// categoryAware reports unknown categories with a clearer message than the
// generic foreign key text.
func categoryAware(err error, resource string) error {
	if apperr.IsForeignKeyViolation(err) {
		return apperr.BadRequest("One or more categories do not exist").WithCause(err)
	}
	return dbErr(err, resource)
}

func storageErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotPDF):
		return apperr.BadRequest("File must be a PDF").WithCause(err)
	case errors.Is(err, storage.ErrTooLarge):
		return apperr.PayloadTooLarge("File exceeds the maximum PDF size").WithCause(err)
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("PDF").WithCause(err)
	case errors.Is(err, storage.ErrInvalidKey):
		return apperr.BadRequest("Invalid file key").WithCause(err)
	default:
		return apperr.Wrap(err)
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
