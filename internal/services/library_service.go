// Package services – LibraryService
//
// LibraryService manages a reader's personal data around books: bookmarks,
// reading progress, and the wishlist. Every operation is scoped to the
// calling user; another user's rows are reported as not found.
package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/utils"
)

// BookmarkInput is the writable part of a bookmark.
type BookmarkInput struct {
	BookID string
	Page   int
	Title  string
	Note   string
	Color  string
}

// BookmarkPatch is a partial bookmark update; nil means unchanged.
type BookmarkPatch struct {
	Page  *int
	Title *string
	Note  *string
	Color *string
}

// LibraryService implements bookmarks, reading progress, and wishlist.
type LibraryService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *LibraryService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ensureBook reports a missing book as 404 instead of a foreign key failure.
func (s *LibraryService) ensureBook(ctx context.Context, bookID string) (*domain.Book, error) {
	b, err := repo.GetBook(ctx, s.DB, bookID)
	if err != nil {
		return nil, dbErr(err, "Book")
	}
	return b, nil
}

// ---- bookmarks ----

// Bookmarks lists the user's bookmarks, optionally for one book.
func (s *LibraryService) Bookmarks(ctx context.Context, userID, bookID string, page, limit int) ([]domain.Bookmark, int64, error) {
	page, limit = utils.ClampPage(page, limit)
	out, total, err := repo.ListBookmarks(ctx, s.DB, userID, bookID, utils.Offset(page, limit), limit)
	if err != nil {
		return nil, 0, dbErr(err, "Bookmark")
	}
	return out, total, nil
}

// AddBookmark creates a bookmark on an existing book.
func (s *LibraryService) AddBookmark(ctx context.Context, userID string, in BookmarkInput) (*domain.Bookmark, error) {
	b, err := s.ensureBook(ctx, in.BookID)
	if err != nil {
		return nil, err
	}
	if b.PageCount > 0 && in.Page > b.PageCount {
		return nil, apperr.Validation([]apperr.FieldError{{Field: "page", Message: fmt.Sprintf("page must be at most %d", b.PageCount)}})
	}
	bm := &domain.Bookmark{
		ID:     uuid.NewString(),
		UserID: userID,
		BookID: in.BookID,
		Page:   in.Page,
		Title:  in.Title,
		Note:   in.Note,
		Color:  in.Color,
	}
	if err := repo.CreateBookmark(ctx, s.DB, bm); err != nil {
		return nil, dbErr(err, "Bookmark")
	}
	return bm, nil
}

// UpdateBookmark edits one of the user's bookmarks.
func (s *LibraryService) UpdateBookmark(ctx context.Context, userID, id string, p BookmarkPatch) (*domain.Bookmark, error) {
	updates := map[string]any{}
	if p.Page != nil {
		updates["page"] = *p.Page
	}
	if p.Title != nil {
		updates["title"] = *p.Title
	}
	if p.Note != nil {
		updates["note"] = *p.Note
	}
	if p.Color != nil {
		updates["color"] = *p.Color
	}
	if len(updates) == 0 {
		bm, err := repo.GetBookmark(ctx, s.DB, id, userID)
		if err != nil {
			return nil, dbErr(err, "Bookmark")
		}
		return bm, nil
	}
	bm, err := repo.UpdateBookmark(ctx, s.DB, id, userID, updates)
	if err != nil {
		return nil, dbErr(err, "Bookmark")
	}
	return bm, nil
}

// DeleteBookmark removes one of the user's bookmarks.
func (s *LibraryService) DeleteBookmark(ctx context.Context, userID, id string) error {
	if err := repo.DeleteBookmark(ctx, s.DB, id, userID); err != nil {
		return dbErr(err, "Bookmark")
	}
	return nil
}

// ---- reading progress ----

// Progress lists the user's reading progress, most recently read first.
func (s *LibraryService) Progress(ctx context.Context, userID string, page, limit int) ([]domain.ReadingProgress, int64, error) {
	page, limit = utils.ClampPage(page, limit)
	out, total, err := repo.ListProgress(ctx, s.DB, userID, utils.Offset(page, limit), limit)
	if err != nil {
		return nil, 0, dbErr(err, "Reading progress")
	}
	return out, total, nil
}

// BookProgress returns the user's progress in one book.
func (s *LibraryService) BookProgress(ctx context.Context, userID, bookID string) (*domain.ReadingProgress, error) {
	p, err := repo.GetProgress(ctx, s.DB, userID, bookID)
	if err != nil {
		return nil, dbErr(err, "Reading progress")
	}
	return p, nil
}

// SaveProgress records the current page. totalPages falls back to the
// book's page count; the percentage is derived, never client supplied.
func (s *LibraryService) SaveProgress(ctx context.Context, userID, bookID string, currentPage, totalPages int) (*domain.ReadingProgress, error) {
	b, err := s.ensureBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if totalPages <= 0 {
		totalPages = b.PageCount
	}
	if totalPages > 0 && currentPage > totalPages {
		return nil, apperr.Validation([]apperr.FieldError{{Field: "current_page", Message: "current_page must be at most total_pages"}})
	}
	p := &domain.ReadingProgress{
		ID:          uuid.NewString(),
		UserID:      userID,
		BookID:      bookID,
		CurrentPage: currentPage,
		TotalPages:  totalPages,
		Percentage:  Percentage(currentPage, totalPages),
		LastReadAt:  s.now(),
	}
	out, err := repo.UpsertProgress(ctx, s.DB, p)
	if err != nil {
		return nil, dbErr(err, "Reading progress")
	}
	return out, nil
}

// Percentage is current/total as a percentage rounded to two decimals and
// clamped to [0, 100]. An unknown total yields 0.
func Percentage(current, total int) float64 {
	if total <= 0 || current <= 0 {
		return 0
	}
	pct := float64(current) / float64(total) * 100
	return math.Min(100, math.Round(pct*100)/100)
}

// ---- wishlist ----

// Wishlist lists the user's saved books, newest first.
func (s *LibraryService) Wishlist(ctx context.Context, userID string, page, limit int) ([]domain.Wishlist, int64, error) {
	page, limit = utils.ClampPage(page, limit)
	out, total, err := repo.ListWishlist(ctx, s.DB, userID, utils.Offset(page, limit), limit)
	if err != nil {
		return nil, 0, dbErr(err, "Wishlist")
	}
	return out, total, nil
}

// AddToWishlist saves a book. Saving it twice is a 409.
func (s *LibraryService) AddToWishlist(ctx context.Context, userID, bookID string) (*domain.Wishlist, error) {
	b, err := s.ensureBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	w := &domain.Wishlist{ID: uuid.NewString(), UserID: userID, BookID: bookID, CreatedAt: s.now()}
	if err := repo.AddWishlist(ctx, s.DB, w); err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Book already in wishlist").WithCause(ErrAlreadyWishlisted)
		}
		return nil, dbErr(err, "Wishlist")
	}
	w.Book = b
	return w, nil
}

// RemoveFromWishlist deletes a saved book.
func (s *LibraryService) RemoveFromWishlist(ctx context.Context, userID, bookID string) error {
	if err := repo.RemoveWishlist(ctx, s.DB, userID, bookID); err != nil {
		return dbErr(err, "Wishlist item")
	}
	return nil
}
