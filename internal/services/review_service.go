// Package services – ReviewService
//
// ReviewService governs star ratings. A user may review a book once; the
// book's average rating and review count are recomputed in the same
// transaction as every review write.
package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/utils"
)

// ReviewService implements review use-cases.
type ReviewService struct {
	DB *gorm.DB
}

// List returns a page of reviews for an existing book.
func (s *ReviewService) List(ctx context.Context, bookID string, page, limit int) ([]domain.Review, int64, error) {
	if _, err := repo.GetBook(ctx, s.DB, bookID); err != nil {
		return nil, 0, dbErr(err, "Book")
	}
	page, limit = utils.ClampPage(page, limit)
	out, total, err := repo.ListReviews(ctx, s.DB, bookID, utils.Offset(page, limit), limit)
	if err != nil {
		return nil, 0, dbErr(err, "Review")
	}
	return out, total, nil
}

// Create records userID's review of bookID.
func (s *ReviewService) Create(ctx context.Context, userID, bookID string, rating int, comment string) (*domain.Review, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("book.id", bookID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	r := &domain.Review{
		ID:      uuid.NewString(),
		UserID:  userID,
		BookID:  bookID,
		Rating:  rating,
		Comment: strings.TrimSpace(comment),
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetBook(ctx, tx, bookID); err != nil {
			return dbErr(err, "Book")
		}
		if err := repo.CreateReview(ctx, tx, r); err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.Conflict("You have already reviewed this book").WithCause(ErrDuplicateReview)
			}
			return dbErr(err, "Review")
		}
		return repo.RecomputeBookRating(ctx, tx, bookID)
	})
	if err != nil {
		return nil, dbErr(err, "Review")
	}
	return r, nil
}

// Delete removes a review. Authors can delete their own; administrators and
// moderators can delete any.
func (s *ReviewService) Delete(ctx context.Context, p *domain.Principal, id string) error {
	if p == nil {
		return apperr.Authentication("")
	}
	return dbErr(s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := repo.GetReview(ctx, tx, id)
		if err != nil {
			return dbErr(err, "Review")
		}
		if r.UserID != p.ID && !p.IsStaff() {
			return apperr.Authorization("You can only delete your own reviews").WithCause(ErrNotOwner)
		}
		if err := repo.DeleteReview(ctx, tx, id); err != nil {
			return dbErr(err, "Review")
		}
		return repo.RecomputeBookRating(ctx, tx, r.BookID)
	}), "Review")
}
