// Review HTTP handlers.
//
//   - GET    /books/{id}/reviews  (paginated, cached)
//   - POST   /books/{id}/reviews  (one per user and book)
//   - DELETE /reviews/{id}        (author, moderator, or admin)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
)

// CreateReviewRequest is the JSON payload for a review.
type CreateReviewRequest struct {
	Rating  int    `json:"rating"  validate:"required,gte=1,lte=5" example:"5"`
	Comment string `json:"comment" validate:"max=2000"             example:"Could not put it down."`
}

// Normalize trims the comment.
func (r *CreateReviewRequest) Normalize() { r.Comment = strings.TrimSpace(r.Comment) }

// ListReviews godoc
// @ID          listReviews
// @Summary     List reviews of a book
// @Description Returns a page of reviews, newest first.
// @Tags        Reviews
// @Produce     json
//
// @Param       id     path   string  true   "Book ID (UUID)"  format(uuid)
// @Param       page   query  int     false  "Page number"     minimum(1) default(1)
// @Param       limit  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListResponse[domain.Review]
// @Failure     404  {object}  handlers.ErrorResponse  "Book not found"
// @Router      /books/{id}/reviews [get]
func (h *Handlers) ListReviews(c *gin.Context) {
	q := middleware.Query[PageQuery](c)
	items, total, err := h.reviews.List(c.Request.Context(), c.Param("id"), q.Page, q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, items, q.Page, q.Limit, total)
}

// CreateReview godoc
// @ID          createReview
// @Summary     Review a book
// @Description Adds the caller's review and refreshes the book's rating summary.
// @Tags        Reviews
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                        true  "Book ID (UUID)"  format(uuid)
// @Param       body  body  handlers.CreateReviewRequest  true  "Review"
//
// @Success     201  {object}  domain.Review
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Book not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already reviewed"
// @Router      /books/{id}/reviews [post]
func (h *Handlers) CreateReview(c *gin.Context) {
	req := middleware.Body[CreateReviewRequest](c)
	rv, err := h.reviews.Create(c.Request.Context(), principal(c).ID, c.Param("id"), req.Rating, req.Comment)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, rv)
}

// DeleteReview godoc
// @ID          deleteReview
// @Summary     Delete a review
// @Description Authors may delete their own reviews; moderators and admins any review.
// @Tags        Reviews
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Review ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the author"
// @Failure     404  {object}  handlers.ErrorResponse  "Review not found"
// @Router      /reviews/{id} [delete]
func (h *Handlers) DeleteReview(c *gin.Context) {
	if err := h.reviews.Delete(c.Request.Context(), principal(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	noContent(c)
}
