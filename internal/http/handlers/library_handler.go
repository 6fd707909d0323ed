// Reading feature HTTP handlers. Every route is scoped to the caller.
//
//   - GET/POST   /bookmarks            PUT/DELETE /bookmarks/{id}
//   - GET        /reading-progress     GET/PUT    /reading-progress/{bookId}
//   - GET/POST   /wishlist             DELETE     /wishlist/{bookId}
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
	"github.com/tbourn/bookshelvz-backend/internal/services"
)

//
// DTOs
//

// BookmarkListQuery filters GET /bookmarks.
type BookmarkListQuery struct {
	Page   int    `form:"page,default=1"   validate:"gte=1"            example:"1"`
	Limit  int    `form:"limit,default=20" validate:"gte=1,lte=100"    example:"20"`
	BookID string `form:"book_id"          validate:"omitempty,uuid"   example:"0f8b2c1e-5d4a-4c3b-9a2f-1e0d9c8b7a65"`
}

// CreateBookmarkRequest is the JSON payload for POST /bookmarks.
type CreateBookmarkRequest struct {
	BookID string `json:"book_id" validate:"required,uuid"   example:"0f8b2c1e-5d4a-4c3b-9a2f-1e0d9c8b7a65"`
	Page   int    `json:"page"    validate:"required,gte=1"  example:"42"`
	Title  string `json:"title"   validate:"max=255"         example:"The litany against fear"`
	Note   string `json:"note"    validate:"max=2000"        example:"Reread before book two."`
	Color  string `json:"color"   validate:"max=16"          example:"yellow"`
}

// Normalize trims the text fields.
func (r *CreateBookmarkRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Color = strings.TrimSpace(r.Color)
}

// UpdateBookmarkRequest is the JSON payload for PUT /bookmarks/{id}.
type UpdateBookmarkRequest struct {
	Page  *int    `json:"page"  validate:"omitnil,gte=1"     example:"43"`
	Title *string `json:"title" validate:"omitnil,max=255"`
	Note  *string `json:"note"  validate:"omitnil,max=2000"`
	Color *string `json:"color" validate:"omitnil,max=16"    example:"blue"`
}

// SaveProgressRequest is the JSON payload for PUT /reading-progress/{bookId}.
// total_pages defaults to the book's page count.
type SaveProgressRequest struct {
	CurrentPage int `json:"current_page" validate:"required,gte=1" example:"120"`
	TotalPages  int `json:"total_pages"  validate:"gte=0"          example:"412"`
}

// WishlistRequest is the JSON payload for POST /wishlist.
type WishlistRequest struct {
	BookID string `json:"book_id" validate:"required,uuid" example:"0f8b2c1e-5d4a-4c3b-9a2f-1e0d9c8b7a65"`
}

//
// Bookmarks
//

// ListBookmarks godoc
// @ID          listBookmarks
// @Summary     List my bookmarks
// @Tags        Bookmarks
// @Produce     json
// @Security    BearerAuth
//
// @Param       page     query  int     false  "Page number"     minimum(1) default(1)
// @Param       limit    query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       book_id  query  string  false  "Only bookmarks in this book"  format(uuid)
//
// @Success     200  {object}  handlers.ListResponse[domain.Bookmark]
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Router      /bookmarks [get]
func (h *Handlers) ListBookmarks(c *gin.Context) {
	q := middleware.Query[BookmarkListQuery](c)
	items, total, err := h.library.Bookmarks(c.Request.Context(), principal(c).ID, q.BookID, q.Page, q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, items, q.Page, q.Limit, total)
}

// CreateBookmark godoc
// @ID          createBookmark
// @Summary     Add a bookmark
// @Tags        Bookmarks
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateBookmarkRequest  true  "Bookmark"
//
// @Success     201  {object}  domain.Bookmark
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Book not found"
// @Router      /bookmarks [post]
func (h *Handlers) CreateBookmark(c *gin.Context) {
	req := middleware.Body[CreateBookmarkRequest](c)
	bm, err := h.library.AddBookmark(c.Request.Context(), principal(c).ID, services.BookmarkInput{
		BookID: req.BookID,
		Page:   req.Page,
		Title:  req.Title,
		Note:   req.Note,
		Color:  req.Color,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, bm)
}

// UpdateBookmark godoc
// @ID          updateBookmark
// @Summary     Edit a bookmark
// @Tags        Bookmarks
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                          true  "Bookmark ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateBookmarkRequest  true  "Fields to change"
//
// @Success     200  {object}  domain.Bookmark
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Bookmark not found"
// @Router      /bookmarks/{id} [put]
func (h *Handlers) UpdateBookmark(c *gin.Context) {
	req := middleware.Body[UpdateBookmarkRequest](c)
	bm, err := h.library.UpdateBookmark(c.Request.Context(), principal(c).ID, c.Param("id"), services.BookmarkPatch{
		Page:  req.Page,
		Title: req.Title,
		Note:  req.Note,
		Color: req.Color,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, bm)
}

// DeleteBookmark godoc
// @ID          deleteBookmark
// @Summary     Remove a bookmark
// @Tags        Bookmarks
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Bookmark ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Bookmark not found"
// @Router      /bookmarks/{id} [delete]
func (h *Handlers) DeleteBookmark(c *gin.Context) {
	if err := h.library.DeleteBookmark(c.Request.Context(), principal(c).ID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	noContent(c)
}

//
// Reading progress
//

// ListProgress godoc
// @ID          listReadingProgress
// @Summary     List my reading progress
// @Description Most recently read first.
// @Tags        Reading progress
// @Produce     json
// @Security    BearerAuth
//
// @Param       page   query  int  false  "Page number"     minimum(1) default(1)
// @Param       limit  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListResponse[domain.ReadingProgress]
// @Router      /reading-progress [get]
func (h *Handlers) ListProgress(c *gin.Context) {
	q := middleware.Query[PageQuery](c)
	items, total, err := h.library.Progress(c.Request.Context(), principal(c).ID, q.Page, q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, items, q.Page, q.Limit, total)
}

// GetProgress godoc
// @ID          getReadingProgress
// @Summary     Get my progress in a book
// @Tags        Reading progress
// @Produce     json
// @Security    BearerAuth
//
// @Param       bookId  path  string  true  "Book ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.ReadingProgress
// @Failure     404  {object}  handlers.ErrorResponse  "No progress recorded"
// @Router      /reading-progress/{bookId} [get]
func (h *Handlers) GetProgress(c *gin.Context) {
	p, err := h.library.BookProgress(c.Request.Context(), principal(c).ID, c.Param("bookId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// SaveProgress godoc
// @ID          saveReadingProgress
// @Summary     Save my progress in a book
// @Description Upserts the current page; the percentage is derived from current and total pages.
// @Tags        Reading progress
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       bookId  path  string                        true  "Book ID (UUID)"  format(uuid)
// @Param       body    body  handlers.SaveProgressRequest  true  "Progress"
//
// @Success     200  {object}  domain.ReadingProgress
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Book not found"
// @Router      /reading-progress/{bookId} [put]
func (h *Handlers) SaveProgress(c *gin.Context) {
	req := middleware.Body[SaveProgressRequest](c)
	p, err := h.library.SaveProgress(c.Request.Context(), principal(c).ID, c.Param("bookId"), req.CurrentPage, req.TotalPages)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

//
// Wishlist
//

// ListWishlist godoc
// @ID          listWishlist
// @Summary     List my wishlist
// @Tags        Wishlist
// @Produce     json
// @Security    BearerAuth
//
// @Param       page   query  int  false  "Page number"     minimum(1) default(1)
// @Param       limit  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListResponse[domain.Wishlist]
// @Router      /wishlist [get]
func (h *Handlers) ListWishlist(c *gin.Context) {
	q := middleware.Query[PageQuery](c)
	items, total, err := h.library.Wishlist(c.Request.Context(), principal(c).ID, q.Page, q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, items, q.Page, q.Limit, total)
}

// AddToWishlist godoc
// @ID          addToWishlist
// @Summary     Save a book for later
// @Tags        Wishlist
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.WishlistRequest  true  "Book"
//
// @Success     201  {object}  domain.Wishlist
// @Failure     404  {object}  handlers.ErrorResponse  "Book not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already in wishlist"
// @Router      /wishlist [post]
func (h *Handlers) AddToWishlist(c *gin.Context) {
	req := middleware.Body[WishlistRequest](c)
	w, err := h.library.AddToWishlist(c.Request.Context(), principal(c).ID, req.BookID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, w)
}

// RemoveFromWishlist godoc
// @ID          removeFromWishlist
// @Summary     Remove a book from my wishlist
// @Tags        Wishlist
// @Security    BearerAuth
//
// @Param       bookId  path  string  true  "Book ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Not in wishlist"
// @Router      /wishlist/{bookId} [delete]
func (h *Handlers) RemoveFromWishlist(c *gin.Context) {
	if err := h.library.RemoveFromWishlist(c.Request.Context(), principal(c).ID, c.Param("bookId")); err != nil {
		fail(c, err)
		return
	}
	noContent(c)
}
