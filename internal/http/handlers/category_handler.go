// Category HTTP handlers.
//
//   - GET  /categories       (all categories with book counts, cached)
//   - GET  /categories/{id}  (by id or slug, with a page of books, cached)
//   - POST /categories       (admin create)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
)

// CreateCategoryRequest is the JSON payload for POST /categories.
type CreateCategoryRequest struct {
	Name        string `json:"name"        validate:"required,max=128"  example:"Science Fiction"`
	Description string `json:"description" validate:"max=2000"          example:"Spaceships and far futures."`
}

// Normalize trims the name so a blank one fails "required".
func (r *CreateCategoryRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
}

// ListCategories godoc
// @ID          listCategories
// @Summary     List categories
// @Description Returns every category ordered by name with its live book count.
// @Tags        Categories
// @Produce     json
//
// @Success     200  {object}  handlers.DataResponse[[]repo.CategoryWithCount]
// @Router      /categories [get]
func (h *Handlers) ListCategories(c *gin.Context) {
	items, err := h.categories.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if items == nil {
		items = []repo.CategoryWithCount{}
	}
	ok(c, http.StatusOK, DataResponse[[]repo.CategoryWithCount]{Data: items})
}

// GetCategory godoc
// @ID          getCategory
// @Summary     Get a category
// @Description Looks a category up by id or slug and returns it with one page of its books.
// @Tags        Categories
// @Produce     json
//
// @Param       id     path   string  true   "Category ID or slug"
// @Param       page   query  int     false  "Page number"     minimum(1) default(1)
// @Param       limit  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  services.CategoryPage
// @Failure     404  {object}  handlers.ErrorResponse  "Category not found"
// @Router      /categories/{id} [get]
func (h *Handlers) GetCategory(c *gin.Context) {
	q := middleware.Query[PageQuery](c)
	cp, err := h.categories.Get(c.Request.Context(), c.Param("id"), q.Page, q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, cp)
}

// CreateCategory godoc
// @ID          createCategory
// @Summary     Create a category
// @Description Creates a category; the slug is derived from the name. Admin only.
// @Tags        Categories
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateCategoryRequest  true  "Category"
//
// @Success     201  {object}  domain.Category
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     403  {object}  handlers.ErrorResponse  "Not an admin"
// @Failure     409  {object}  handlers.ErrorResponse  "Name or slug taken"
// @Router      /categories [post]
func (h *Handlers) CreateCategory(c *gin.Context) {
	req := middleware.Body[CreateCategoryRequest](c)
	cat, err := h.categories.Create(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, cat)
}
