// Book HTTP handlers.
//
// This file exposes the catalog:
//   - GET    /books           (list, filters, paginated, cached)
//   - GET    /books/{id}      (detail, cached)
//   - POST   /books           (admin create)
//   - PUT    /books/{id}      (admin partial update)
//   - DELETE /books/{id}      (admin soft delete)
//   - POST   /books/{id}/pdf  (admin multipart upload)
//   - GET    /books/{id}/pdf  (stream to buyers and admins)
package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
	"github.com/tbourn/bookshelvz-backend/internal/services"
)

//
// DTOs
//

// BookListQuery holds the filters accepted by GET /books. Prices are cents.
type BookListQuery struct {
	Page     int    `form:"page,default=1"          validate:"gte=1"                                                 example:"1"`
	Limit    int    `form:"limit,default=20"        validate:"gte=1,lte=100"                                         example:"20"`
	Search   string `form:"search"                  validate:"max=200"                                               example:"dune"`
	Category string `form:"category"                validate:"max=128"                                               example:"science-fiction"`
	Author   string `form:"author"                  validate:"max=255"                                               example:"Herbert"`
	Genre    string `form:"genre"                   validate:"max=64"                                                example:"scifi"`
	MinPrice *int64 `form:"min_price"               validate:"omitnil,gte=0"                                         example:"500"`
	MaxPrice *int64 `form:"max_price"               validate:"omitnil,gte=0"                                         example:"2500"`
	Featured *bool  `form:"featured"                                                                                 example:"true"`
	InStock  bool   `form:"in_stock"                                                                                 example:"false"`
	Sort     string `form:"sort,default=created_at" validate:"oneof=title author price created_at average_rating" example:"price"`
	Order    string `form:"order,default=desc"      validate:"oneof=asc desc"                                        example:"asc"`
}

// Normalize trims the free-text filters and lower-cases the enums.
func (q *BookListQuery) Normalize() {
	q.Search = strings.TrimSpace(q.Search)
	q.Category = strings.TrimSpace(q.Category)
	q.Author = strings.TrimSpace(q.Author)
	q.Genre = strings.TrimSpace(q.Genre)
	q.Sort = strings.ToLower(strings.TrimSpace(q.Sort))
	q.Order = strings.ToLower(strings.TrimSpace(q.Order))
}

func (q *BookListQuery) filter() repo.BookFilter {
	return repo.BookFilter{
		Search:   q.Search,
		Category: q.Category,
		Author:   q.Author,
		Genre:    q.Genre,
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		Featured: q.Featured,
		InStock:  q.InStock,
		Sort:     q.Sort,
		Desc:     q.Order == "desc",
	}
}

// CreateBookRequest is the JSON payload for POST /books. Price is in cents.
type CreateBookRequest struct {
	Title         string   `json:"title"          validate:"required,max=255"                     example:"Dune"`
	Author        string   `json:"author"         validate:"required,max=255"                     example:"Frank Herbert"`
	Description   string   `json:"description"    validate:"max=10000"                            example:"Desert planet epic."`
	ISBN          *string  `json:"isbn"           validate:"omitnil,max=20"                       example:"9780441013593"`
	Price         int64    `json:"price"          validate:"gte=0"                                example:"1299"`
	Currency      string   `json:"currency"       validate:"omitempty,len=3"                      example:"USD"`
	Stock         int      `json:"stock"          validate:"gte=0"                                example:"10"`
	Genre         string   `json:"genre"          validate:"max=64"                               example:"scifi"`
	Language      string   `json:"language"       validate:"max=16"                               example:"en"`
	CoverURL      string   `json:"cover_url"      validate:"omitempty,url"                        example:"https://cdn.example.com/dune.jpg"`
	PageCount     int      `json:"page_count"     validate:"gte=0"                                example:"412"`
	PublishedYear *int     `json:"published_year" validate:"omitnil,gte=0,lte=9999"               example:"1965"`
	Featured      bool     `json:"featured"                                                       example:"false"`
	CategoryIDs   []string `json:"category_ids"   validate:"omitempty,max=20,unique,dive,uuid"`
}

// Normalize trims the display fields so blank titles fail "required".
func (r *CreateBookRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Author = strings.TrimSpace(r.Author)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

func (r *CreateBookRequest) input() services.BookInput {
	return services.BookInput{
		Title:         r.Title,
		Author:        r.Author,
		Description:   r.Description,
		ISBN:          r.ISBN,
		Price:         r.Price,
		Currency:      r.Currency,
		Stock:         r.Stock,
		Genre:         r.Genre,
		Language:      r.Language,
		CoverURL:      r.CoverURL,
		PageCount:     r.PageCount,
		PublishedYear: r.PublishedYear,
		Featured:      r.Featured,
		CategoryIDs:   r.CategoryIDs,
	}
}

// UpdateBookRequest is the JSON payload for PUT /books/{id}. Omitted fields
// are left unchanged; an empty category_ids list clears the categories.
type UpdateBookRequest struct {
	Title         *string   `json:"title"          validate:"omitnil,min=1,max=255"      example:"Dune Messiah"`
	Author        *string   `json:"author"         validate:"omitnil,min=1,max=255"      example:"Frank Herbert"`
	Description   *string   `json:"description"    validate:"omitnil,max=10000"`
	ISBN          *string   `json:"isbn"           validate:"omitnil,max=20"`
	Price         *int64    `json:"price"          validate:"omitnil,gte=0"              example:"1499"`
	Currency      *string   `json:"currency"       validate:"omitnil,len=3"              example:"EUR"`
	Stock         *int      `json:"stock"          validate:"omitnil,gte=0"              example:"3"`
	Genre         *string   `json:"genre"          validate:"omitnil,max=64"`
	Language      *string   `json:"language"       validate:"omitnil,max=16"`
	CoverURL      *string   `json:"cover_url"      validate:"omitempty,url"`
	PageCount     *int      `json:"page_count"     validate:"omitnil,gte=0"`
	PublishedYear *int      `json:"published_year" validate:"omitnil,gte=0,lte=9999"`
	Featured      *bool     `json:"featured"`
	CategoryIDs   *[]string `json:"category_ids"   validate:"omitnil,max=20,unique,dive,uuid"`
}

// Normalize trims the display fields so blank titles fail "min".
func (r *UpdateBookRequest) Normalize() {
	trimPtr(r.Title)
	trimPtr(r.Author)
}

func (r *UpdateBookRequest) patch() services.BookPatch {
	return services.BookPatch{
		Title:         r.Title,
		Author:        r.Author,
		Description:   r.Description,
		ISBN:          r.ISBN,
		Price:         r.Price,
		Currency:      r.Currency,
		Stock:         r.Stock,
		Genre:         r.Genre,
		Language:      r.Language,
		CoverURL:      r.CoverURL,
		PageCount:     r.PageCount,
		PublishedYear: r.PublishedYear,
		Featured:      r.Featured,
		CategoryIDs:   r.CategoryIDs,
	}
}

func trimPtr(s *string) {
	if s != nil {
		*s = strings.TrimSpace(*s)
	}
}

//
// Handlers
//

// ListBooks godoc
// @ID          listBooks
// @Summary     List books (paginated)
// @Description Public catalog listing with search, category, author, genre, price and featured filters. Responses are cached per query string.
// @Tags        Books
// @Produce     json
//
// @Param       page       query  int     false  "Page number"                       minimum(1) default(1)
// @Param       limit      query  int     false  "Items per page"                    minimum(1) maximum(100) default(20)
// @Param       search     query  string  false  "Matches title, author, description"
// @Param       category   query  string  false  "Category id or slug"
// @Param       author     query  string  false  "Author (substring)"
// @Param       genre      query  string  false  "Genre"
// @Param       min_price  query  int     false  "Minimum price in cents"            minimum(0)
// @Param       max_price  query  int     false  "Maximum price in cents"            minimum(0)
// @Param       featured   query  bool    false  "Only featured (or non-featured) books"
// @Param       in_stock   query  bool    false  "Only books with stock"
// @Param       sort       query  string  false  "Sort column"  Enums(title, author, price, created_at, average_rating) default(created_at)
// @Param       order      query  string  false  "Sort order"   Enums(asc, desc) default(desc)
//
// @Success     200  {object}  handlers.ListResponse[domain.Book]
// @Header      200  {string}  X-Cache  "HIT, MISS or BYPASS"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many requests"
// @Router      /books [get]
func (h *Handlers) ListBooks(c *gin.Context) {
	q := middleware.Query[BookListQuery](c)
	if q.MinPrice != nil && q.MaxPrice != nil && *q.MaxPrice < *q.MinPrice {
		fail(c, apperr.Validation([]apperr.FieldError{{
			Field:   "max_price",
			Message: "max_price must be greater than or equal to min_price",
		}}))
		return
	}
	items, total, err := h.books.List(c.Request.Context(), q.filter(), q.Page, q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	list(c, items, q.Page, q.Limit, total)
}

// GetBook godoc
// @ID          getBook
// @Summary     Get a book
// @Description Returns a book with its categories and rating summary.
// @Tags        Books
// @Produce     json
//
// @Param       id  path  string  true  "Book ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Book
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid id"
// @Failure     404  {object}  handlers.ErrorResponse  "Book not found"
// @Router      /books/{id} [get]
func (h *Handlers) GetBook(c *gin.Context) {
	b, err := h.books.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// CreateBook godoc
// @ID          createBook
// @Summary     Create a book
// @Description Adds a catalog entry. Admin only.
// @Tags        Books
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateBookRequest  true  "Book"
//
// @Success     201  {object}  domain.Book
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403  {object}  handlers.ErrorResponse  "Not an admin"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate ISBN"
// @Router      /books [post]
func (h *Handlers) CreateBook(c *gin.Context) {
	req := middleware.Body[CreateBookRequest](c)
	b, err := h.books.Create(c.Request.Context(), req.input())
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+b.ID)
	ok(c, http.StatusCreated, b)
}

// UpdateBook godoc
// @ID          updateBook
// @Summary     Update a book
// @Description Applies a partial update. Admin only.
// @Tags        Books
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                      true  "Book ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateBookRequest  true  "Fields to change"
//
// @Success     200  {object}  domain.Book
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     403  {object}  handlers.ErrorResponse  "Not an admin"
// @Failure     404  {object}  handlers.ErrorResponse  "Book not found"
// @Router      /books/{id} [put]
func (h *Handlers) UpdateBook(c *gin.Context) {
	req := middleware.Body[UpdateBookRequest](c)
	b, err := h.books.Update(c.Request.Context(), c.Param("id"), req.patch())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// DeleteBook godoc
// @ID          deleteBook
// @Summary     Delete a book
// @Description Soft-deletes a book; existing orders keep their lines. Admin only.
// @Tags        Books
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Book ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Not an admin"
// @Failure     404  {object}  handlers.ErrorResponse  "Book not found"
// @Router      /books/{id} [delete]
func (h *Handlers) DeleteBook(c *gin.Context) {
	if err := h.books.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	noContent(c)
}

// UploadBookPDF godoc
// @ID          uploadBookPdf
// @Summary     Upload a book PDF
// @Description Stores the PDF for a book, replacing any previous file. Admin only.
// @Tags        Books
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path      string  true  "Book ID (UUID)"  format(uuid)
// @Param       file  formData  file    true  "PDF file"
//
// @Success     200  {object}  domain.Book
// @Failure     400  {object}  handlers.ErrorResponse  "Missing file or not a PDF"
// @Failure     404  {object}  handlers.ErrorResponse  "Book not found"
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Router      /books/{id}/pdf [post]
func (h *Handlers) UploadBookPDF(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, uploadErr(err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, apperr.Internal("Could not read upload", err))
		return
	}
	defer f.Close()

	b, err := h.books.UploadPDF(c.Request.Context(), c.Param("id"), f, fh.Size)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// uploadErr maps multipart parsing failures to client errors.
func uploadErr(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, multipart.ErrMessageTooLarge):
		return apperr.PayloadTooLarge("File exceeds the maximum PDF size")
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return apperr.Validation([]apperr.FieldError{{Field: "file", Message: "file is required"}})
	default:
		return apperr.BadRequest("Malformed multipart body")
	}
}

// ReadBookPDF godoc
// @ID          readBookPdf
// @Summary     Read a book PDF
// @Description Streams the PDF to buyers (confirmed or delivered order) and admins. Supports Range requests.
// @Tags        Books
// @Produce     application/pdf
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Book ID (UUID)"  format(uuid)
//
// @Success     200  {file}    file
// @Success     206  {file}    file
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403  {object}  handlers.ErrorResponse  "Not purchased"
// @Failure     404  {object}  handlers.ErrorResponse  "Book or PDF not found"
// @Router      /books/{id}/pdf [get]
func (h *Handlers) ReadBookPDF(c *gin.Context) {
	obj, b, err := h.books.OpenPDF(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	defer obj.Close()

	hdr := c.Writer.Header()
	hdr.Set("Content-Type", "application/pdf")
	hdr.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", pdfFilename(b.Title)))
	hdr.Set("Cache-Control", "private, no-store")
	http.ServeContent(c.Writer, c.Request, "", b.UpdatedAt, obj)
}

// pdfFilename keeps ASCII letters, digits, dashes and underscores.
func pdfFilename(title string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "book.pdf"
	}
	return sb.String() + ".pdf"
}
