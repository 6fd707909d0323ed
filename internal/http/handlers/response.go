// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by every endpoint. Handlers
// never render errors themselves: fail records the error on the gin context
// and aborts, and the ErrorResponder middleware writes the envelope once the
// chain unwinds.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "status": "fail",
//	  "code": "not_found",
//	  "message": "Book not found",
//	  "requestId": "123e4567-e89b-12d3-a456-426614174000"
//	}
//
// Example list response:
//
//	HTTP/1.1 200 OK
//	{ "data": [ ... ], "pagination": { "page": 1, "limit": 20, "total": 42, "totalPages": 3 } }
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/utils"
)

// ErrorResponse documents the error envelope rendered by the error middleware.
type ErrorResponse struct {
	// "fail" for 4xx, "error" for 5xx
	Status string `json:"status" example:"fail"`
	// Stable, machine-readable code
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"Book not found"`
	// Correlates server logs and client errors
	RequestID string `json:"requestId,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Field-level violations for validation failures
	Errors []apperr.FieldError `json:"errors,omitempty"`
}

// ListResponse is the envelope for every paginated list.
type ListResponse[T any] struct {
	Data       []T              `json:"data"`
	Pagination utils.Pagination `json:"pagination"`
}

// DataResponse wraps unpaginated collections.
type DataResponse[T any] struct {
	Data T `json:"data"`
}

// fail records err for the error middleware and stops the chain.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// list writes a page of items with its pagination block. A nil slice is
// rendered as an empty array.
func list[T any](c *gin.Context, items []T, page, limit int, total int64) {
	if items == nil {
		items = []T{}
	}
	ok(c, http.StatusOK, ListResponse[T]{
		Data:       items,
		Pagination: utils.NewPagination(page, limit, total),
	})
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
