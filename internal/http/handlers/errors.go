// Package handlers defines the router-level fallbacks for unknown routes and
// methods. Every other error code lives in the apperr package so that
// services, middleware, and handlers share one taxonomy.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
)

// ErrCodeMethodNotAllowed is returned when a route exists but not for the method.
const ErrCodeMethodNotAllowed = "method_not_allowed"

// RouteNotFound renders 404 for paths no route matches.
func RouteNotFound(c *gin.Context) {
	fail(c, apperr.NotFound("Route"))
}

// MethodNotAllowed renders 405 for known paths hit with an unsupported method.
func MethodNotAllowed(c *gin.Context) {
	fail(c, apperr.New(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed"))
}
