// Auth HTTP handlers.
//
//   - POST /auth/register  (create credentials + profile, sign in)
//   - POST /auth/login     (email + password sign-in)
//   - POST /auth/refresh   (exchange a refresh token for a new pair)
//   - GET  /auth/me        (current principal)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
)

//
// DTOs
//

// RegisterRequest is the JSON payload for sign-up.
type RegisterRequest struct {
	Email    string `json:"email"     validate:"required,email,max=255" example:"reader@example.com"`
	Password string `json:"password"  validate:"required,min=8,max=72"  example:"correct-horse-battery"`
	FullName string `json:"full_name" validate:"max=255"                example:"Ada Reader"`
}

// Normalize trims the identity fields; passwords are taken verbatim.
func (r *RegisterRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
}

// LoginRequest is the JSON payload for sign-in.
type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email" example:"reader@example.com"`
	Password string `json:"password" validate:"required"       example:"correct-horse-battery"`
}

// Normalize trims the email.
func (r *LoginRequest) Normalize() { r.Email = strings.TrimSpace(r.Email) }

// RefreshRequest is the JSON payload for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required" example:"eyJhbGciOiJIUzI1NiIs..."`
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	ID      string              `json:"id"      example:"8d7f3a52-1c1b-4f7e-9d8e-2f1e0c9b7a61"`
	Email   string              `json:"email"   example:"reader@example.com"`
	Role    domain.Role         `json:"role"    example:"user"`
	Profile *domain.UserProfile `json:"profile,omitempty"`
}

//
// Handlers
//

// Register godoc
// @ID          register
// @Summary     Create an account
// @Description Registers email credentials, creates the user profile, and returns a token pair.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RegisterRequest  true  "Sign-up payload"
//
// @Success     201  {object}  services.Session
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Email already registered"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many attempts"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	req := middleware.Body[RegisterRequest](c)
	sess, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, sess)
}

// Login godoc
// @ID          login
// @Summary     Sign in
// @Description Exchanges email and password for an access and refresh token.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object}  services.Session
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid email or password"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many attempts"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	req := middleware.Body[LoginRequest](c)
	sess, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// Refresh godoc
// @ID          refreshToken
// @Summary     Refresh tokens
// @Description Issues a new token pair from a valid refresh token.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RefreshRequest  true  "Refresh token"
//
// @Success     200  {object}  services.Session
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid or expired token"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many refreshes"
// @Router      /auth/refresh [post]
func (h *Handlers) Refresh(c *gin.Context) {
	req := middleware.Body[RefreshRequest](c)
	sess, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// Me godoc
// @ID          me
// @Summary     Current user
// @Description Returns the authenticated principal and its profile.
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  handlers.MeResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	p := principal(c)
	if p == nil {
		fail(c, apperr.Authentication(""))
		return
	}
	ok(c, http.StatusOK, MeResponse{ID: p.ID, Email: p.Email, Role: p.Role, Profile: p.Profile})
}
