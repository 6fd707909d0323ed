// User HTTP handlers.
//
//   - GET /users/profile      PUT /users/profile
//   - GET /users/preferences  PUT /users/preferences
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/http/middleware"
	"github.com/tbourn/bookshelvz-backend/internal/services"
)

// UpdateProfileRequest holds the editable profile fields. Role and email are
// managed elsewhere.
type UpdateProfileRequest struct {
	FullName  *string `json:"full_name"  validate:"omitnil,max=255"     example:"Ada Reader"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url"       example:"https://cdn.example.com/ada.png"`
	Bio       *string `json:"bio"        validate:"omitnil,max=2000"    example:"Mostly science fiction."`
	Phone     *string `json:"phone"      validate:"omitnil,max=32"      example:"+15550100000"`
}

// Normalize trims the single-line fields.
func (r *UpdateProfileRequest) Normalize() {
	trimPtr(r.FullName)
	trimPtr(r.AvatarURL)
	trimPtr(r.Phone)
}

// PreferencesRequest lists the reader preferences the client may store.
// Omitted keys keep their stored value.
type PreferencesRequest struct {
	Theme         *string  `json:"theme"         validate:"omitnil,oneof=light dark sepia system" example:"dark"`
	FontSize      *int     `json:"font_size"     validate:"omitnil,gte=8,lte=48"                  example:"18"`
	FontFamily    *string  `json:"font_family"   validate:"omitnil,max=64"                        example:"serif"`
	LineHeight    *float64 `json:"line_height"   validate:"omitnil,gte=1,lte=3"                   example:"1.5"`
	ReadingMode   *string  `json:"reading_mode"  validate:"omitnil,oneof=scroll paged"            example:"paged"`
	Language      *string  `json:"language"      validate:"omitnil,max=16"                        example:"en"`
	Notifications *bool    `json:"notifications"                                                  example:"true"`
}

func (r *PreferencesRequest) patch() map[string]any {
	m := map[string]any{}
	if r.Theme != nil {
		m["theme"] = strings.ToLower(*r.Theme)
	}
	if r.FontSize != nil {
		m["font_size"] = *r.FontSize
	}
	if r.FontFamily != nil {
		m["font_family"] = *r.FontFamily
	}
	if r.LineHeight != nil {
		m["line_height"] = *r.LineHeight
	}
	if r.ReadingMode != nil {
		m["reading_mode"] = *r.ReadingMode
	}
	if r.Language != nil {
		m["language"] = *r.Language
	}
	if r.Notifications != nil {
		m["notifications"] = *r.Notifications
	}
	return m
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Get my profile
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  domain.UserProfile
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Router      /users/profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	p, err := h.users.Profile(c.Request.Context(), principal(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Update my profile
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.UpdateProfileRequest  true  "Fields to change"
//
// @Success     200  {object}  domain.UserProfile
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Router      /users/profile [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	req := middleware.Body[UpdateProfileRequest](c)
	p, err := h.users.UpdateProfile(c.Request.Context(), principal(c), services.ProfilePatch{
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
		Bio:       req.Bio,
		Phone:     req.Phone,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// GetPreferences godoc
// @ID          getPreferences
// @Summary     Get my reader preferences
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  map[string]interface{}
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Router      /users/preferences [get]
func (h *Handlers) GetPreferences(c *gin.Context) {
	prefs, err := h.users.Preferences(c.Request.Context(), principal(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, prefs)
}

// UpdatePreferences godoc
// @ID          updatePreferences
// @Summary     Update my reader preferences
// @Description Merges the given keys into the stored preferences.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.PreferencesRequest  true  "Preferences"
//
// @Success     200  {object}  map[string]interface{}
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Router      /users/preferences [put]
func (h *Handlers) UpdatePreferences(c *gin.Context) {
	req := middleware.Body[PreferencesRequest](c)
	prefs, err := h.users.UpdatePreferences(c.Request.Context(), principal(c), req.patch())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, prefs)
}
