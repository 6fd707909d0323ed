package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
)

// RequireRoles admits only principals holding one of roles. It must run after
// Authenticate; an anonymous request is rejected with 401.
func RequireRoles(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			abort(c, apperr.Authentication("Authentication required"))
			return
		}
		if !p.HasRole(roles...) {
			LoggerFrom(c).Warn().Str("role", string(p.Role)).Msg("forbidden")
			abort(c, apperr.Authorization("You do not have permission to perform this action"))
			return
		}
		c.Next()
	}
}
