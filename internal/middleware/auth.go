package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/pkg/auth"
	"github.com/jwalitptl/roadside-api/pkg/errors"
	"github.com/jwalitptl/roadside-api/pkg/httputil"
)

const ContextIdentity = "identity"

type AuthMiddleware struct {
	auth auth.Authenticator
}

func NewAuthMiddleware(authenticator auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: authenticator}
}

// BearerToken returns the token from the Authorization header, or "".
func BearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Authenticate verifies the bearer token and stores the caller's identity in the context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			c.Abort()
			return
		}

		identity, err := m.auth.ValidateToken(c.Request.Context(), token)
		if err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			c.Abort()
			return
		}

		c.Set(ContextIdentity, *identity)
		c.Next()
	}
}

// RequireRole rejects callers whose identity has none of roles.
func (m *AuthMiddleware) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			c.Abort()
			return
		}
		for _, r := range roles {
			if identity.Role == r {
				c.Next()
				return
			}
		}
		httputil.RespondWithError(c, errors.Forbidden("permission denied"))
		c.Abort()
	}
}

func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return model.Identity{}, false
	}
	identity, ok := v.(model.Identity)
	return identity, ok
}
