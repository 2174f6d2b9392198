package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/models"
)

const principalKey = "auth.principal"

// UserLookup loads the current account behind a token.
type UserLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Middleware verifies the bearer token and stores the principal on the gin
// context. Websocket clients may pass the token as the "token" query parameter.
// With a non-nil users the account is reloaded on every request, so role
// changes and deletions apply before the token expires.
func Middleware(secret string, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				return
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		principal, err := ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		if users != nil {
			user, err := users.FindByID(c.Request.Context(), principal.UserID)
			switch {
			case apperr.Is(err, apperr.KindNotFound):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account no longer exists"})
				return
			case apperr.Is(err, apperr.KindTransient):
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "account lookup unavailable"})
				return
			case err != nil:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account lookup failed"})
				return
			}
			principal.Name, principal.Role = user.Name, user.Role
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// AdminOnly aborts with 403 unless the caller is an admin.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromContext(c)
		if !ok || !p.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required", "code": "admin_only"})
			return
		}
		c.Next()
	}
}

// FromContext returns the principal set by Middleware.
func FromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
