package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserIDKey = "user_id"
	ContextRolesKey  = "user_roles"

	RoleAdmin = "admin"
)

func Middleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "missing token"})
			return
		}

		claims, err := ParseJWT(token, secret)
		if err != nil || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid token"})
			return
		}

		c.Set(ContextUserIDKey, claims.Subject)
		c.Set(ContextRolesKey, claims.Roles)
		c.Next()
	}
}

// RequireRole runs after Middleware and rejects callers missing the role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := c.Get(ContextRolesKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "insufficient role"})
			return
		}
		roles, ok := val.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "insufficient role"})
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "insufficient role"})
	}
}
