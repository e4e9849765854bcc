package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teleclinic-backend/internal/domain"
	"teleclinic-backend/pkg/jwt"
)

// AuthMiddleware creates a Gin middleware that validates JWT access tokens.
// If valid, it sets user_id and role in the Gin context.
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireCallParty only admits doctors and patients; other roles have no
// business on consultation routes.
func RequireCallParty() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get("role")
		r, ok := role.(string)
		if !ok || !domain.Role(r).IsValid() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access restricted to call parties"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID extracts the authenticated user id from the Gin context
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok
}

// GetRole extracts the authenticated role from the Gin context
func GetRole(c *gin.Context) (domain.Role, bool) {
	val, exists := c.Get("role")
	if !exists {
		return "", false
	}
	r, ok := val.(string)
	if !ok {
		return "", false
	}
	return domain.Role(r), true
}
