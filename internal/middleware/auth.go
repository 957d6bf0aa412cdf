package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/auth"
	"github.com/pushkarjay/safecom/internal/models"
)

// Context keys for storing claims in gin.Context. Handlers read them through
// the helpers below rather than by string.
const (
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "role"
	ContextKeyEmail  = "email"
)

// AuthMiddleware validates the bearer token and stores its claims on the
// request. An invalid token aborts the chain with 401.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		// "Bearer eyJhbG..." -> ["Bearer", "eyJhbG..."]
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization format, expected: Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		SetClaims(c, claims)
		c.Next()
	}
}

// SetClaims stores the authenticated principal on the request. The
// websocket handler authenticates from a query parameter and calls this
// directly.
func SetClaims(c *gin.Context, claims *auth.Claims) {
	p := claims.Principal()
	c.Set(ContextKeyUserID, p.UserID)
	c.Set(ContextKeyRole, p.Role)
	c.Set(ContextKeyEmail, claims.Email)
}

func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

// GetRole falls back to the least privileged role when the key is missing.
func GetRole(c *gin.Context) models.Role {
	val, exists := c.Get(ContextKeyRole)
	if !exists {
		return models.RoleEmployee
	}
	role, ok := val.(models.Role)
	if !ok {
		return models.RoleEmployee
	}
	return role
}

func GetEmail(c *gin.Context) string {
	val, exists := c.Get(ContextKeyEmail)
	if !exists {
		return ""
	}
	email, ok := val.(string)
	if !ok {
		return ""
	}
	return email
}

// GetPrincipal is the identity every service call runs as.
func GetPrincipal(c *gin.Context) auth.Principal {
	return auth.Principal{UserID: GetUserID(c), Role: GetRole(c)}
}
