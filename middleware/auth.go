package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"field-service-server/models"
	"field-service-server/types"
)

// Context keys set by the auth middlewares.
const (
	UserKey   = "user"
	UserIDKey = "user_id"
)

// TokenValidator verifies access tokens. *services.JWTService implements it.
type TokenValidator interface {
	ValidateAccessToken(token string) (*types.Claims, error)
}

// AuthMiddleware validates the bearer token and loads the caller into the
// context under UserKey.
func AuthMiddleware(tokens TokenValidator, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authentication credentials were not provided")
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			unauthorized(c, "Token must be in format: Bearer <token>")
			return
		}

		authenticate(c, tokens, db, strings.TrimSpace(tokenString))
	}
}

// WebSocketAuthMiddleware is AuthMiddleware for websocket upgrades, where
// browsers cannot set headers. The token comes from the ?token= query.
func WebSocketAuthMiddleware(tokens TokenValidator, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if tokenString == "" {
			if h, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				tokenString = h
			}
		}
		if tokenString == "" {
			unauthorized(c, "Token required")
			return
		}
		authenticate(c, tokens, db, tokenString)
	}
}

func authenticate(c *gin.Context, tokens TokenValidator, db *gorm.DB, tokenString string) {
	claims, err := tokens.ValidateAccessToken(tokenString)
	if err != nil {
		unauthorized(c, "Token is invalid or expired")
		return
	}

	var user models.User
	if err := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			unauthorized(c, "User not found")
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !user.IsActive {
		unauthorized(c, "User account is deactivated")
		return
	}

	c.Set(UserKey, &user)
	c.Set(UserIDKey, user.ID)
	c.Next()
}

// RequireRole lets the request through only for the listed roles. It must run
// after AuthMiddleware.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			unauthorized(c, "Authentication credentials were not provided")
			return
		}
		for _, r := range roles {
			if user.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "You do not have permission to perform this action",
		})
	}
}

// CurrentUser returns the authenticated caller, if any.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
