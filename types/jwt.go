package types

import (
	"github.com/golang-jwt/jwt/v5"

	"field-service-server/models"
)

// Claims is the payload of an access token.
type Claims struct {
	UserID uint            `json:"user_id"`
	Role   models.UserRole `json:"role"`
	jwt.RegisteredClaims
}
