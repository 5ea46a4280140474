package models

import "github.com/golang-jwt/jwt/v5"

// Principal roles accepted by the API
const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

// TokenClaims identifies the admin or service principal calling the API
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
