package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
)

// TokenTypeAccess is the only token type the API accepts
const TokenTypeAccess = "access"

// TokenManager handles JWT generation and validation for admin and service principals
type TokenManager struct {
	secret []byte
	issuer string
	expiry time.Duration
	clock  clock.Clock
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string, expiry time.Duration, clk clock.Clock) *TokenManager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		clock:  clk,
	}
}

// GenerateToken mints a signed access token for userID with role.
// A non-positive ttl uses the manager's default expiry.
func (tm *TokenManager) GenerateToken(userID, role string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", models.NewValidationError("user_id", "is required")
	}
	if !validRole(role) {
		return "", models.NewValidationError("role", fmt.Sprintf("must be %q or %q", models.RoleAdmin, models.RoleService))
	}
	if ttl <= 0 {
		ttl = tm.expiry
	}

	now := tm.clock.Now()
	claims := &models.TokenClaims{
		Type:   TokenTypeAccess,
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != TokenTypeAccess {
		return nil, fmt.Errorf("invalid token type %q: %w", claims.Type, models.ErrUnauthorized)
	}
	if claims.UserID == "" || !validRole(claims.Role) {
		return nil, fmt.Errorf("invalid token principal: %w", models.ErrUnauthorized)
	}

	return claims, nil
}

func validRole(role string) bool {
	return role == models.RoleAdmin || role == models.RoleService
}
