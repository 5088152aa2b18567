package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"atelier_back_end/internal/models"
)

// Claims est le contenu des JWT émis par le service d'identité.
type Claims struct {
	UserID string      `json:"user_id"`
	Email  string      `json:"email,omitempty"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT signe un jeton HS256 pour un acteur (outillage, tests).
func GenerateJWT(actor models.Actor, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: actor.UserID,
		Email:  actor.Email,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
