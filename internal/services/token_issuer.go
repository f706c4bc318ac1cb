package services

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/config"
	"github.com/novalane/identity-backend/internal/models"
)

// TokenIssuer mints stateless JWTs for finalized identities.
type TokenIssuer struct {
	cfg *config.Config
}

func NewTokenIssuer(cfg *config.Config) *TokenIssuer {
	return &TokenIssuer{cfg: cfg}
}

type roleClaim struct {
	Name     string `json:"name"`
	Level    int    `json:"level"`
	CanLogin bool   `json:"canLogin"`
}

// Issue signs an HS256 token carrying the user id, email and role
// snapshot.
func (i *TokenIssuer) Issue(user *models.User) (string, error) {
	if i.cfg.JWTSecret == "" {
		return "", apperr.ConfigurationError("JWT secret not set")
	}

	roleClaims := make([]roleClaim, 0, len(user.Roles))
	for _, r := range user.Roles {
		roleClaims = append(roleClaims, roleClaim{Name: r.Name, Level: r.Level, CanLogin: r.CanLogin})
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"roles": roleClaims,
		"iat":   now.Unix(),
		"exp":   now.Add(i.cfg.JWTExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(i.cfg.JWTSecret))
}
