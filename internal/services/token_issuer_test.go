package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/config"
	"github.com/novalane/identity-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueSignsVerifiableToken(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour}
	issuer := NewTokenIssuer(cfg)

	user := &models.User{
		ID:    uuid.New(),
		Email: "jamie@example.com",
		Roles: []models.RoleAssignment{
			{Name: models.RoleBuyer, Level: 1, CanLogin: true, IsActive: true},
			{Name: models.RoleSeller, Level: 2, CanLogin: true, IsActive: true},
		},
	}

	signed, err := issuer.Issue(user)
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, user.ID.String(), claims["sub"])
	assert.Equal(t, "jamie@example.com", claims["email"])

	roles, ok := claims["roles"].([]interface{})
	require.True(t, ok)
	assert.Len(t, roles, 2)

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp.Time, time.Minute)
}

func TestIssueRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(&config.Config{JWTSecret: "right", JWTExpiry: time.Hour})
	signed, err := issuer.Issue(&models.User{ID: uuid.New()})
	require.NoError(t, err)

	_, err = jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("wrong"), nil
	})
	require.Error(t, err)
}

func TestIssueRequiresSecret(t *testing.T) {
	issuer := NewTokenIssuer(&config.Config{JWTExpiry: time.Hour})
	_, err := issuer.Issue(&models.User{ID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, 500, apperr.StatusOf(err))
}
