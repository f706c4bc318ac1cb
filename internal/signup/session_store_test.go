package signup

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/models"
	"github.com/novalane/identity-backend/internal/social"
	"github.com/novalane/identity-backend/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) (*SessionStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.SignupSession{}))
	return NewSessionStore(db, 30*time.Minute), db
}

func sampleProfile() *social.Profile {
	return &social.Profile{
		Provider:      social.ProviderGoogle,
		ProviderID:    "sub-123",
		Email:         "Jamie@Example.com",
		FirstName:     "Jamie",
		LastName:      "Doe",
		EmailVerified: true,
		AccessToken:   "at",
	}
}

func TestSocialSessionRoundTrip(t *testing.T) {
	store, _ := testStore(t)

	token, err := store.CreateSocial(sampleProfile(), tokens.RequestMeta{IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	session, err := store.Get(token)
	require.NoError(t, err)
	assert.Equal(t, social.ProviderGoogle, session.Provider)
	assert.Equal(t, "jamie@example.com", session.Email)

	profile, err := DecodeSocial(session)
	require.NoError(t, err)
	assert.Equal(t, "sub-123", profile.ProviderID)
	assert.Equal(t, "Jamie@Example.com", profile.Email)
	assert.True(t, profile.EmailVerified)
}

func TestEmailSessionRoundTrip(t *testing.T) {
	store, _ := testStore(t)

	roleID := uuid.New()
	payload := EmailPayload{
		Email:        "new@example.com",
		PasswordHash: "$2a$12$hash",
		Roles:        []RoleSnapshot{{RoleID: roleID, Name: models.RoleBuyer, Level: 1, CanLogin: true}},
	}
	token, err := store.CreateEmail(payload, "123456", tokens.RequestMeta{})
	require.NoError(t, err)

	session, err := store.Get(token)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderEmail, session.Provider)
	assert.Equal(t, "123456", session.VerificationCode)

	decoded, err := DecodeEmail(session)
	require.NoError(t, err)
	assert.Equal(t, payload.PasswordHash, decoded.PasswordHash)
	require.Len(t, decoded.Roles, 1)
	assert.Equal(t, roleID, decoded.Roles[0].RoleID)
	assert.True(t, decoded.Roles[0].CanLogin)
}

func TestConsumeExactlyOnce(t *testing.T) {
	store, db := testStore(t)

	token, err := store.CreateSocial(sampleProfile(), tokens.RequestMeta{})
	require.NoError(t, err)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return store.ConsumeTx(tx, token)
	}))

	err = db.Transaction(func(tx *gorm.DB) error {
		return store.ConsumeTx(tx, token)
	})
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))

	_, err = store.Get(token)
	require.Error(t, err)
}

func TestExpiredSessionRejected(t *testing.T) {
	store, db := testStore(t)

	token, err := store.CreateSocial(sampleProfile(), tokens.RequestMeta{})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.SignupSession{}).
		Where("session_token = ?", token).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	_, err = store.Get(token)
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))

	err = db.Transaction(func(tx *gorm.DB) error {
		return store.ConsumeTx(tx, token)
	})
	require.Error(t, err)
}

func TestFindPendingEmailAndRotate(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.CreateEmail(EmailPayload{Email: "Pending@Example.com"}, "111111", tokens.RequestMeta{})
	require.NoError(t, err)

	session, err := store.FindPendingEmail("pending@example.com")
	require.NoError(t, err)
	require.NotNil(t, session)

	oldExpiry := session.ExpiresAt
	require.NoError(t, store.RotateCode(session.ID, "222222"))

	rotated, err := store.FindPendingEmail("pending@example.com")
	require.NoError(t, err)
	assert.Equal(t, "222222", rotated.VerificationCode)
	assert.True(t, rotated.ExpiresAt.After(oldExpiry) || rotated.ExpiresAt.Equal(oldExpiry))

	missing, err := store.FindPendingEmail("nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
