package tokens

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.VerificationToken{}))
	return NewStore(db)
}

func TestCreateInvalidatesPriorTokens(t *testing.T) {
	store := testStore(t)
	userID := uuid.New()

	first, err := store.CreateEmailVerification(userID, RequestMeta{})
	require.NoError(t, err)
	second, err := store.CreateEmailVerification(userID, RequestMeta{})
	require.NoError(t, err)

	active, err := store.ActiveToken(userID, models.TokenEmailVerification)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	var stale models.VerificationToken
	require.NoError(t, store.db.First(&stale, "id = ?", first.ID).Error)
	assert.NotNil(t, stale.InvalidatedAt)
}

func TestCreateLeavesOtherKindsAlone(t *testing.T) {
	store := testStore(t)
	userID := uuid.New()

	reset, err := store.CreatePasswordReset(userID, RequestMeta{})
	require.NoError(t, err)
	_, err = store.CreateEmailVerification(userID, RequestMeta{})
	require.NoError(t, err)

	active, err := store.ActiveToken(userID, models.TokenPasswordReset)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, reset.ID, active.ID)
}

func TestConsumeEmailToken(t *testing.T) {
	t.Run("consumes with matching otp", func(t *testing.T) {
		store := testStore(t)
		userID := uuid.New()
		token, err := store.CreateEmailVerification(userID, RequestMeta{})
		require.NoError(t, err)
		require.Len(t, token.OtpCode, 6)

		consumed, err := store.ConsumeEmailToken(token.Token, token.OtpCode)
		require.NoError(t, err)
		assert.Equal(t, token.ID, consumed.ID)

		// Second consumption must fail: the token is used.
		_, err = store.ConsumeEmailToken(token.Token, token.OtpCode)
		require.Error(t, err)
		assert.Equal(t, 400, apperr.StatusOf(err))
	})

	t.Run("otp mismatch counts an attempt", func(t *testing.T) {
		store := testStore(t)
		userID := uuid.New()
		token, err := store.CreateEmailVerification(userID, RequestMeta{})
		require.NoError(t, err)

		_, err = store.ConsumeEmailToken(token.Token, "000000")
		require.Error(t, err)

		var reloaded models.VerificationToken
		require.NoError(t, store.db.First(&reloaded, "id = ?", token.ID).Error)
		assert.Equal(t, 1, reloaded.Attempts)
		assert.NotNil(t, reloaded.LastAttemptAt)
	})

	t.Run("unknown token", func(t *testing.T) {
		store := testStore(t)
		_, err := store.ConsumeEmailToken("nope", "")
		require.Error(t, err)
		assert.Equal(t, 400, apperr.StatusOf(err))
	})
}

func TestAttemptCapInvalidates(t *testing.T) {
	store := testStore(t)
	userID := uuid.New()
	token, err := store.CreateEmailVerification(userID, RequestMeta{})
	require.NoError(t, err)

	for i := 0; i < maxAttempts; i++ {
		require.NoError(t, store.IncrementAttempt(token.ID))
	}

	var reloaded models.VerificationToken
	require.NoError(t, store.db.First(&reloaded, "id = ?", token.ID).Error)
	assert.Equal(t, maxAttempts, reloaded.Attempts)
	assert.NotNil(t, reloaded.InvalidatedAt)

	active, err := store.ActiveToken(userID, models.TokenEmailVerification)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCheckAttemptRate(t *testing.T) {
	store := testStore(t)
	userID := uuid.New()

	require.NoError(t, store.CheckAttemptRate(userID, models.TokenEmailVerification))

	// Three tokens with fresh attempt stamps fill the window.
	now := time.Now()
	for i := 0; i < attemptsPerWindow; i++ {
		raw, err := RandomToken()
		require.NoError(t, err)
		require.NoError(t, store.db.Create(&models.VerificationToken{
			ID: uuid.New(), UserID: userID, Token: raw,
			Kind: models.TokenEmailVerification, ExpiresAt: now.Add(time.Hour),
			Attempts: 1, LastAttemptAt: &now,
		}).Error)
	}

	err := store.CheckAttemptRate(userID, models.TokenEmailVerification)
	require.Error(t, err)
	assert.Equal(t, 429, apperr.StatusOf(err))

	// Attempts outside the window do not count.
	old := now.Add(-2 * attemptWindow)
	require.NoError(t, store.db.Model(&models.VerificationToken{}).
		Where("user_id = ?", userID).Update("last_attempt_at", old).Error)
	require.NoError(t, store.CheckAttemptRate(userID, models.TokenEmailVerification))
}

func TestConsumeOtp(t *testing.T) {
	store := testStore(t)
	userID := uuid.New()
	token, err := store.CreatePhoneVerification(userID, "+15550001234", RequestMeta{})
	require.NoError(t, err)

	_, err = store.ConsumeOtp(userID, models.TokenPhoneVerification, "999999")
	if token.OtpCode != "999999" {
		require.Error(t, err)
	}

	consumed, err := store.ConsumeOtp(userID, models.TokenPhoneVerification, token.OtpCode)
	require.NoError(t, err)
	assert.Equal(t, token.ID, consumed.ID)

	_, err = store.ConsumeOtp(userID, models.TokenPhoneVerification, token.OtpCode)
	require.Error(t, err)
}

func TestExpiredTokenNotPending(t *testing.T) {
	store := testStore(t)
	userID := uuid.New()
	token, err := store.CreatePasswordReset(userID, RequestMeta{})
	require.NoError(t, err)

	require.NoError(t, store.db.Model(&models.VerificationToken{}).
		Where("id = ?", token.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	_, err = store.VerifyPasswordResetToken(token.Token)
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))
}

func TestTokenKindTTLs(t *testing.T) {
	assert.Equal(t, 24*time.Hour, models.TokenEmailVerification.TTL())
	assert.Equal(t, 10*time.Minute, models.TokenPhoneVerification.TTL())
	assert.Equal(t, 5*time.Minute, models.TokenTwoFactor.TTL())
	assert.Equal(t, time.Hour, models.TokenPasswordReset.TTL())
	assert.Equal(t, time.Hour, models.TokenAccountRecovery.TTL())
}

func TestRandomOtpFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		otp, err := RandomOtp()
		require.NoError(t, err)
		require.Len(t, otp, 6)
		assert.GreaterOrEqual(t, otp, "100000")
		assert.LessOrEqual(t, otp, "999999")
	}
}
