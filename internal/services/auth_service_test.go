package services

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/config"
	"github.com/novalane/identity-backend/internal/dto"
	"github.com/novalane/identity-backend/internal/models"
	"github.com/novalane/identity-backend/internal/notify"
	"github.com/novalane/identity-backend/internal/ratelimit"
	"github.com/novalane/identity-backend/internal/signup"
	"github.com/novalane/identity-backend/internal/social"
	"github.com/novalane/identity-backend/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeVerifier struct {
	profile *social.Profile
	err     error
}

func (f *fakeVerifier) Verify(ctx context.Context, provider, code string) (*social.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

type fixture struct {
	db       *gorm.DB
	svc      *AuthService
	verifier *fakeVerifier
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.RoleAssignment{}, &models.AuthMethod{},
		&models.Role{}, &models.VerificationToken{}, &models.SignupSession{},
	))

	cfg := &config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour}
	verifier := &fakeVerifier{}
	svc := NewAuthService(
		db, cfg,
		signup.NewSessionStore(db, 30*time.Minute),
		tokens.NewStore(db),
		verifier,
		notify.LogDispatcher{},
		ratelimit.Unlimited{},
	)
	return &fixture{db: db, svc: svc, verifier: verifier, cfg: cfg}
}

func (f *fixture) seedRole(t *testing.T, name string, level int, canSignUp, canLogin bool) models.Role {
	t.Helper()
	r := models.Role{
		ID: uuid.New(), Name: name, Level: level,
		CanSignUp: canSignUp, CanLogin: canLogin, IsActive: true,
	}
	require.NoError(t, f.db.Create(&r).Error)
	return r
}

func googleProfile(verified bool) *social.Profile {
	return &social.Profile{
		Provider:      social.ProviderGoogle,
		ProviderID:    "g-1001",
		Email:         "jamie@example.com",
		FirstName:     "Jamie",
		LastName:      "Doe",
		EmailVerified: verified,
		AccessToken:   "at",
	}
}

func allProfileFields() *dto.CompleteProfileRequest {
	return &dto.CompleteProfileRequest{
		FirstName: "Jamie", LastName: "Doe",
		Country: "DE", Timezone: "Europe/Berlin", Language: "en",
	}
}

func TestSocialSignupFlow(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)
	f.verifier.profile = googleProfile(true)

	preview, err := f.svc.InitiateSocialSignup(context.Background(), "google", "code", tokens.RequestMeta{})
	require.NoError(t, err)
	require.NotEmpty(t, preview.SessionToken)
	assert.Equal(t, "jamie@example.com", preview.Email)

	result, err := f.svc.CompleteSocialSignupWithRoles(preview.SessionToken, []string{models.RoleBuyer}, tokens.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, result.RequiresProfileCompletion)
	// Email is provider-verified but the profile is not complete yet.
	assert.Empty(t, result.Token)

	user, err := findUserByEmail(f.db, "jamie@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, user.IsEmailVerified)
	assert.True(t, user.HasCompletedStep(models.StepSocialAuth))
	assert.True(t, user.HasCompletedStep(models.StepVerification))
	require.Len(t, user.AuthMethods, 1)
	assert.True(t, user.AuthMethods[0].IsPrimary)

	// Consuming the same session again must fail.
	_, err = f.svc.CompleteSocialSignupWithRoles(preview.SessionToken, []string{models.RoleBuyer}, tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))

	// Completing the profile finishes the signup and mints a token.
	profileResult, err := f.svc.CompleteProfile(user.ID, allProfileFields())
	require.NoError(t, err)
	assert.True(t, profileResult.SignupCompleted)
	assert.NotEmpty(t, profileResult.Token)
}

func TestSocialSignupRejectsInvalidRoles(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)
	f.verifier.profile = googleProfile(true)

	preview, err := f.svc.InitiateSocialSignup(context.Background(), "google", "code", tokens.RequestMeta{})
	require.NoError(t, err)

	_, err = f.svc.CompleteSocialSignupWithRoles(preview.SessionToken, []string{"Ghost"}, tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))

	// An empty selection never reaches the catalog; no zero-role user
	// may be created.
	_, err = f.svc.CompleteSocialSignupWithRoles(preview.SessionToken, nil, tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))
	user, err := findUserByEmail(f.db, "jamie@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)

	// The failed transactions must not have consumed the session.
	_, err = f.svc.CompleteSocialSignupWithRoles(preview.SessionToken, []string{models.RoleBuyer}, tokens.RequestMeta{})
	require.NoError(t, err)
}

func TestSocialSignupDuplicateIdentity(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)
	f.verifier.profile = googleProfile(true)

	first, err := f.svc.InitiateSocialSignup(context.Background(), "google", "code", tokens.RequestMeta{})
	require.NoError(t, err)
	_, err = f.svc.CompleteSocialSignupWithRoles(first.SessionToken, []string{models.RoleBuyer}, tokens.RequestMeta{})
	require.NoError(t, err)

	second, err := f.svc.InitiateSocialSignup(context.Background(), "google", "code", tokens.RequestMeta{})
	require.NoError(t, err)
	_, err = f.svc.CompleteSocialSignupWithRoles(second.SessionToken, []string{models.RoleBuyer}, tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 409, apperr.StatusOf(err))
}

func TestRoleSnapshotImmutability(t *testing.T) {
	f := newFixture(t)
	role := f.seedRole(t, models.RoleSeller, 2, true, true)
	f.verifier.profile = googleProfile(true)

	preview, err := f.svc.InitiateSocialSignup(context.Background(), "google", "code", tokens.RequestMeta{})
	require.NoError(t, err)
	_, err = f.svc.CompleteSocialSignupWithRoles(preview.SessionToken, []string{models.RoleSeller}, tokens.RequestMeta{})
	require.NoError(t, err)

	// Raise the catalog level after assignment.
	require.NoError(t, f.db.Model(&models.Role{}).Where("id = ?", role.ID).Update("level", 9).Error)

	user, err := findUserByEmail(f.db, "jamie@example.com")
	require.NoError(t, err)
	require.Len(t, user.Roles, 1)
	assert.Equal(t, 2, user.Roles[0].Level)
	assert.Equal(t, role.ID, user.Roles[0].RoleID)
}

func TestTokenGatingOnNonLoginableRole(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleSeller, 2, true, false)
	f.verifier.profile = googleProfile(true)

	preview, err := f.svc.InitiateSocialSignup(context.Background(), "google", "code", tokens.RequestMeta{})
	require.NoError(t, err)
	result, err := f.svc.CompleteSocialSignupWithRoles(preview.SessionToken, []string{models.RoleSeller}, tokens.RequestMeta{})
	require.NoError(t, err)
	assert.Empty(t, result.Token)

	user, err := findUserByEmail(f.db, "jamie@example.com")
	require.NoError(t, err)

	// Even full profile completion never mints a token for a
	// non-loginable role set.
	profileResult, err := f.svc.CompleteProfile(user.ID, allProfileFields())
	require.NoError(t, err)
	assert.True(t, profileResult.SignupCompleted)
	assert.Empty(t, profileResult.Token)
}

func TestEmailSignupFlow(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)

	resp, err := f.svc.InitiateEmailSignup("New@Example.com", "s3cret-pass", []string{models.RoleBuyer}, tokens.RequestMeta{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionToken)

	// No user row exists yet.
	user, err := findUserByEmail(f.db, "new@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)

	var session models.SignupSession
	require.NoError(t, f.db.Where("session_token = ?", resp.SessionToken).First(&session).Error)
	require.Len(t, session.VerificationCode, 6)

	// Wrong code is rejected and the session survives.
	_, err = f.svc.CompleteEmailSignup(resp.SessionToken, "000000", tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))

	result, err := f.svc.CompleteEmailSignup(resp.SessionToken, session.VerificationCode, tokens.RequestMeta{})
	require.NoError(t, err)
	assert.Empty(t, result.Token)

	user, err = findUserByEmail(f.db, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.False(t, user.IsEmailVerified)
	assert.True(t, user.HasCompletedStep(models.StepEmailRegistration))
	assert.NotEmpty(t, user.Security.PasswordHash)

	// Completing the profile alone is not enough: verification missing.
	profileResult, err := f.svc.CompleteProfile(user.ID, allProfileFields())
	require.NoError(t, err)
	assert.False(t, profileResult.SignupCompleted)
	assert.Empty(t, profileResult.Token)

	// The pending email verification token finishes the signup, and
	// verification always mints a session token.
	active, err := tokens.NewStore(f.db).ActiveToken(user.ID, models.TokenEmailVerification)
	require.NoError(t, err)
	require.NotNil(t, active)

	authResult, err := f.svc.VerifyEmail(active.Token, active.OtpCode, tokens.RequestMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, authResult.Token)
	assert.True(t, authResult.User.IsEmailVerified)

	user, err = findUserByEmail(f.db, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "completed", user.SignupStatus.Step)
	assert.NotNil(t, user.SignupStatus.CompletedAt)
}

func TestEmailSignupDuplicate(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)

	registerEmailUser(t, f, "taken@example.com", "password-1")

	_, err := f.svc.InitiateEmailSignup("taken@example.com", "password-2", []string{models.RoleBuyer}, tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 409, apperr.StatusOf(err))
}

func TestEmailSignupRejectsMalformedRoleSelection(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)
	f.seedRole(t, models.RoleSeller, 2, true, true)

	meta := tokens.RequestMeta{}
	cases := [][]string{
		nil,
		{models.RoleBuyer, models.RoleBuyer},
		{models.RoleBuyer, models.RoleSeller, models.RoleBuyer, models.RoleSeller},
	}
	for _, names := range cases {
		_, err := f.svc.InitiateEmailSignup("zero@example.com", "password-1", names, meta)
		require.Error(t, err)
		assert.Equal(t, 400, apperr.StatusOf(err))
	}

	var sessions int64
	require.NoError(t, f.db.Model(&models.SignupSession{}).Count(&sessions).Error)
	assert.Zero(t, sessions)
	var users int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&users).Error)
	assert.Zero(t, users)
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.EmailLogin(context.Background(), "nobody@example.com", "password-1", tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 404, apperr.StatusOf(err))
}

func TestLoginLockout(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)
	user := registerEmailUser(t, f, "lock@example.com", "right-password")

	ctx := context.Background()
	for i := 0; i < maxLoginAttempts; i++ {
		_, err := f.svc.EmailLogin(ctx, "lock@example.com", "wrong-password", tokens.RequestMeta{})
		require.Error(t, err)
		assert.Equal(t, 401, apperr.StatusOf(err))
	}

	// Locked now, and the lock check precedes the password compare: the
	// correct password is rejected with the lock error, not accepted.
	_, err := f.svc.EmailLogin(ctx, "lock@example.com", "right-password", tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 403, apperr.StatusOf(err))

	// Expire the lock manually; login works and resets the counter.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("security_lock_until", past).Error)

	result, err := f.svc.EmailLogin(ctx, "lock@example.com", "right-password", tokens.RequestMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	reloaded, err := findUserByID(f.db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Security.LoginAttempts)
}

func TestSocialLoginUnknownIdentity(t *testing.T) {
	f := newFixture(t)
	f.verifier.profile = googleProfile(true)

	_, err := f.svc.SocialLogin(context.Background(), "google", "code", tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 404, apperr.StatusOf(err))
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)
	user := registerEmailUser(t, f, "reset@example.com", "old-password")

	ctx := context.Background()

	// Unknown addresses succeed silently.
	require.NoError(t, f.svc.ForgotPassword(ctx, "ghost@example.com", tokens.RequestMeta{}))

	require.NoError(t, f.svc.ForgotPassword(ctx, "reset@example.com", tokens.RequestMeta{}))
	token, err := tokens.NewStore(f.db).ActiveToken(user.ID, models.TokenPasswordReset)
	require.NoError(t, err)
	require.NotNil(t, token)

	require.NoError(t, f.svc.ResetPassword(token.Token, "new-password"))

	// The old password no longer works; the new one does.
	_, err = f.svc.EmailLogin(ctx, "reset@example.com", "old-password", tokens.RequestMeta{})
	require.Error(t, err)
	result, err := f.svc.EmailLogin(ctx, "reset@example.com", "new-password", tokens.RequestMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	// The consumed token cannot be replayed.
	err = f.svc.ResetPassword(token.Token, "another-password")
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)
	user := registerEmailUser(t, f, "change@example.com", "current-pass")

	err := f.svc.ChangePassword(user.ID, "wrong", "next-pass")
	require.Error(t, err)
	assert.Equal(t, 401, apperr.StatusOf(err))

	require.NoError(t, f.svc.ChangePassword(user.ID, "current-pass", "next-pass"))

	_, err = f.svc.EmailLogin(context.Background(), "change@example.com", "next-pass", tokens.RequestMeta{})
	require.NoError(t, err)
}

func TestLinkAndUnlinkAuthMethod(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)
	user := registerEmailUser(t, f, "link@example.com", "password-1")

	f.verifier.profile = &social.Profile{
		Provider: social.ProviderGitHub, ProviderID: "gh-7",
		Email: "link@example.com", EmailVerified: true, AccessToken: "at",
	}

	linked, err := f.svc.LinkAuthMethod(context.Background(), user.ID, "github", "code")
	require.NoError(t, err)
	assert.Equal(t, social.ProviderGitHub, linked.Provider)
	assert.False(t, linked.IsPrimary)

	// Linking the same provider twice is rejected.
	_, err = f.svc.LinkAuthMethod(context.Background(), user.ID, "github", "code")
	require.Error(t, err)
	assert.Equal(t, 409, apperr.StatusOf(err))

	// Social login via the linked identity now works.
	result, err := f.svc.SocialLogin(context.Background(), "github", "code", tokens.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)

	// The primary (email) method cannot be unlinked.
	reloaded, err := findUserByID(f.db, user.ID)
	require.NoError(t, err)
	primary := reloaded.PrimaryAuthMethod()
	require.NotNil(t, primary)
	err = f.svc.UnlinkAuthMethod(user.ID, primary.ID)
	require.Error(t, err)
	assert.Equal(t, 400, apperr.StatusOf(err))

	require.NoError(t, f.svc.UnlinkAuthMethod(user.ID, linked.ID))
	methods, err := f.svc.GetAuthMethods(user.ID)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestDeactivateBlocksLogin(t *testing.T) {
	f := newFixture(t)
	f.seedRole(t, models.RoleBuyer, 1, true, true)
	user := registerEmailUser(t, f, "gone@example.com", "password-1")

	require.NoError(t, f.svc.Deactivate(user.ID))

	_, err := f.svc.EmailLogin(context.Background(), "gone@example.com", "password-1", tokens.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, 403, apperr.StatusOf(err))

	result, err := f.svc.Reactivate("gone@example.com", "password-1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
}

// registerEmailUser drives a full email signup plus verification so the
// returned user can log in with the password.
func registerEmailUser(t *testing.T, f *fixture, email, password string) *models.User {
	t.Helper()

	resp, err := f.svc.InitiateEmailSignup(email, password, []string{models.RoleBuyer}, tokens.RequestMeta{})
	require.NoError(t, err)

	var session models.SignupSession
	require.NoError(t, f.db.Where("session_token = ?", resp.SessionToken).First(&session).Error)

	_, err = f.svc.CompleteEmailSignup(resp.SessionToken, session.VerificationCode, tokens.RequestMeta{})
	require.NoError(t, err)

	user, err := findUserByEmail(f.db, email)
	require.NoError(t, err)
	require.NotNil(t, user)

	_, err = f.svc.CompleteProfile(user.ID, allProfileFields())
	require.NoError(t, err)

	active, err := tokens.NewStore(f.db).ActiveToken(user.ID, models.TokenEmailVerification)
	require.NoError(t, err)
	require.NotNil(t, active)
	_, err = f.svc.VerifyEmail(active.Token, active.OtpCode, tokens.RequestMeta{})
	require.NoError(t, err)

	user, err = findUserByEmail(f.db, email)
	require.NoError(t, err)
	return user
}
