package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/dto"
	"github.com/novalane/identity-backend/internal/models"
	"github.com/novalane/identity-backend/internal/tokens"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxLoginAttempts = 5
	lockDuration     = 15 * time.Minute
)

// EmailLogin authenticates a password login. The lock check runs before
// the password compare so a locked account leaks nothing about the
// password, and failed compares count toward the lockout.
func (s *AuthService) EmailLogin(ctx context.Context, email, password string, meta tokens.RequestMeta) (*dto.AuthResult, error) {
	allowed, err := s.limiter.Allow(ctx, "login:"+meta.IPAddress)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperr.TooManyAttempts()
	}

	user, err := findUserByEmail(s.db, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.AccountNotFound("User not found")
	}
	if !user.IsActive {
		return nil, apperr.AccountDeactivated()
	}
	if user.IsLocked(time.Now()) {
		logDomainFailure("email login", apperr.AccountLocked())
		return nil, apperr.AccountLocked()
	}
	if user.Security.PasswordHash == "" {
		return nil, apperr.PasswordLoginUnavailable()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Security.PasswordHash), []byte(password)); err != nil {
		if err := s.recordFailedLogin(user); err != nil {
			return nil, err
		}
		return nil, apperr.InvalidCredentials()
	}

	if !user.HasLoginableRole() {
		return nil, apperr.NoLoginableRoles()
	}
	if !user.IsEmailVerified {
		return nil, apperr.EmailVerificationRequired()
	}

	return s.finishLogin(user, models.ProviderEmail)
}

// SocialLogin verifies the authorization code and logs in the user bound
// to that provider identity. No account is created here; an unknown
// identity is told to sign up instead.
func (s *AuthService) SocialLogin(ctx context.Context, provider, code string, meta tokens.RequestMeta) (*dto.AuthResult, error) {
	profile, err := s.verifier.Verify(ctx, provider, code)
	if err != nil {
		logDomainFailure("social login", err)
		return nil, err
	}

	user, err := findUserBySocial(s.db, profile.Provider, profile.ProviderID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.AccountNotFound("No account for this social profile, please sign up first")
	}
	if !user.IsActive {
		return nil, apperr.AccountDeactivated()
	}
	if !user.HasLoginableRole() {
		return nil, apperr.NoLoginableRoles()
	}

	// Refresh the stored provider tokens on every successful login.
	if err := s.db.Model(&models.AuthMethod{}).
		Where("provider = ? AND provider_id = ?", profile.Provider, profile.ProviderID).
		Updates(map[string]interface{}{
			"access_token":  profile.AccessToken,
			"refresh_token": profile.RefreshToken,
			"expires_at":    profile.ExpiresAt,
			"last_used_at":  time.Now(),
		}).Error; err != nil {
		return nil, err
	}

	return s.finishLogin(user, provider)
}

func (s *AuthService) finishLogin(user *models.User, provider string) (*dto.AuthResult, error) {
	token, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}
	if err := touchLogin(s.db, user.ID); err != nil {
		return nil, err
	}

	slog.Info("login succeeded", "user_id", user.ID.String(), "provider", provider)
	return &dto.AuthResult{User: dto.NewUserResponse(user), Token: token}, nil
}

// recordFailedLogin bumps the attempt counter and applies the lock once
// the threshold is hit.
func (s *AuthService) recordFailedLogin(user *models.User) error {
	attempts := user.Security.LoginAttempts + 1
	updates := map[string]interface{}{
		"security_login_attempts": attempts,
	}
	if attempts >= maxLoginAttempts {
		lockUntil := time.Now().Add(lockDuration)
		updates["security_lock_until"] = lockUntil
		slog.Warn("account locked after repeated failures", "user_id", user.ID.String(), "attempts", attempts)
	}
	return s.db.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error
}

// Deactivate soft-disables the account. Tokens already issued expire on
// their own; new logins are rejected immediately.
func (s *AuthService) Deactivate(userID uuid.UUID) error {
	res := s.db.Model(&models.User{}).
		Where("id = ? AND is_active", userID).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.AccountNotFound("User not found or already deactivated")
	}
	slog.Info("account deactivated", "user_id", userID.String())
	return nil
}

// Reactivate re-enables a deactivated account after the password checks
// out. It goes through the same lockout bookkeeping as a login.
func (s *AuthService) Reactivate(email, password string) (*dto.AuthResult, error) {
	user, err := findUserByEmail(s.db, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.AccountNotFound("User not found")
	}
	if user.IsActive {
		return nil, apperr.New(400, "Account is already active")
	}
	if user.Security.PasswordHash == "" {
		return nil, apperr.PasswordLoginUnavailable()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Security.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.InvalidCredentials()
	}

	if err := s.db.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", true).Error; err != nil {
		return nil, err
	}
	user.IsActive = true

	slog.Info("account reactivated", "user_id", user.ID.String())
	return s.finishLogin(user, models.ProviderEmail)
}
