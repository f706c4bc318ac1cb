package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/models"
	"github.com/novalane/identity-backend/internal/tokens"
	"golang.org/x/crypto/bcrypt"
)

// ChangePassword swaps the hash for an authenticated user after checking
// the current password. All pending reset tokens die with the old hash.
func (s *AuthService) ChangePassword(userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := findUserByID(s.db, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return apperr.AccountNotFound("User not found")
	}
	if user.Security.PasswordHash == "" {
		return apperr.PasswordLoginUnavailable()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Security.PasswordHash), []byte(currentPassword)); err != nil {
		return apperr.InvalidCredentials()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return err
	}

	if err := s.applyNewPassword(user.ID, string(hash)); err != nil {
		return err
	}

	slog.Info("password changed", "user_id", user.ID.String())
	return nil
}

// ForgotPassword starts a reset. The response is identical whether or
// not the address exists, so the endpoint cannot be used to enumerate
// accounts; only the rate limiter sees the difference.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, meta tokens.RequestMeta) error {
	allowed, err := s.limiter.Allow(ctx, "forgot:"+strings.ToLower(email))
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.TooManyAttempts()
	}

	user, err := findUserByEmail(s.db, email)
	if err != nil {
		return err
	}
	if user == nil || !user.IsActive || user.Security.PasswordHash == "" {
		slog.Info("password reset requested for ineligible address")
		return nil
	}

	token, err := s.tokens.CreatePasswordReset(user.ID, meta)
	if err != nil {
		return err
	}

	s.sendResetLink(user, token.Token)
	slog.Info("password reset token issued", "user_id", user.ID.String())
	return nil
}

// ResetPassword finishes a reset. The token is consumed only after the
// new hash is persisted; the lockout state clears with the password.
func (s *AuthService) ResetPassword(rawToken, newPassword string) error {
	token, err := s.tokens.VerifyPasswordResetToken(rawToken)
	if err != nil {
		logDomainFailure("password reset", err)
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return err
	}

	if err := s.applyNewPassword(token.UserID, string(hash)); err != nil {
		return err
	}
	if err := s.tokens.MarkUsed(token.ID); err != nil {
		return err
	}

	slog.Info("password reset completed", "user_id", token.UserID.String())
	return nil
}

// applyNewPassword writes the hash, stamps the change time, clears the
// lockout, and invalidates every outstanding reset token.
func (s *AuthService) applyNewPassword(userID uuid.UUID, hash string) error {
	now := time.Now()
	if err := s.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"security_password_hash":        hash,
			"security_password_changed_at":  now,
			"security_last_password_change": now,
			"security_login_attempts":       0,
			"security_lock_until":           nil,
		}).Error; err != nil {
		return err
	}
	return s.tokens.InvalidateUserTokens(userID, models.TokenPasswordReset)
}
