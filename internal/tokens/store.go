// Package tokens issues and validates short-lived verification tokens
// and OTP codes (email/phone verification, password reset, 2FA, account
// recovery, email/phone change).
package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxAttempts failed checks permanently invalidate a token.
const maxAttempts = 5

// attemptWindow / attemptsPerWindow bound OTP guesses per (user, kind).
const (
	attemptWindow     = 60 * time.Second
	attemptsPerWindow = 3
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RequestMeta is the request context recorded on a token.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Create issues a fresh token of the given kind for the user and
// invalidates all prior pending tokens of that kind, in one transaction.
// withOtp attaches a 6-digit code for OTP-style kinds.
func (s *Store) Create(userID uuid.UUID, kind models.TokenKind, withOtp bool, meta RequestMeta, data datatypes.JSONMap) (*models.VerificationToken, error) {
	raw, err := RandomToken()
	if err != nil {
		return nil, err
	}

	token := &models.VerificationToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     raw,
		Kind:      kind,
		ExpiresAt: time.Now().Add(kind.TTL()),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Data:      data,
	}
	if withOtp {
		otp, err := RandomOtp()
		if err != nil {
			return nil, err
		}
		token.OtpCode = otp
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := invalidatePending(tx, userID, kind); err != nil {
			return err
		}
		return tx.Create(token).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s token: %w", kind, err)
	}
	return token, nil
}

func (s *Store) CreateEmailVerification(userID uuid.UUID, meta RequestMeta) (*models.VerificationToken, error) {
	return s.Create(userID, models.TokenEmailVerification, true, meta, nil)
}

func (s *Store) CreatePasswordReset(userID uuid.UUID, meta RequestMeta) (*models.VerificationToken, error) {
	return s.Create(userID, models.TokenPasswordReset, false, meta, nil)
}

func (s *Store) CreatePhoneVerification(userID uuid.UUID, phone string, meta RequestMeta) (*models.VerificationToken, error) {
	return s.Create(userID, models.TokenPhoneVerification, true, meta, datatypes.JSONMap{"phone": phone})
}

func (s *Store) CreateTwoFactor(userID uuid.UUID, meta RequestMeta) (*models.VerificationToken, error) {
	return s.Create(userID, models.TokenTwoFactor, true, meta, nil)
}

func (s *Store) CreateAccountRecovery(userID uuid.UUID, meta RequestMeta) (*models.VerificationToken, error) {
	return s.Create(userID, models.TokenAccountRecovery, false, meta, nil)
}

// ConsumeEmailToken validates an EMAIL_VERIFICATION token and marks it
// used. When otpCode is supplied it must match exactly; a mismatch counts
// an attempt and fails.
func (s *Store) ConsumeEmailToken(raw, otpCode string) (*models.VerificationToken, error) {
	token, err := s.pending(raw, models.TokenEmailVerification, "Invalid or expired verification token")
	if err != nil {
		return nil, err
	}

	if otpCode != "" && token.OtpCode != otpCode {
		if err := s.IncrementAttempt(token.ID); err != nil {
			return nil, err
		}
		return nil, apperr.InvalidOtp()
	}

	if err := s.MarkUsed(token.ID); err != nil {
		return nil, err
	}
	return token, nil
}

// VerifyPasswordResetToken returns the pending PASSWORD_RESET token
// without consuming it; the caller marks it used after the new hash is
// written.
func (s *Store) VerifyPasswordResetToken(raw string) (*models.VerificationToken, error) {
	return s.pending(raw, models.TokenPasswordReset, "Invalid or expired reset token")
}

// ConsumeOtp validates an OTP-keyed token (phone verification, 2FA) by
// user and code, marking it used.
func (s *Store) ConsumeOtp(userID uuid.UUID, kind models.TokenKind, otpCode string) (*models.VerificationToken, error) {
	var token models.VerificationToken
	err := s.db.Where(
		"user_id = ? AND kind = ? AND otp_code = ? AND expires_at > ? AND used_at IS NULL AND invalidated_at IS NULL",
		userID, kind, otpCode, time.Now(),
	).First(&token).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.InvalidOrExpiredToken("Invalid or expired OTP code")
		}
		return nil, err
	}

	if err := s.MarkUsed(token.ID); err != nil {
		return nil, err
	}
	return &token, nil
}

// MarkUsed stamps usedAt. Used tokens never validate again.
func (s *Store) MarkUsed(id uuid.UUID) error {
	now := time.Now()
	return s.db.Model(&models.VerificationToken{}).
		Where("id = ?", id).
		Update("used_at", now).Error
}

// InvalidateUserTokens invalidates (without deleting) every pending
// token of the kind for the user; empty kind means all kinds.
func (s *Store) InvalidateUserTokens(userID uuid.UUID, kind models.TokenKind) error {
	return invalidatePending(s.db, userID, kind)
}

// IncrementAttempt counts a failed check. Reaching the attempt cap
// invalidates the token permanently, expired or not.
func (s *Store) IncrementAttempt(id uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var token models.VerificationToken
		if err := tx.First(&token, "id = ?", id).Error; err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]interface{}{
			"attempts":        token.Attempts + 1,
			"last_attempt_at": now,
		}
		if token.Attempts+1 >= maxAttempts {
			updates["invalidated_at"] = now
		}
		return tx.Model(&token).Updates(updates).Error
	})
}

// CheckAttemptRate enforces the rolling per-(user, kind) attempt window.
func (s *Store) CheckAttemptRate(userID uuid.UUID, kind models.TokenKind) error {
	windowStart := time.Now().Add(-attemptWindow)

	var recent int64
	err := s.db.Model(&models.VerificationToken{}).
		Where("user_id = ? AND kind = ? AND last_attempt_at >= ?", userID, kind, windowStart).
		Count(&recent).Error
	if err != nil {
		return err
	}

	if recent >= attemptsPerWindow {
		return apperr.TooManyAttempts()
	}
	return nil
}

// ActiveToken returns the single pending token of the kind, if any.
func (s *Store) ActiveToken(userID uuid.UUID, kind models.TokenKind) (*models.VerificationToken, error) {
	var token models.VerificationToken
	err := s.db.Where(
		"user_id = ? AND kind = ? AND expires_at > ? AND used_at IS NULL AND invalidated_at IS NULL",
		userID, kind, time.Now(),
	).First(&token).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

func (s *Store) pending(raw string, kind models.TokenKind, notFoundMsg string) (*models.VerificationToken, error) {
	var token models.VerificationToken
	err := s.db.Where(
		"token = ? AND kind = ? AND expires_at > ? AND used_at IS NULL AND invalidated_at IS NULL",
		raw, kind, time.Now(),
	).First(&token).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.InvalidOrExpiredToken(notFoundMsg)
		}
		return nil, err
	}
	return &token, nil
}

func invalidatePending(tx *gorm.DB, userID uuid.UUID, kind models.TokenKind) error {
	q := tx.Model(&models.VerificationToken{}).
		Where("user_id = ? AND used_at IS NULL AND invalidated_at IS NULL", userID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	return q.Update("invalidated_at", time.Now()).Error
}

// RandomToken returns 32 random bytes hex-encoded.
func RandomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RandomOtp returns a 6-digit numeric code.
func RandomOtp() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
