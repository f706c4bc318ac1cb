package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TokenKind enumerates the verification token families. Each kind has a
// fixed TTL and at most one pending token per user.
type TokenKind string

const (
	TokenEmailVerification TokenKind = "EMAIL_VERIFICATION"
	TokenPasswordReset     TokenKind = "PASSWORD_RESET"
	TokenPhoneVerification TokenKind = "PHONE_VERIFICATION"
	TokenTwoFactor         TokenKind = "TWO_FACTOR"
	TokenAccountRecovery   TokenKind = "ACCOUNT_RECOVERY"
	TokenEmailChange       TokenKind = "EMAIL_CHANGE"
	TokenPhoneChange       TokenKind = "PHONE_CHANGE"
)

// TTL returns the fixed lifetime for the kind.
func (k TokenKind) TTL() time.Duration {
	switch k {
	case TokenEmailVerification:
		return 24 * time.Hour
	case TokenPhoneVerification:
		return 10 * time.Minute
	case TokenTwoFactor:
		return 5 * time.Minute
	default:
		// PASSWORD_RESET, ACCOUNT_RECOVERY, EMAIL_CHANGE, PHONE_CHANGE
		return time.Hour
	}
}

// VerificationToken is an ephemeral proof-of-possession record. State
// transitions are one way: pending -> used, invalidated or expired.
type VerificationToken struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID         `gorm:"type:uuid;not null;index:idx_verification_user_kind" json:"user_id"`
	Token         string            `gorm:"size:64;not null;uniqueIndex" json:"-"`
	Kind          TokenKind         `gorm:"size:32;not null;index:idx_verification_user_kind" json:"kind"`
	OtpCode       string            `gorm:"size:6" json:"-"`
	ExpiresAt     time.Time         `gorm:"not null;index" json:"expires_at"`
	UsedAt        *time.Time        `json:"used_at,omitempty"`
	InvalidatedAt *time.Time        `json:"invalidated_at,omitempty"`
	Attempts      int               `json:"attempts"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	IPAddress     string            `gorm:"size:45" json:"-"`
	UserAgent     string            `gorm:"size:512" json:"-"`
	Data          datatypes.JSONMap `json:"-"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Valid reports whether the token can still be consumed at now.
func (t *VerificationToken) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt) && t.UsedAt == nil && t.InvalidatedAt == nil
}
