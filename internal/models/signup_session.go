package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProviderEmail is the provider value for password signups; anything else
// names a social provider.
const ProviderEmail = "email"

// SignupSession correlates a client-presented opaque token with signup
// data collected before the permanent user exists. It is created at
// initiation, consumed exactly once at completion, and otherwise expires.
// Consumption happens inside the same transaction that creates the user.
type SignupSession struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionToken     string         `gorm:"size:64;not null;uniqueIndex" json:"-"`
	Provider         string         `gorm:"size:32;not null" json:"provider"`
	Email            string         `gorm:"size:255;not null;index" json:"email"`
	Payload          datatypes.JSON `json:"-"`
	VerificationCode string         `gorm:"size:6" json:"-"`
	ExpiresAt        time.Time      `gorm:"not null;index" json:"expires_at"`
	IPAddress        string         `gorm:"size:45" json:"-"`
	UserAgent        string         `gorm:"size:512" json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (s *SignupSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
