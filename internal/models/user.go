package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Signup step names recorded in SignupStatus.CompletedSteps.
const (
	StepSocialAuth        = "social_auth"
	StepEmailRegistration = "email_registration"
	StepRoleSelection     = "role_selection"
	StepProfileInfo       = "profile_info"
	StepVerification      = "verification"
)

// RequiredSignupSteps is the set that must appear in CompletedSteps
// before a signup counts as completed.
var RequiredSignupSteps = []string{StepRoleSelection, StepProfileInfo, StepVerification}

// User is the credential/identity record. Role assignments and auth
// methods live in child tables; the security and signup-progress blocks
// are embedded columns.
type User struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email       string     `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Username    *string    `gorm:"size:100;uniqueIndex" json:"username,omitempty"`
	FirstName   string     `gorm:"size:100" json:"first_name,omitempty"`
	LastName    string     `gorm:"size:100" json:"last_name,omitempty"`
	Avatar      string     `gorm:"size:512" json:"avatar,omitempty"`
	Phone       string     `gorm:"size:32" json:"phone,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      string     `gorm:"size:10" json:"gender,omitempty"`
	Country     string     `gorm:"size:100" json:"country,omitempty"`
	Timezone    string     `gorm:"size:64" json:"timezone,omitempty"`
	Language    string     `gorm:"size:16" json:"language,omitempty"`

	IsEmailVerified   bool       `json:"is_email_verified"`
	IsPhoneVerified   bool       `json:"is_phone_verified"`
	IsActive          bool       `gorm:"default:true" json:"is_active"`
	IsProfileComplete bool       `json:"is_profile_complete"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	EmailVerifiedAt   *time.Time `json:"email_verified_at,omitempty"`
	PhoneVerifiedAt   *time.Time `json:"phone_verified_at,omitempty"`

	Roles       []RoleAssignment `gorm:"foreignKey:UserID" json:"roles"`
	AuthMethods []AuthMethod     `gorm:"foreignKey:UserID" json:"-"`

	Security          SecurityBlock     `gorm:"embedded;embeddedPrefix:security_" json:"-"`
	SignupStatus      SignupStatus      `gorm:"embedded;embeddedPrefix:signup_" json:"signup_status"`
	ProfileCompletion ProfileCompletion `gorm:"embedded;embeddedPrefix:profile_" json:"profile_completion"`

	SignupIP        string `gorm:"size:45" json:"-"`
	SignupUserAgent string `gorm:"size:512" json:"-"`
	SignupSource    string `gorm:"size:16;default:'web'" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// SecurityBlock holds the password hash, 2FA material and the
// login-attempt lockout state.
type SecurityBlock struct {
	PasswordHash       string                      `gorm:"size:128" json:"-"`
	PasswordChangedAt  *time.Time                  `json:"-"`
	TwoFactorEnabled   bool                        `json:"-"`
	TwoFactorSecret    string                      `gorm:"size:64" json:"-"`
	RecoveryCodes      datatypes.JSONSlice[string] `json:"-"`
	LoginAttempts      int                         `json:"-"`
	LockUntil          *time.Time                  `json:"-"`
	LastPasswordChange *time.Time                  `json:"-"`
}

// SignupStatus tracks where an in-progress signup stands. Step moves
// initial -> profile -> verification -> completed; CompletedSteps is the
// authoritative record used to decide completion.
type SignupStatus struct {
	Step           string                      `gorm:"size:16;default:'initial'" json:"step"`
	CompletedSteps datatypes.JSONSlice[string] `json:"completed_steps"`
	CurrentStep    string                      `gorm:"size:32" json:"current_step"`
	StartedAt      time.Time                   `json:"started_at"`
	CompletedAt    *time.Time                  `json:"completed_at,omitempty"`
}

type ProfileCompletion struct {
	PersonalInfo   bool                        `json:"personal_info"`
	ContactInfo    bool                        `json:"contact_info"`
	Preferences    bool                        `json:"preferences"`
	RequiredFields datatypes.JSONSlice[string] `json:"required_fields"`
	CompletedAt    *time.Time                  `json:"completed_at,omitempty"`
}

// RoleAssignment is a denormalized snapshot of a catalog Role taken at
// assignment time. RoleID is kept for audit only; authorization reads the
// snapshot, never the catalog.
type RoleAssignment struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	RoleID     uuid.UUID `gorm:"type:uuid;not null" json:"role_id"`
	Name       string    `gorm:"size:50;not null" json:"name"`
	Level      int       `gorm:"not null" json:"level"`
	AssignedAt time.Time `json:"assigned_at"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	CanLogin   bool      `json:"can_login"`
}

// AuthMethod binds one identity provider (email, or an OAuth provider +
// subject) to a user. (provider, provider_id) is globally unique.
type AuthMethod struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"-"`
	Provider     string     `gorm:"size:32;not null;uniqueIndex:idx_auth_methods_identity" json:"provider"`
	ProviderID   string     `gorm:"size:255;not null;uniqueIndex:idx_auth_methods_identity" json:"-"`
	AccessToken  string     `gorm:"size:2048" json:"-"`
	RefreshToken string     `gorm:"size:2048" json:"-"`
	ExpiresAt    *time.Time `json:"-"`
	IsPrimary    bool       `json:"is_primary"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   time.Time  `json:"last_used_at"`
}

// AllRolesCanLogin reports whether every assigned role permits login.
// Signup completion mints a token only when this holds.
func (u *User) AllRolesCanLogin() bool {
	if len(u.Roles) == 0 {
		return false
	}
	for _, r := range u.Roles {
		if !r.CanLogin {
			return false
		}
	}
	return true
}

// HasLoginableRole reports whether at least one active assignment permits
// login; login requires this.
func (u *User) HasLoginableRole() bool {
	for _, r := range u.Roles {
		if r.CanLogin && r.IsActive {
			return true
		}
	}
	return false
}

func (u *User) IsLocked(now time.Time) bool {
	return u.Security.LockUntil != nil && u.Security.LockUntil.After(now)
}

func (u *User) HasCompletedStep(step string) bool {
	for _, s := range u.SignupStatus.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// PrimaryAuthMethod returns the method flagged primary, or nil.
func (u *User) PrimaryAuthMethod() *AuthMethod {
	for i := range u.AuthMethods {
		if u.AuthMethods[i].IsPrimary {
			return &u.AuthMethods[i]
		}
	}
	return nil
}
