package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/models"
)

type InitiateSocialSignupRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

// SocialSignupPreview is returned from signup initiation so the client
// can show who is about to register.
type SocialSignupPreview struct {
	SessionToken string `json:"session_token"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
}

type CompleteSocialSignupRequest struct {
	SessionToken string   `json:"session_token"`
	RoleNames    []string `json:"role_names"`
}

type InitiateEmailSignupRequest struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	RoleNames []string `json:"role_names"`
}

type InitiateEmailSignupResponse struct {
	SessionToken string `json:"session_token"`
}

type CompleteEmailSignupRequest struct {
	SessionToken     string `json:"session_token"`
	VerificationCode string `json:"verification_code"`
}

type CompleteProfileRequest struct {
	// UserID identifies the signup in progress; clients hold no JWT
	// until token gating clears.
	UserID      string     `json:"user_id,omitempty"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	Country     string     `json:"country,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	Language    string     `json:"language,omitempty"`
}

type UpdateProfileRequest = CompleteProfileRequest

type VerifyEmailRequest struct {
	Token   string `json:"token"`
	OtpCode string `json:"otp_code,omitempty"`
}

type VerifyPhoneRequest struct {
	OtpCode string `json:"otp_code"`
}

type ResendVerificationRequest struct {
	Email string `json:"email"`
}

type EmailLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SocialLoginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type LinkAuthMethodRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

type CheckEmailRequest struct {
	Email string `json:"email"`
}

type CheckUsernameRequest struct {
	Username string `json:"username"`
}

type AvailabilityResponse struct {
	Available bool `json:"available"`
}

// UserResponse is the public projection of a user.
type UserResponse struct {
	ID                uuid.UUID               `json:"id"`
	Email             string                  `json:"email"`
	Username          *string                 `json:"username,omitempty"`
	FirstName         string                  `json:"first_name,omitempty"`
	LastName          string                  `json:"last_name,omitempty"`
	Avatar            string                  `json:"avatar,omitempty"`
	Roles             []models.RoleAssignment `json:"roles"`
	IsEmailVerified   bool                    `json:"is_email_verified"`
	IsProfileComplete bool                    `json:"is_profile_complete"`
	SignupStatus      models.SignupStatus     `json:"signup_status"`
}

// NewUserResponse projects the model.
func NewUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:                u.ID,
		Email:             u.Email,
		Username:          u.Username,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		Avatar:            u.Avatar,
		Roles:             u.Roles,
		IsEmailVerified:   u.IsEmailVerified,
		IsProfileComplete: u.IsProfileComplete,
		SignupStatus:      u.SignupStatus,
	}
}

// SignupResult is returned from signup completion. Token is empty until
// the completion conditions allow an immediate login.
type SignupResult struct {
	User                      UserResponse `json:"user"`
	Token                     string       `json:"token,omitempty"`
	RequiresProfileCompletion bool         `json:"requires_profile_completion"`
}

// ProfileResult is returned from completeProfile. SignupCompleted
// reflects the step machine, not profile completeness.
type ProfileResult struct {
	User            UserResponse `json:"user"`
	Token           string       `json:"token,omitempty"`
	SignupCompleted bool         `json:"signup_completed"`
}

// AuthResult is returned from logins and email verification.
type AuthResult struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

type AuthMethodResponse struct {
	ID         uuid.UUID `json:"id"`
	Provider   string    `json:"provider"`
	IsPrimary  bool      `json:"is_primary"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
}
