package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/dto"
	"github.com/novalane/identity-backend/internal/models"
	"github.com/novalane/identity-backend/internal/notify"
	"github.com/novalane/identity-backend/internal/roles"
	"github.com/novalane/identity-backend/internal/signup"
	"github.com/novalane/identity-backend/internal/social"
	"github.com/novalane/identity-backend/internal/tokens"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// InitiateSocialSignup exchanges the authorization code for a provider
// profile and opens a signup session. The credential store is untouched.
func (s *AuthService) InitiateSocialSignup(ctx context.Context, provider, code string, meta tokens.RequestMeta) (*dto.SocialSignupPreview, error) {
	profile, err := s.verifier.Verify(ctx, provider, code)
	if err != nil {
		logDomainFailure("social signup initiation", err)
		return nil, err
	}

	sessionToken, err := s.sessions.CreateSocial(profile, meta)
	if err != nil {
		return nil, err
	}

	slog.Info("social signup initiated", "provider", provider, "email", profile.Email)
	return &dto.SocialSignupPreview{
		SessionToken: sessionToken,
		Email:        profile.Email,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		Avatar:       profile.Photo,
	}, nil
}

// CompleteSocialSignupWithRoles consumes the session, resolves the role
// selection, and creates the user — all in one transaction. A token is
// minted only when every completion gate passes.
func (s *AuthService) CompleteSocialSignupWithRoles(sessionToken string, roleNames []string, meta tokens.RequestMeta) (*dto.SignupResult, error) {
	var user *models.User

	err := s.db.Transaction(func(tx *gorm.DB) error {
		session, err := s.sessions.GetTx(tx, sessionToken)
		if err != nil {
			return err
		}

		profile, err := signup.DecodeSocial(session)
		if err != nil {
			return err
		}

		selected, err := roles.ResolveSignupRoles(tx, roleNames)
		if err != nil {
			return err
		}

		existing, err := findUserBySocial(tx, profile.Provider, profile.ProviderID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.DuplicateAccount("Account already exists with this social profile")
		}

		existing, err = findUserByEmail(tx, profile.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.DuplicateAccount("Email already registered")
		}

		user = buildSocialUser(profile, selected, meta)
		if err := tx.Create(user).Error; err != nil {
			return err
		}

		return s.sessions.ConsumeTx(tx, sessionToken)
	})
	if err != nil {
		logDomainFailure("social signup completion", err)
		return nil, err
	}

	requiresProfileCompletion := !user.IsProfileComplete
	token, err := s.issueForSignup(user, requiresProfileCompletion)
	if err != nil {
		return nil, err
	}

	s.sendWelcome(user)
	slog.Info("social signup completed", "user_id", user.ID.String(), "provider", user.AuthMethods[0].Provider)

	return &dto.SignupResult{
		User:                      dto.NewUserResponse(user),
		Token:                     token,
		RequiresProfileCompletion: requiresProfileCompletion,
	}, nil
}

// InitiateEmailSignup hashes the password, freezes the role selection
// and parks everything in a session guarded by a 6-digit code. No user
// row exists until the code comes back.
func (s *AuthService) InitiateEmailSignup(email, password string, roleNames []string, meta tokens.RequestMeta) (*dto.InitiateEmailSignupResponse, error) {
	existing, err := findUserByEmail(s.db, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.DuplicateAccount("Email already registered")
	}

	selected, err := roles.ResolveSignupRoles(s.db, roleNames)
	if err != nil {
		logDomainFailure("email signup initiation", err)
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}

	code, err := tokens.RandomOtp()
	if err != nil {
		return nil, err
	}

	payload := signup.EmailPayload{
		Email:        strings.ToLower(email),
		PasswordHash: string(hash),
		Roles:        snapshotPayload(selected),
	}
	sessionToken, err := s.sessions.CreateEmail(payload, code, meta)
	if err != nil {
		return nil, err
	}

	s.sendVerificationCode(payload.Email, "", code)
	slog.Info("email signup initiated", "email", payload.Email)

	return &dto.InitiateEmailSignupResponse{SessionToken: sessionToken}, nil
}

// CompleteEmailSignup checks the verification code against the session
// and creates the user. The duplicate-email guard runs again inside the
// transaction to close the initiation/completion race.
func (s *AuthService) CompleteEmailSignup(sessionToken, verificationCode string, meta tokens.RequestMeta) (*dto.SignupResult, error) {
	var user *models.User

	err := s.db.Transaction(func(tx *gorm.DB) error {
		session, err := s.sessions.GetTx(tx, sessionToken)
		if err != nil {
			return err
		}

		if session.VerificationCode != verificationCode {
			return apperr.InvalidVerificationCode()
		}

		payload, err := signup.DecodeEmail(session)
		if err != nil {
			return err
		}

		existing, err := findUserByEmail(tx, session.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.DuplicateAccount("Email already registered")
		}

		user = buildEmailUser(payload, meta)
		if err := tx.Create(user).Error; err != nil {
			return err
		}

		return s.sessions.ConsumeTx(tx, sessionToken)
	})
	if err != nil {
		logDomainFailure("email signup completion", err)
		return nil, err
	}

	// Issue the long-lived email verification token for the new account
	// and hand its OTP to the dispatcher.
	if vt, err := s.tokens.CreateEmailVerification(user.ID, meta); err != nil {
		slog.Error("failed to create email verification token", "user_id", user.ID.String(), "error", err)
	} else {
		s.sendVerificationCode(user.Email, user.FirstName, vt.OtpCode)
	}

	requiresProfileCompletion := !user.IsProfileComplete
	token, err := s.issueForSignup(user, requiresProfileCompletion)
	if err != nil {
		return nil, err
	}

	slog.Info("email signup completed", "user_id", user.ID.String())
	return &dto.SignupResult{
		User:                      dto.NewUserResponse(user),
		Token:                     token,
		RequiresProfileCompletion: requiresProfileCompletion,
	}, nil
}

// CompleteProfile merges the submitted fields, records the profile_info
// step and re-evaluates both profile completeness and overall signup
// completion. A token is issued only when the whole signup is done and
// every role permits login.
func (s *AuthService) CompleteProfile(userID uuid.UUID, req *dto.CompleteProfileRequest) (*dto.ProfileResult, error) {
	var user *models.User

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = findUserByID(tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return apperr.AccountNotFound("User not found")
		}
		if user.SignupStatus.Step == "completed" {
			return apperr.New(400, "Signup already completed")
		}

		mergeProfileFields(user, req)
		user.SignupStatus.Step = "profile"
		user.SignupStatus.CurrentStep = "verification"

		updates := map[string]interface{}{
			"first_name":          user.FirstName,
			"last_name":           user.LastName,
			"phone":               user.Phone,
			"date_of_birth":       user.DateOfBirth,
			"gender":              user.Gender,
			"country":             user.Country,
			"timezone":            user.Timezone,
			"language":            user.Language,
			"signup_step":         user.SignupStatus.Step,
			"signup_current_step": user.SignupStatus.CurrentStep,
		}
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return err
		}

		if err := evaluateProfileCompleteness(tx, user); err != nil {
			return err
		}

		return applyStepCompletion(tx, user, models.StepProfileInfo)
	})
	if err != nil {
		logDomainFailure("profile completion", err)
		return nil, err
	}

	signupCompleted := user.SignupStatus.Step == "completed"

	var token string
	if user.AllRolesCanLogin() && user.IsEmailVerified && signupCompleted {
		token, err = s.issuer.Issue(user)
		if err != nil {
			return nil, err
		}
		if err := touchLogin(s.db, user.ID); err != nil {
			return nil, err
		}
	}

	slog.Info("profile completion applied", "user_id", user.ID.String(), "signup_completed", signupCompleted)
	return &dto.ProfileResult{
		User:            dto.NewUserResponse(user),
		Token:           token,
		SignupCompleted: signupCompleted,
	}, nil
}

// VerifyEmail consumes an EMAIL_VERIFICATION token, marks the address
// verified and records the verification step. Verification always mints
// a token: proving control of the email is itself a login.
func (s *AuthService) VerifyEmail(rawToken, otpCode string, meta tokens.RequestMeta) (*dto.AuthResult, error) {
	verification, err := s.tokens.ConsumeEmailToken(rawToken, otpCode)
	if err != nil {
		logDomainFailure("email verification", err)
		return nil, err
	}

	var user *models.User
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = findUserByID(tx, verification.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return apperr.AccountNotFound("User not found")
		}

		now := time.Now()
		user.IsEmailVerified = true
		user.EmailVerifiedAt = &now
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]interface{}{
				"is_email_verified": true,
				"email_verified_at": now,
			}).Error; err != nil {
			return err
		}

		return applyStepCompletion(tx, user, models.StepVerification)
	})
	if err != nil {
		logDomainFailure("email verification", err)
		return nil, err
	}

	jwtToken, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}
	if err := touchLogin(s.db, user.ID); err != nil {
		return nil, err
	}

	slog.Info("email verified", "user_id", user.ID.String())
	return &dto.AuthResult{User: dto.NewUserResponse(user), Token: jwtToken}, nil
}

// ResendVerification reissues the right code for where the signup
// stands: a pending session (no user yet) gets its code rotated; an
// unverified user gets a fresh email verification token. Rate limited
// per address.
func (s *AuthService) ResendVerification(ctx context.Context, email string, meta tokens.RequestMeta) error {
	allowed, err := s.limiter.Allow(ctx, "resend:"+strings.ToLower(email))
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.TooManyAttempts()
	}

	session, err := s.sessions.FindPendingEmail(email)
	if err != nil {
		return err
	}
	if session != nil {
		code, err := tokens.RandomOtp()
		if err != nil {
			return err
		}
		if err := s.sessions.RotateCode(session.ID, code); err != nil {
			return err
		}
		s.sendVerificationCode(strings.ToLower(email), "", code)
		return nil
	}

	user, err := findUserByEmail(s.db, email)
	if err != nil {
		return err
	}
	if user == nil {
		return apperr.AccountNotFound("User not found")
	}
	if user.IsEmailVerified {
		return apperr.New(400, "Email already verified")
	}

	vt, err := s.tokens.CreateEmailVerification(user.ID, meta)
	if err != nil {
		return err
	}
	s.sendVerificationCode(user.Email, user.FirstName, vt.OtpCode)
	return nil
}

// RequestPhoneVerification issues a PHONE_VERIFICATION OTP for the
// user's current phone number.
func (s *AuthService) RequestPhoneVerification(userID uuid.UUID, meta tokens.RequestMeta) error {
	user, err := findUserByID(s.db, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return apperr.AccountNotFound("User not found")
	}
	if user.Phone == "" {
		return apperr.New(400, "No phone number on file")
	}

	vt, err := s.tokens.CreatePhoneVerification(userID, user.Phone, meta)
	if err != nil {
		return err
	}

	s.notifier.Send(
		notify.Recipient{UserID: user.ID.String(), Phone: user.Phone},
		notify.Payload{
			Kind:    notify.KindVerificationCode,
			Title:   "Verify your phone",
			Message: "Your verification code is " + vt.OtpCode + ". It expires in 10 minutes.",
		},
		notify.Channels{SMS: true},
	)
	return nil
}

// VerifyPhone consumes a PHONE_VERIFICATION OTP for the user.
func (s *AuthService) VerifyPhone(userID uuid.UUID, otpCode string) (*dto.UserResponse, error) {
	if err := s.tokens.CheckAttemptRate(userID, models.TokenPhoneVerification); err != nil {
		return nil, err
	}

	if _, err := s.tokens.ConsumeOtp(userID, models.TokenPhoneVerification, otpCode); err != nil {
		logDomainFailure("phone verification", err)
		return nil, err
	}

	now := time.Now()
	if err := s.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"is_phone_verified": true,
			"phone_verified_at": now,
		}).Error; err != nil {
		return nil, err
	}

	user, err := findUserByID(s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.AccountNotFound("User not found")
	}

	resp := dto.NewUserResponse(user)
	return &resp, nil
}

func buildSocialUser(profile *social.Profile, selected []models.Role, meta tokens.RequestMeta) *models.User {
	now := time.Now()
	userID := uuid.New()

	// A provider-verified address satisfies the verification step up
	// front; only profile completion remains.
	steps := []string{models.StepSocialAuth, models.StepRoleSelection}
	var verifiedAt *time.Time
	if profile.EmailVerified {
		steps = append(steps, models.StepVerification)
		verifiedAt = &now
	}

	return &models.User{
		ID:              userID,
		Email:           strings.ToLower(profile.Email),
		FirstName:       profile.FirstName,
		LastName:        profile.LastName,
		Avatar:          profile.Photo,
		IsEmailVerified: profile.EmailVerified,
		EmailVerifiedAt: verifiedAt,
		IsActive:        true,
		Roles:           snapshotRoles(selected, userID, now),
		AuthMethods: []models.AuthMethod{{
			ID:           uuid.New(),
			UserID:       userID,
			Provider:     profile.Provider,
			ProviderID:   profile.ProviderID,
			AccessToken:  profile.AccessToken,
			RefreshToken: profile.RefreshToken,
			ExpiresAt:    profile.ExpiresAt,
			IsPrimary:    true,
			CreatedAt:    now,
			LastUsedAt:   now,
		}},
		ProfileCompletion: models.ProfileCompletion{
			RequiredFields: datatypes.NewJSONSlice(roles.RequiredProfileFields(selected)),
		},
		SignupStatus: models.SignupStatus{
			Step:           "initial",
			CompletedSteps: datatypes.NewJSONSlice(steps),
			CurrentStep:    "profile_info",
			StartedAt:      now,
		},
		SignupIP:        meta.IPAddress,
		SignupUserAgent: meta.UserAgent,
		SignupSource:    "web",
	}
}

func buildEmailUser(payload *signup.EmailPayload, meta tokens.RequestMeta) *models.User {
	now := time.Now()
	userID := uuid.New()

	assignments := make([]models.RoleAssignment, 0, len(payload.Roles))
	roleRows := make([]models.Role, 0, len(payload.Roles))
	for _, snap := range payload.Roles {
		assignments = append(assignments, models.RoleAssignment{
			ID:         uuid.New(),
			UserID:     userID,
			RoleID:     snap.RoleID,
			Name:       snap.Name,
			Level:      snap.Level,
			AssignedAt: now,
			IsActive:   true,
			CanLogin:   snap.CanLogin,
		})
		roleRows = append(roleRows, models.Role{Name: snap.Name, Level: snap.Level, CanLogin: snap.CanLogin})
	}

	return &models.User{
		ID:       userID,
		Email:    payload.Email,
		IsActive: true,
		Roles:    assignments,
		AuthMethods: []models.AuthMethod{{
			ID:         uuid.New(),
			UserID:     userID,
			Provider:   models.ProviderEmail,
			ProviderID: payload.Email,
			IsPrimary:  true,
			CreatedAt:  now,
			LastUsedAt: now,
		}},
		Security: models.SecurityBlock{
			PasswordHash:       payload.PasswordHash,
			PasswordChangedAt:  &now,
			LastPasswordChange: &now,
		},
		ProfileCompletion: models.ProfileCompletion{
			RequiredFields: datatypes.NewJSONSlice(roles.RequiredProfileFields(roleRows)),
		},
		SignupStatus: models.SignupStatus{
			Step:           "initial",
			CompletedSteps: datatypes.NewJSONSlice([]string{models.StepEmailRegistration, models.StepRoleSelection}),
			CurrentStep:    "email_verification",
			StartedAt:      now,
		},
		SignupIP:        meta.IPAddress,
		SignupUserAgent: meta.UserAgent,
		SignupSource:    "web",
	}
}

func snapshotRoles(selected []models.Role, userID uuid.UUID, now time.Time) []models.RoleAssignment {
	out := make([]models.RoleAssignment, 0, len(selected))
	for i := range selected {
		out = append(out, selected[i].Snapshot(userID, now))
	}
	return out
}

func snapshotPayload(selected []models.Role) []signup.RoleSnapshot {
	out := make([]signup.RoleSnapshot, 0, len(selected))
	for _, r := range selected {
		out = append(out, signup.RoleSnapshot{
			RoleID:   r.ID,
			Name:     r.Name,
			Level:    r.Level,
			CanLogin: r.CanLogin,
		})
	}
	return out
}

func mergeProfileFields(user *models.User, req *dto.CompleteProfileRequest) {
	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}
	if req.Phone != "" {
		user.Phone = req.Phone
	}
	if req.DateOfBirth != nil {
		user.DateOfBirth = req.DateOfBirth
	}
	if req.Gender != "" {
		user.Gender = req.Gender
	}
	if req.Country != "" {
		user.Country = req.Country
	}
	if req.Timezone != "" {
		user.Timezone = req.Timezone
	}
	if req.Language != "" {
		user.Language = req.Language
	}
}

// evaluateProfileCompleteness marks the profile complete once the core
// identity fields are all present.
func evaluateProfileCompleteness(tx *gorm.DB, user *models.User) error {
	complete := user.FirstName != "" &&
		user.LastName != "" &&
		user.Country != "" &&
		user.Timezone != "" &&
		user.Language != ""
	if !complete {
		return nil
	}

	now := time.Now()
	user.ProfileCompletion.PersonalInfo = true
	user.ProfileCompletion.ContactInfo = true
	user.ProfileCompletion.CompletedAt = &now
	user.IsProfileComplete = true

	return tx.Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"profile_personal_info": true,
			"profile_contact_info":  true,
			"profile_completed_at":  now,
			"is_profile_complete":   true,
		}).Error
}
