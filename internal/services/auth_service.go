package services

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/config"
	"github.com/novalane/identity-backend/internal/models"
	"github.com/novalane/identity-backend/internal/notify"
	"github.com/novalane/identity-backend/internal/ratelimit"
	"github.com/novalane/identity-backend/internal/signup"
	"github.com/novalane/identity-backend/internal/social"
	"github.com/novalane/identity-backend/internal/tokens"
	"gorm.io/gorm"
)

const bcryptCost = 12

// AuthService is the signup/authentication orchestrator. It drives a
// signup or login to completion and decides when a session token may be
// minted. All multi-write operations run in one transaction; a failure
// anywhere aborts the whole attempt with no partial state.
type AuthService struct {
	db       *gorm.DB
	cfg      *config.Config
	sessions *signup.SessionStore
	tokens   *tokens.Store
	verifier social.Verifier
	notifier notify.Dispatcher
	limiter  ratelimit.Limiter
	issuer   *TokenIssuer
}

func NewAuthService(
	db *gorm.DB,
	cfg *config.Config,
	sessions *signup.SessionStore,
	tokenStore *tokens.Store,
	verifier social.Verifier,
	notifier notify.Dispatcher,
	limiter ratelimit.Limiter,
) *AuthService {
	return &AuthService{
		db:       db,
		cfg:      cfg,
		sessions: sessions,
		tokens:   tokenStore,
		verifier: verifier,
		notifier: notifier,
		limiter:  limiter,
		issuer:   NewTokenIssuer(cfg),
	}
}

// findUserByEmail loads a user with roles and auth methods, or nil.
func findUserByEmail(db *gorm.DB, email string) (*models.User, error) {
	var user models.User
	err := db.Preload("Roles").Preload("AuthMethods").
		Where("email = ?", strings.ToLower(email)).
		First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func findUserByID(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := db.Preload("Roles").Preload("AuthMethods").
		First(&user, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// findUserBySocial locates the owner of a (provider, providerId) binding.
func findUserBySocial(db *gorm.DB, provider, providerID string) (*models.User, error) {
	var method models.AuthMethod
	err := db.Where("provider = ? AND provider_id = ?", provider, providerID).
		First(&method).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return findUserByID(db, method.UserID)
}

// issueForSignup mints a token iff every assigned role permits login,
// the email is verified, and profile completion is not pending. Returns
// empty string when any gate fails.
func (s *AuthService) issueForSignup(user *models.User, requiresProfileCompletion bool) (string, error) {
	if !user.AllRolesCanLogin() || !user.IsEmailVerified || requiresProfileCompletion {
		return "", nil
	}
	return s.issuer.Issue(user)
}

// touchLogin resets the lockout state and stamps the login time.
func touchLogin(db *gorm.DB, userID uuid.UUID) error {
	now := time.Now()
	return db.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_login_at":           now,
			"security_login_attempts": 0,
			"security_lock_until":     nil,
		}).Error
}

// applyStepCompletion records a finished signup step and, once every
// required step is present, flips the whole signup to completed. Both
// completeProfile and verifyEmail funnel through this single invariant.
func applyStepCompletion(tx *gorm.DB, user *models.User, step string) error {
	if !user.HasCompletedStep(step) {
		user.SignupStatus.CompletedSteps = append(user.SignupStatus.CompletedSteps, step)
	}

	done := true
	for _, required := range models.RequiredSignupSteps {
		if !user.HasCompletedStep(required) {
			done = false
			break
		}
	}

	updates := map[string]interface{}{
		"signup_completed_steps": user.SignupStatus.CompletedSteps,
	}
	if done {
		now := time.Now()
		user.SignupStatus.Step = "completed"
		user.SignupStatus.CurrentStep = "completed"
		user.SignupStatus.CompletedAt = &now
		user.IsProfileComplete = true
		updates["signup_step"] = "completed"
		updates["signup_current_step"] = "completed"
		updates["signup_completed_at"] = now
		updates["is_profile_complete"] = true
	}
	return tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error
}

func (s *AuthService) sendWelcome(user *models.User) {
	s.notifier.Send(
		notify.Recipient{
			UserID:    user.ID.String(),
			Email:     user.Email,
			Phone:     user.Phone,
			FirstName: user.FirstName,
		},
		notify.Payload{
			Kind:    notify.KindWelcome,
			Title:   "Welcome aboard",
			Message: "Your account has been created.",
		},
		notify.Channels{Email: true, InApp: true},
	)
}

func (s *AuthService) sendVerificationCode(email, firstName, code string) {
	s.notifier.Send(
		notify.Recipient{Email: email, FirstName: firstName},
		notify.Payload{
			Kind:    notify.KindVerificationCode,
			Title:   "Verify your email",
			Message: "Your verification code is " + code + ". It expires in 30 minutes.",
			Data:    map[string]interface{}{"code": code},
		},
		notify.Channels{Email: true},
	)
}

func (s *AuthService) sendResetLink(user *models.User, token string) {
	link := s.cfg.FrontendURL + "/reset-password?token=" + token
	s.notifier.Send(
		notify.Recipient{UserID: user.ID.String(), Email: user.Email, FirstName: user.FirstName},
		notify.Payload{
			Kind:    notify.KindPasswordReset,
			Title:   "Password reset",
			Message: "Use the link to reset your password. It expires in 1 hour.",
			Data:    map[string]interface{}{"link": link},
		},
		notify.Channels{Email: true},
	)
}

// logDomainFailure keeps rejected attempts visible without promoting
// them to error noise; only infrastructure failures log at ERROR.
func logDomainFailure(op string, err error) {
	if apperr.IsDomain(err) {
		slog.Warn(op+" rejected", "status", apperr.StatusOf(err), "error", err.Error())
	} else {
		slog.Error(op+" failed", "error", err.Error())
	}
}
