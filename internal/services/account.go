package services

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/dto"
	"github.com/novalane/identity-backend/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LinkAuthMethod attaches another provider identity to an existing
// account. The provider identity must not already be bound anywhere, and
// the account must not already carry a method for that provider.
func (s *AuthService) LinkAuthMethod(ctx context.Context, userID uuid.UUID, provider, code string) (*dto.AuthMethodResponse, error) {
	profile, err := s.verifier.Verify(ctx, provider, code)
	if err != nil {
		logDomainFailure("auth method linking", err)
		return nil, err
	}

	var method models.AuthMethod
	err = s.db.Transaction(func(tx *gorm.DB) error {
		user, err := findUserByID(tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return apperr.AccountNotFound("User not found")
		}

		for _, m := range user.AuthMethods {
			if m.Provider == profile.Provider {
				return apperr.AlreadyLinked("A " + profile.Provider + " account is already linked")
			}
		}

		owner, err := findUserBySocial(tx, profile.Provider, profile.ProviderID)
		if err != nil {
			return err
		}
		if owner != nil {
			return apperr.AlreadyLinked("This social profile is linked to another account")
		}

		now := time.Now()
		method = models.AuthMethod{
			ID:           uuid.New(),
			UserID:       userID,
			Provider:     profile.Provider,
			ProviderID:   profile.ProviderID,
			AccessToken:  profile.AccessToken,
			RefreshToken: profile.RefreshToken,
			ExpiresAt:    profile.ExpiresAt,
			CreatedAt:    now,
			LastUsedAt:   now,
		}
		return tx.Create(&method).Error
	})
	if err != nil {
		logDomainFailure("auth method linking", err)
		return nil, err
	}

	slog.Info("auth method linked", "user_id", userID.String(), "provider", provider)
	return &dto.AuthMethodResponse{
		ID:         method.ID,
		Provider:   method.Provider,
		IsPrimary:  method.IsPrimary,
		CreatedAt:  method.CreatedAt,
		LastUsedAt: method.LastUsedAt,
	}, nil
}

// UnlinkAuthMethod removes a linked provider. The primary method stays;
// removing it would strand the account.
func (s *AuthService) UnlinkAuthMethod(userID, methodID uuid.UUID) error {
	var method models.AuthMethod
	err := s.db.Where("id = ? AND user_id = ?", methodID, userID).First(&method).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperr.AccountNotFound("Auth method not found")
		}
		return err
	}
	if method.IsPrimary {
		return apperr.CannotUnlinkPrimary()
	}

	if err := s.db.Delete(&method).Error; err != nil {
		return err
	}
	slog.Info("auth method unlinked", "user_id", userID.String(), "provider", method.Provider)
	return nil
}

// GetAuthMethods lists the linked methods with provider tokens redacted.
func (s *AuthService) GetAuthMethods(userID uuid.UUID) ([]dto.AuthMethodResponse, error) {
	var methods []models.AuthMethod
	if err := s.db.Where("user_id = ?", userID).Order("created_at").Find(&methods).Error; err != nil {
		return nil, err
	}

	out := make([]dto.AuthMethodResponse, 0, len(methods))
	for _, m := range methods {
		out = append(out, dto.AuthMethodResponse{
			ID:         m.ID,
			Provider:   m.Provider,
			IsPrimary:  m.IsPrimary,
			CreatedAt:  m.CreatedAt,
			LastUsedAt: m.LastUsedAt,
		})
	}
	return out, nil
}

// CheckEmailAvailability reports whether the address is free to register.
func (s *AuthService) CheckEmailAvailability(email string) (*dto.AvailabilityResponse, error) {
	user, err := findUserByEmail(s.db, email)
	if err != nil {
		return nil, err
	}
	return &dto.AvailabilityResponse{Available: user == nil}, nil
}

// CheckUsernameAvailability reports whether the username is free.
func (s *AuthService) CheckUsernameAvailability(username string) (*dto.AvailabilityResponse, error) {
	var count int64
	if err := s.db.Model(&models.User{}).
		Where("username = ?", strings.ToLower(username)).
		Count(&count).Error; err != nil {
		return nil, err
	}
	return &dto.AvailabilityResponse{Available: count == 0}, nil
}

// GetProfile returns the caller's own record.
func (s *AuthService) GetProfile(userID uuid.UUID) (*dto.UserResponse, error) {
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

// UpdateProfile edits profile fields after signup. Unlike
// CompleteProfile it never touches the signup step machine.
func (s *AuthService) UpdateProfile(userID uuid.UUID, req *dto.UpdateProfileRequest) (*dto.UserResponse, error) {
	user, err := findUserByID(s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.AccountNotFound("User not found")
	}

	mergeProfileFields(user, req)
	if err := s.db.Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"first_name":    user.FirstName,
			"last_name":     user.LastName,
			"phone":         user.Phone,
			"date_of_birth": user.DateOfBirth,
			"gender":        user.Gender,
			"country":       user.Country,
			"timezone":      user.Timezone,
			"language":      user.Language,
		}).Error; err != nil {
		return nil, err
	}

	resp := dto.NewUserResponse(user)
	return &resp, nil
}

// GenerateTwoFactor creates a fresh shared secret and recovery codes.
// Nothing is enforced until EnableTwoFactor confirms possession.
func (s *AuthService) GenerateTwoFactor(userID uuid.UUID) (secret string, recoveryCodes []string, err error) {
	user, err := findUserByID(s.db, userID)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, apperr.AccountNotFound("User not found")
	}

	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	secret = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	recoveryCodes = make([]string, 8)
	for i := range recoveryCodes {
		buf := make([]byte, 5)
		if _, err := rand.Read(buf); err != nil {
			return "", nil, err
		}
		recoveryCodes[i] = hex.EncodeToString(buf)
	}

	hashed := make([]string, len(recoveryCodes))
	for i, c := range recoveryCodes {
		h, err := bcrypt.GenerateFromPassword([]byte(c), bcrypt.DefaultCost)
		if err != nil {
			return "", nil, err
		}
		hashed[i] = string(h)
	}

	err = s.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"security_two_factor_secret": secret,
			"security_recovery_codes":    datatypes.NewJSONSlice(hashed),
		}).Error
	if err != nil {
		return "", nil, err
	}
	return secret, recoveryCodes, nil
}

// EnableTwoFactor flips enforcement on after a TWO_FACTOR OTP proves the
// client holds the secret.
func (s *AuthService) EnableTwoFactor(userID uuid.UUID, otpCode string) error {
	if err := s.tokens.CheckAttemptRate(userID, models.TokenTwoFactor); err != nil {
		return err
	}
	if _, err := s.tokens.ConsumeOtp(userID, models.TokenTwoFactor, otpCode); err != nil {
		logDomainFailure("two-factor enable", err)
		return err
	}

	if err := s.db.Model(&models.User{}).Where("id = ?", userID).
		Update("security_two_factor_enabled", true).Error; err != nil {
		return err
	}
	slog.Info("two-factor enabled", "user_id", userID.String())
	return nil
}

// DisableTwoFactor requires the password so a hijacked session cannot
// quietly weaken the account.
func (s *AuthService) DisableTwoFactor(userID uuid.UUID, password string) error {
	user, err := findUserByID(s.db, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return apperr.AccountNotFound("User not found")
	}
	if user.Security.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.Security.PasswordHash), []byte(password)); err != nil {
			return apperr.InvalidCredentials()
		}
	}

	if err := s.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"security_two_factor_enabled": false,
			"security_two_factor_secret":  "",
			"security_recovery_codes":     datatypes.NewJSONSlice([]string{}),
		}).Error; err != nil {
		return err
	}
	slog.Info("two-factor disabled", "user_id", userID.String())
	return nil
}
