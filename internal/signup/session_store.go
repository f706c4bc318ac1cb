// Package signup holds the transient session store that correlates an
// in-progress signup with a client-presented opaque token.
package signup

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/models"
	"github.com/novalane/identity-backend/internal/social"
	"github.com/novalane/identity-backend/internal/tokens"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RoleSnapshot is the role data frozen into an email-signup session at
// initiation, replayed onto the user at completion.
type RoleSnapshot struct {
	RoleID   uuid.UUID `json:"roleId"`
	Name     string    `json:"name"`
	Level    int       `json:"level"`
	CanLogin bool      `json:"canLogin"`
}

// EmailPayload is the session payload for password signups.
type EmailPayload struct {
	Email        string         `json:"email"`
	PasswordHash string         `json:"passwordHash"`
	Roles        []RoleSnapshot `json:"roles"`
}

// SessionStore persists signup sessions in the same database as the
// credential store so consumption and user creation share a transaction.
type SessionStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewSessionStore(db *gorm.DB, ttl time.Duration) *SessionStore {
	return &SessionStore{db: db, ttl: ttl}
}

// TTL returns the configured session lifetime.
func (s *SessionStore) TTL() time.Duration { return s.ttl }

// CreateSocial opens a session holding a verified provider profile and
// returns the opaque session token.
func (s *SessionStore) CreateSocial(profile *social.Profile, meta tokens.RequestMeta) (string, error) {
	payload, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("failed to encode social payload: %w", err)
	}
	return s.create(profile.Provider, profile.Email, payload, "", meta)
}

// CreateEmail opens a session holding the hashed credentials and role
// snapshot of a pending email signup, guarded by a 6-digit code.
func (s *SessionStore) CreateEmail(payload EmailPayload, verificationCode string, meta tokens.RequestMeta) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode email payload: %w", err)
	}
	return s.create(models.ProviderEmail, payload.Email, raw, verificationCode, meta)
}

func (s *SessionStore) create(provider, email string, payload []byte, code string, meta tokens.RequestMeta) (string, error) {
	token, err := tokens.RandomToken()
	if err != nil {
		return "", err
	}

	session := &models.SignupSession{
		ID:               uuid.New(),
		SessionToken:     token,
		Provider:         provider,
		Email:            strings.ToLower(email),
		Payload:          datatypes.JSON(payload),
		VerificationCode: code,
		ExpiresAt:        time.Now().Add(s.ttl),
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
	}
	if err := s.db.Create(session).Error; err != nil {
		return "", fmt.Errorf("failed to create signup session: %w", err)
	}
	return token, nil
}

// Get returns the non-expired session for the token.
func (s *SessionStore) Get(token string) (*models.SignupSession, error) {
	return getSession(s.db, token)
}

// GetTx is Get inside a caller-owned transaction.
func (s *SessionStore) GetTx(tx *gorm.DB, token string) (*models.SignupSession, error) {
	return getSession(tx, token)
}

// ConsumeTx deletes the session inside the caller's transaction. Exactly
// one of two concurrent completions can succeed: the delete matches zero
// rows for the loser and the whole transaction aborts.
func (s *SessionStore) ConsumeTx(tx *gorm.DB, token string) error {
	res := tx.Where("session_token = ? AND expires_at > ?", token, time.Now()).
		Delete(&models.SignupSession{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidOrExpiredSession()
	}
	return nil
}

// FindPendingEmail returns the pending email-provider session for the
// address, if one exists.
func (s *SessionStore) FindPendingEmail(email string) (*models.SignupSession, error) {
	var session models.SignupSession
	err := s.db.Where("provider = ? AND email = ? AND expires_at > ?",
		models.ProviderEmail, strings.ToLower(email), time.Now()).
		First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// RotateCode replaces the verification code and extends expiry by the
// configured TTL. This is the only mutation a session permits.
func (s *SessionStore) RotateCode(id uuid.UUID, code string) error {
	return s.db.Model(&models.SignupSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"verification_code": code,
			"expires_at":        time.Now().Add(s.ttl),
		}).Error
}

// DecodeSocial unpacks a social session payload.
func DecodeSocial(session *models.SignupSession) (*social.Profile, error) {
	var profile social.Profile
	if err := json.Unmarshal(session.Payload, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode social payload: %w", err)
	}
	return &profile, nil
}

// DecodeEmail unpacks an email session payload.
func DecodeEmail(session *models.SignupSession) (*EmailPayload, error) {
	var payload EmailPayload
	if err := json.Unmarshal(session.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode email payload: %w", err)
	}
	return &payload, nil
}

func getSession(db *gorm.DB, token string) (*models.SignupSession, error) {
	var session models.SignupSession
	err := db.Where("session_token = ? AND expires_at > ?", token, time.Now()).
		First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.InvalidOrExpiredSession()
		}
		return nil, err
	}
	return &session, nil
}
