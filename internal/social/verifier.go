// Package social exchanges OAuth authorization codes for provider
// profiles. The orchestrator only sees the Verifier interface; provider
// token mechanics stay here.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/config"
)

// Supported provider names.
const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
	ProviderGitHub   = "github"
)

// Profile is the normalized identity a provider vouches for.
type Profile struct {
	Provider      string     `json:"provider"`
	ProviderID    string     `json:"providerId"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName,omitempty"`
	LastName      string     `json:"lastName,omitempty"`
	DisplayName   string     `json:"displayName,omitempty"`
	Photo         string     `json:"photo,omitempty"`
	EmailVerified bool       `json:"emailVerified"`
	AccessToken   string     `json:"accessToken"`
	RefreshToken  string     `json:"refreshToken,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// Verifier turns an authorization code into a verified profile.
type Verifier interface {
	Verify(ctx context.Context, provider, code string) (*Profile, error)
}

// HTTPVerifier implements Verifier against the real provider endpoints.
type HTTPVerifier struct {
	cfg    *config.Config
	client *http.Client

	googleTokenURL    string
	googleUserInfoURL string
	facebookTokenURL  string
	facebookUserURL   string
	githubTokenURL    string
	githubUserURL     string
	githubEmailsURL   string
}

func NewHTTPVerifier(cfg *config.Config) *HTTPVerifier {
	return &HTTPVerifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},

		googleTokenURL:    "https://oauth2.googleapis.com/token",
		googleUserInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
		facebookTokenURL:  "https://graph.facebook.com/v18.0/oauth/access_token",
		facebookUserURL:   "https://graph.facebook.com/me",
		githubTokenURL:    "https://github.com/login/oauth/access_token",
		githubUserURL:     "https://api.github.com/user",
		githubEmailsURL:   "https://api.github.com/user/emails",
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, provider, code string) (*Profile, error) {
	var (
		profile *Profile
		err     error
	)

	switch provider {
	case ProviderGoogle:
		profile, err = v.verifyGoogle(ctx, code)
	case ProviderFacebook:
		profile, err = v.verifyFacebook(ctx, code)
	case ProviderGitHub:
		profile, err = v.verifyGitHub(ctx, code)
	default:
		return nil, apperr.UnsupportedProvider(provider)
	}

	if err != nil {
		if apperr.IsDomain(err) {
			return nil, err
		}
		slog.Error("social token verification failed", "provider", provider, "error", err)
		return nil, apperr.ProviderVerificationFailed(provider)
	}
	return profile, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (v *HTTPVerifier) verifyGoogle(ctx context.Context, code string) (*Profile, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", v.cfg.Google.ClientID)
	form.Set("client_secret", v.cfg.Google.ClientSecret)
	form.Set("redirect_uri", v.cfg.Google.RedirectURL)
	form.Set("grant_type", "authorization_code")

	var tok tokenResponse
	if err := v.postForm(ctx, v.googleTokenURL, form, &tok); err != nil {
		return nil, err
	}

	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := v.getJSON(ctx, v.googleUserInfoURL, tok.AccessToken, &info); err != nil {
		return nil, err
	}

	expires := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return &Profile{
		Provider:      ProviderGoogle,
		ProviderID:    info.Sub,
		Email:         info.Email,
		FirstName:     info.GivenName,
		LastName:      info.FamilyName,
		DisplayName:   info.Name,
		Photo:         info.Picture,
		EmailVerified: info.EmailVerified,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		ExpiresAt:     &expires,
	}, nil
}

func (v *HTTPVerifier) verifyFacebook(ctx context.Context, code string) (*Profile, error) {
	q := url.Values{}
	q.Set("code", code)
	q.Set("client_id", v.cfg.Facebook.ClientID)
	q.Set("client_secret", v.cfg.Facebook.ClientSecret)
	q.Set("redirect_uri", v.cfg.Facebook.RedirectURL)

	var tok tokenResponse
	if err := v.getJSON(ctx, v.facebookTokenURL+"?"+q.Encode(), "", &tok); err != nil {
		return nil, err
	}

	userURL := v.facebookUserURL + "?fields=id,name,email,first_name,last_name,picture&access_token=" +
		url.QueryEscape(tok.AccessToken)
	var info struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Picture   struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := v.getJSON(ctx, userURL, "", &info); err != nil {
		return nil, err
	}

	expires := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return &Profile{
		Provider:      ProviderFacebook,
		ProviderID:    info.ID,
		Email:         info.Email,
		FirstName:     info.FirstName,
		LastName:      info.LastName,
		DisplayName:   info.Name,
		Photo:         info.Picture.Data.URL,
		EmailVerified: true,
		AccessToken:   tok.AccessToken,
		ExpiresAt:     &expires,
	}, nil
}

func (v *HTTPVerifier) verifyGitHub(ctx context.Context, code string) (*Profile, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", v.cfg.GitHub.ClientID)
	form.Set("client_secret", v.cfg.GitHub.ClientSecret)
	form.Set("redirect_uri", v.cfg.GitHub.RedirectURL)

	var tok tokenResponse
	if err := v.postForm(ctx, v.githubTokenURL, form, &tok); err != nil {
		return nil, err
	}

	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := v.getJSON(ctx, v.githubUserURL, tok.AccessToken, &user); err != nil {
		return nil, err
	}

	email := user.Email
	verified := false
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := v.getJSON(ctx, v.githubEmailsURL, tok.AccessToken, &emails); err == nil {
		for _, e := range emails {
			if e.Primary {
				email = e.Email
				verified = e.Verified
				break
			}
		}
	}

	first, last := splitName(user.Name)
	return &Profile{
		Provider:      ProviderGitHub,
		ProviderID:    fmt.Sprintf("%d", user.ID),
		Email:         email,
		FirstName:     first,
		LastName:      last,
		DisplayName:   user.Login,
		Photo:         user.AvatarURL,
		EmailVerified: verified,
		AccessToken:   tok.AccessToken,
	}, nil
}

func (v *HTTPVerifier) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return v.do(req, out)
}

func (v *HTTPVerifier) getJSON(ctx context.Context, endpoint, bearer string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return v.do(req, out)
}

func (v *HTTPVerifier) do(req *http.Request, out interface{}) error {
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider endpoint returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
