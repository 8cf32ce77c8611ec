package session

import (
	"fmt"
	"time"
)

// Provider identifies how a session was established. It does not change
// subsequent request behavior.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderMagicLink Provider = "magic-link"
	ProviderGoogle    Provider = "google"
)

// User is the authenticated identity behind a session
type User struct {
	Name      string `json:"name,omitempty"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Session is the authenticated identity held by the admin client.
// The refresh token is excluded from all JSON serialization; it lives in
// its own HTTP-only cookie and never reaches the in-page script.
type Session struct {
	User                  User      `json:"user"`
	Provider              Provider  `json:"provider"`
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"-"`
	ExpiresAt             time.Time `json:"expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at,omitempty"`
}

// New builds a validated session. The login falls back to the email when the
// provider omits it. When refreshExpiresAt is zero it is derived from
// refreshTTL relative to now.
func New(user User, provider Provider, accessToken, refreshToken string, expiresAt, refreshExpiresAt time.Time, refreshTTL time.Duration) (*Session, error) {
	if user.Login == "" {
		user.Login = user.Email
	}
	if refreshExpiresAt.IsZero() && refreshTTL > 0 {
		refreshExpiresAt = time.Now().Add(refreshTTL)
	}

	s := &Session{
		User:                  user,
		Provider:              provider,
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		ExpiresAt:             expiresAt,
		RefreshTokenExpiresAt: refreshExpiresAt,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the session is complete. Partial sessions must never
// reach the store.
func (s *Session) Validate() error {
	switch s.Provider {
	case ProviderGitHub, ProviderMagicLink, ProviderGoogle:
	default:
		return fmt.Errorf("invalid session provider: %q", s.Provider)
	}
	if s.User.Email == "" {
		return fmt.Errorf("session user email is required")
	}
	if s.User.Login == "" {
		return fmt.Errorf("session user login is required")
	}
	if s.AccessToken == "" {
		return fmt.Errorf("session access token is required")
	}
	if s.RefreshToken == "" {
		return fmt.Errorf("session refresh token is required")
	}
	if s.ExpiresAt.IsZero() {
		return fmt.Errorf("session expiry is required")
	}
	return nil
}

// Expired reports whether the access token has passed its expiry
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}
