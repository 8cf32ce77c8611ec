package session

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/staticms/authcore/internal/cookie"
	"github.com/staticms/authcore/internal/crypto"
	"github.com/staticms/authcore/internal/log"
)

// Store reads and writes the sealed session cookie and the separate
// refresh-token cookie.
type Store struct {
	sealer *crypto.Sealer
}

// NewStore creates a session store sealed with the given secret
func NewStore(secret []byte) (*Store, error) {
	sealer, err := crypto.NewSealer(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create session sealer: %w", err)
	}
	return &Store{sealer: sealer}, nil
}

// Get reads the session from the request cookies. The refresh token, which is
// never part of the sealed session payload, is re-attached from its own
// cookie when present.
func (s *Store) Get(r *http.Request) (*Session, error) {
	value, err := cookie.GetSession(r)
	if err != nil {
		return nil, fmt.Errorf("no session cookie: %w", err)
	}

	plaintext, err := s.sealer.Open(value)
	if err != nil {
		return nil, fmt.Errorf("invalid session cookie: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	if refresh, err := cookie.GetRefresh(r); err == nil {
		sess.RefreshToken = refresh
	}

	return &sess, nil
}

// Set validates the session and writes both cookies. An invalid session is
// rejected before any cookie write.
func (s *Store) Set(w http.ResponseWriter, sess *Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid session: %w", err)
	}

	// RefreshToken carries the json:"-" tag, so the sealed payload holds
	// the session minus the refresh credential.
	plaintext, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	cookie.SetSession(w, sealed, cookie.RefreshMaxAge)
	cookie.SetRefresh(w, sess.RefreshToken)

	log.LogInfoWithFields("session", "Session stored", map[string]any{
		"login":    sess.User.Login,
		"provider": string(sess.Provider),
		"expires":  sess.ExpiresAt,
	})

	return nil
}

// Clear removes both cookies
func (s *Store) Clear(w http.ResponseWriter) {
	cookie.ClearSession(w)
}
