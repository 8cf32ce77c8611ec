package server

import (
	"net/http"
	"time"

	"github.com/staticms/authcore/internal/callback"
	"github.com/staticms/authcore/internal/config"
	jsonwriter "github.com/staticms/authcore/internal/json"
	"github.com/staticms/authcore/internal/log"
	"github.com/staticms/authcore/internal/session"
)

// RefreshHandler exchanges the refresh cookie for a new access token. No
// request body is required; the refresh cookie identifies the caller.
// Sessions issued by the local provider refresh at the provider's token
// endpoint; relay-issued sessions refresh at the relay. An irrecoverable
// failure clears both cookies so the client falls back to a fresh login.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r)
	if err != nil || sess.RefreshToken == "" {
		s.store.Clear(w)
		jsonwriter.WriteResponse(w, http.StatusUnauthorized, map[string]bool{"success": false})
		return
	}

	refreshed, err := s.refreshUpstream(r, sess)
	if err != nil {
		log.LogWarnWithFields("server", "Upstream refresh failed", map[string]any{
			"provider": string(sess.Provider),
			"error":    err.Error(),
		})
		s.store.Clear(w)
		jsonwriter.WriteResponse(w, http.StatusUnauthorized, map[string]bool{"success": false})
		return
	}

	if err := s.store.Set(w, refreshed); err != nil {
		jsonwriter.WriteResponse(w, http.StatusInternalServerError, map[string]bool{"success": false})
		return
	}

	jsonwriter.Write(w, map[string]bool{"success": true})
}

func (s *Server) refreshUpstream(r *http.Request, sess *session.Session) (*session.Session, error) {
	if sess.Provider == session.ProviderGitHub && s.cfg.Modes.GitHub == config.ModeLocal && s.github != nil {
		token, err := s.github.Refresh(r.Context(), sess.RefreshToken)
		if err != nil {
			return nil, err
		}

		// Mutate in place: same identity, new credential
		sess.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			sess.RefreshToken = token.RefreshToken
		}
		if !token.Expiry.IsZero() {
			sess.ExpiresAt = token.Expiry
		} else {
			sess.ExpiresAt = time.Now().Add(8 * time.Hour)
		}
		return sess, nil
	}

	if s.relay == nil {
		return nil, errNoRefreshPath
	}

	payload, err := s.relay.RefreshSession(r.Context(), sess.RefreshToken)
	if err != nil {
		return nil, err
	}

	refreshed, err := callback.SessionFromExchange(payload)
	if err != nil {
		return nil, err
	}
	// The session keeps the provider it was established with
	refreshed.Provider = sess.Provider
	return refreshed, nil
}
