package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/staticms/authcore/internal/callback"
	jsonwriter "github.com/staticms/authcore/internal/json"
	"github.com/staticms/authcore/internal/log"
	"github.com/staticms/authcore/internal/login"
)

type loginRequest struct {
	Email     string `json:"email,omitempty"`
	ReturnURL string `json:"returnUrl,omitempty"`
}

// LoginHandler initiates login for a provider and returns the authorize URL
// as JSON, or a structured error with its machine-readable code.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	var req loginRequest
	if r.Body != nil {
		// An empty or absent body is fine; only malformed JSON is rejected
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			jsonwriter.WriteBadRequest(w, "invalid request body")
			return
		}
	}

	authURL, err := s.initiator.Initiate(r.Context(), provider, login.Request{
		Email:     req.Email,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		code, status := login.ErrorCode(err)
		log.LogWarnWithFields("server", "Login initiation failed", map[string]any{
			"provider": provider,
			"code":     code,
		})
		jsonwriter.WriteError(w, status, code, "")
		return
	}

	jsonwriter.Write(w, map[string]string{"url": authURL})
}

// GoogleLoginRedirectHandler is the GET variant used from anchor tags: it
// responds with a 302 to the relay-obtained authorize URL. On failure it
// redirects back to the caller-supplied return URL with an error query
// parameter appended instead of returning a JSON body.
func (s *Server) GoogleLoginRedirectHandler(w http.ResponseWriter, r *http.Request) {
	returnURL := r.URL.Query().Get("returnUrl")

	authURL, err := s.initiator.Initiate(r.Context(), "google", login.Request{ReturnURL: returnURL})
	if err != nil {
		code, _ := login.ErrorCode(err)
		target := returnURL
		if target == "" {
			target = s.cfg.DashboardURL()
		}
		http.Redirect(w, r, appendError(target, code), http.StatusFound)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// CallbackHandler terminates the main login callback: authorization code or
// one-time exchange token in, validated session and 307 redirect out.
func (s *Server) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome := s.exchanger.Handle(r.Context(), w, callback.Request{
		Error:         q.Get("error"),
		Code:          q.Get("code"),
		ExchangeToken: q.Get("exchange_token"),
		State:         q.Get("state"),
		Origin:        requestOrigin(r),
	})

	http.Redirect(w, r, outcome.URL(), http.StatusTemporaryRedirect)
}

// MagicLinkCallbackHandler terminates the magic-link-only callback route
func (s *Server) MagicLinkCallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome := s.exchanger.HandleMagicLink(r.Context(), w, callback.Request{
		Error:         q.Get("error"),
		ExchangeToken: q.Get("exchange_token"),
		Origin:        requestOrigin(r),
	})

	http.Redirect(w, r, outcome.URL(), http.StatusTemporaryRedirect)
}

// UserHandler returns the current session. The refresh token is excluded
// from serialization by the session type itself.
func (s *Server) UserHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r)
	if err != nil {
		jsonwriter.WriteUnauthorized(w, "no valid session")
		return
	}

	jsonwriter.Write(w, map[string]any{"session": sess})
}

// SignOutHandler destroys the session and sends the browser back to the
// login surface.
func (s *Server) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	s.store.Clear(w)
	http.Redirect(w, r, s.cfg.DashboardURL(), http.StatusTemporaryRedirect)
}

// NotFoundHandler is the JSON catch-all for unmatched routes
func (s *Server) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	jsonwriter.WriteNotFound(w, "no such route")
}

// requestOrigin derives the request's own origin for redirect-target checks
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func appendError(target, code string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("error", code)
	u.RawQuery = q.Encode()
	return u.String()
}
