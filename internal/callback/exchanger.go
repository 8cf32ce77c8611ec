package callback

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/staticms/authcore/internal/config"
	"github.com/staticms/authcore/internal/cookie"
	"github.com/staticms/authcore/internal/crypto"
	"github.com/staticms/authcore/internal/github"
	"github.com/staticms/authcore/internal/log"
	"github.com/staticms/authcore/internal/login"
	"github.com/staticms/authcore/internal/relay"
	"github.com/staticms/authcore/internal/session"
)

// Error codes that are local to the callback flow
const (
	CodeNotCollaborator = "not-collaborator"
	CodeCallbackError   = "callback_error"
	CodeSessionError    = "session-error"
)

// defaultTokenTTL covers providers that omit an access-token expiry
const defaultTokenTTL = 8 * time.Hour

// Request is what the exchanger needs from an inbound callback HTTP request
type Request struct {
	Error         string
	Code          string
	ExchangeToken string

	// State is the signed state echoed back by the provider. Verified only
	// when present: relay-mediated callbacks and OAuth apps using the
	// registered callback arrive without one.
	State string

	// Origin of the callback request itself (scheme://host), used to reject
	// cross-origin return_url targets.
	Origin string
}

// Exchanger turns an inbound callback request into a validated, persisted
// session and a single redirect outcome.
type Exchanger struct {
	cfg    *config.Config
	store  *session.Store
	github *github.Client
	relay  *relay.Client
	state  crypto.TokenSigner
}

// NewExchanger wires the callback exchanger. The provider and relay clients
// may be nil when the corresponding mode is unconfigured.
func NewExchanger(cfg *config.Config, store *session.Store, githubClient *github.Client, relayClient *relay.Client) *Exchanger {
	return &Exchanger{
		cfg:    cfg,
		store:  store,
		github: githubClient,
		relay:  relayClient,
		state:  login.NewStateSigner([]byte(cfg.SessionSecret)),
	}
}

// Handle drives the main callback state machine. The query carries exactly
// one of error, exchange_token, or code.
func (e *Exchanger) Handle(ctx context.Context, w http.ResponseWriter, req Request) Outcome {
	dashboard := e.cfg.DashboardURL()

	switch {
	case req.Error != "":
		// Provider-reported errors pass straight through to the dashboard
		return RedirectWithError(dashboard, req.Error)

	case req.ExchangeToken != "":
		sess, err := e.exchange(ctx, req.ExchangeToken, e.cfg.CallbackURL())
		if err != nil {
			return RedirectWithError(dashboard, errorCode(err))
		}
		return e.persist(w, sess, dashboard)

	case req.Code != "":
		if req.State != "" {
			if err := login.VerifyState(&e.state, req.State); err != nil {
				log.LogWarnWithFields("callback", "Rejected callback with bad state", map[string]any{
					"error": err.Error(),
				})
				return RedirectWithError(dashboard, CodeCallbackError)
			}
		}
		return e.handleCode(ctx, w, req.Code, dashboard)

	default:
		return RedirectWithError(dashboard, CodeCallbackError)
	}
}

// HandleMagicLink drives the magic-link-only callback route. It performs the
// same exchange but additionally honours a return_url from the exchange
// response, only when that URL's origin equals the request's own origin.
func (e *Exchanger) HandleMagicLink(ctx context.Context, w http.ResponseWriter, req Request) Outcome {
	dashboard := e.cfg.DashboardURL()

	if req.Error != "" {
		return RedirectWithError(dashboard, req.Error)
	}
	if req.ExchangeToken == "" {
		return RedirectWithError(dashboard, CodeCallbackError)
	}
	if e.relay == nil {
		return RedirectWithError(dashboard, CodeSessionError)
	}

	payload, err := e.relay.ExchangeToken(ctx, req.ExchangeToken, e.cfg.MagicLinkCallbackURL())
	if err != nil {
		return RedirectWithError(dashboard, errorCode(err))
	}

	target := dashboard
	if payload.ReturnURL != "" {
		// Cross-origin return targets are an open-redirect vector. Reject
		// before any cookie is written.
		if !sameOrigin(payload.ReturnURL, req.Origin) {
			log.LogWarnWithFields("callback", "Rejected cross-origin return_url", map[string]any{
				"origin": req.Origin,
			})
			return RedirectWithError(dashboard, CodeCallbackError)
		}
		target = payload.ReturnURL
	}

	sess, err := SessionFromExchange(payload)
	if err != nil {
		return RedirectWithError(dashboard, relay.CodeInvalidData)
	}

	return e.persist(w, sess, target)
}

// handleCode is the direct provider OAuth branch: exchange the code, fetch
// the profile, then authorize via the collaborator check, falling back to
// SaaS-mediated validation when a relay key is configured.
func (e *Exchanger) handleCode(ctx context.Context, w http.ResponseWriter, code, dashboard string) Outcome {
	if e.github == nil {
		return RedirectWithError(dashboard, CodeSessionError)
	}

	token, err := e.github.ExchangeCode(ctx, code)
	if err != nil {
		log.LogErrorWithFields("callback", "Code exchange failed", map[string]any{
			"error": err.Error(),
		})
		return RedirectWithError(dashboard, CodeSessionError)
	}

	user, err := e.github.UserInfo(ctx, token)
	if err != nil {
		log.LogErrorWithFields("callback", "Profile fetch failed", map[string]any{
			"error": err.Error(),
		})
		return RedirectWithError(dashboard, CodeSessionError)
	}

	collaborator, err := e.github.IsCollaborator(ctx, token, e.cfg.RepoOwner, e.cfg.RepoSlug, user.Login)
	if err != nil {
		return RedirectWithError(dashboard, CodeSessionError)
	}

	if collaborator {
		sess, err := buildProviderSession(user, token)
		if err != nil {
			return RedirectWithError(dashboard, CodeSessionError)
		}
		return e.persist(w, sess, dashboard)
	}

	if e.relay == nil {
		return RedirectWithError(dashboard, CodeNotCollaborator)
	}

	// SaaS-side membership can override a failed collaborator check: the
	// relay validates the provider token and hands back an exchange token,
	// which we redeem like any other. The resulting session is a magic-link
	// session even though the user authenticated via the provider.
	project, err := e.relay.Project(ctx)
	if err != nil {
		log.LogWarnWithFields("callback", "Project lookup failed during validation", map[string]any{
			"error": err.Error(),
		})
		return RedirectWithError(dashboard, CodeNotCollaborator)
	}

	exchangeToken, err := e.relay.ValidateGitHubUser(ctx, token.AccessToken, project.ID)
	if err != nil {
		log.LogInfoWithFields("callback", "Relay validation rejected user", map[string]any{
			"login": user.Login,
		})
		return RedirectWithError(dashboard, CodeNotCollaborator)
	}

	sess, err := e.exchange(ctx, exchangeToken, e.cfg.CallbackURL())
	if err != nil {
		return RedirectWithError(dashboard, errorCode(err))
	}
	return e.persist(w, sess, dashboard)
}

// exchange redeems an exchange token and builds the magic-link session
func (e *Exchanger) exchange(ctx context.Context, exchangeToken, callbackURL string) (*session.Session, error) {
	if e.relay == nil {
		return nil, &relay.Error{Code: CodeSessionError, Status: http.StatusInternalServerError}
	}

	payload, err := e.relay.ExchangeToken(ctx, exchangeToken, callbackURL)
	if err != nil {
		return nil, err
	}
	return SessionFromExchange(payload)
}

// persist stores the session and resolves the success redirect. A storage
// failure still resolves to a redirect outcome.
func (e *Exchanger) persist(w http.ResponseWriter, sess *session.Session, target string) Outcome {
	if err := e.store.Set(w, sess); err != nil {
		log.LogErrorWithFields("callback", "Failed to store session", map[string]any{
			"error": err.Error(),
		})
		return RedirectWithError(e.cfg.DashboardURL(), CodeSessionError)
	}
	return Redirect(target)
}

// SessionFromExchange builds the magic-link session from a validated
// exchange payload, deriving the refresh expiry from the provider-supplied
// relative lifetime when no absolute timestamp is present.
func SessionFromExchange(p *relay.ExchangePayload) (*session.Session, error) {
	login := ""
	if p.User.Login != nil {
		login = *p.User.Login
	}

	user := session.User{
		Name:      p.User.Name,
		Login:     login,
		Email:     p.User.Email,
		AvatarURL: p.User.AvatarURL,
	}

	var refreshExpiresAt time.Time
	refreshTTL := cookie.RefreshMaxAge
	if p.Session.RefreshTokenExpiresAt != nil {
		refreshExpiresAt = *p.Session.RefreshTokenExpiresAt
	} else if p.Session.RefreshTokenExpiresIn > 0 {
		refreshTTL = time.Duration(p.Session.RefreshTokenExpiresIn) * time.Second
	}

	return session.New(user, session.ProviderMagicLink,
		p.Session.AccessToken, p.Session.RefreshToken,
		p.Session.ExpiresAt, refreshExpiresAt, refreshTTL)
}

func buildProviderSession(user session.User, token *oauth2.Token) (*session.Session, error) {
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultTokenTTL)
	}

	var refreshExpiresAt time.Time
	if v, ok := token.Extra("refresh_token_expires_in").(float64); ok && v > 0 {
		refreshExpiresAt = time.Now().Add(time.Duration(v) * time.Second)
	}

	return session.New(user, session.ProviderGitHub,
		token.AccessToken, token.RefreshToken,
		expiresAt, refreshExpiresAt, cookie.RefreshMaxAge)
}

// errorCode flattens an exchange failure to its redirect code
func errorCode(err error) string {
	var relayErr *relay.Error
	if errors.As(err, &relayErr) {
		return relayErr.Code
	}
	return CodeSessionError
}

// sameOrigin reports whether target shares scheme and host with origin
func sameOrigin(target, origin string) bool {
	t, err := url.Parse(target)
	if err != nil || t.Scheme == "" || t.Host == "" {
		return false
	}
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return t.Scheme == o.Scheme && t.Host == o.Host
}
