package login

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/staticms/authcore/internal/config"
	"github.com/staticms/authcore/internal/crypto"
	"github.com/staticms/authcore/internal/github"
	"github.com/staticms/authcore/internal/log"
	"github.com/staticms/authcore/internal/relay"
)

// CodeNotConfigured is surfaced when no login mode is configured at all
const CodeNotConfigured = "auth-not-configured"

// ErrNotConfigured is returned when neither local credentials nor a relay
// key are available for the requested provider.
var ErrNotConfigured = errors.New(CodeNotConfigured)

// Request carries the caller-supplied login parameters
type Request struct {
	Email     string // magic-link only
	ReturnURL string // where the relay should send the user afterwards
}

// Initiator decides which login mode applies for each provider and produces
// the URL to send the user's browser to. Modes are resolved once at startup,
// not per request.
type Initiator struct {
	cfg    *config.Config
	github *github.Client
	relay  *relay.Client
	state  crypto.TokenSigner
}

// NewInitiator wires the initiator from resolved configuration. The provider
// and relay clients may be nil when the corresponding mode is unconfigured.
func NewInitiator(cfg *config.Config, githubClient *github.Client, relayClient *relay.Client) *Initiator {
	return &Initiator{
		cfg:    cfg,
		github: githubClient,
		relay:  relayClient,
		state:  NewStateSigner([]byte(cfg.SessionSecret)),
	}
}

// Initiate produces the authorize URL for a provider, or a typed error.
func (i *Initiator) Initiate(ctx context.Context, provider string, req Request) (string, error) {
	switch provider {
	case "github":
		return i.initiateGitHub(ctx, req)
	case "google":
		// Google login has no local mode; it is relay-only
		return i.initiateRelay(ctx, "google", relay.AuthorizeRequest{
			CallbackURL: i.cfg.CallbackURL(),
			ReturnURL:   req.ReturnURL,
		})
	case "magic-link":
		return i.initiateRelay(ctx, "magic-link", relay.AuthorizeRequest{
			CallbackURL: i.cfg.MagicLinkCallbackURL(),
			Email:       req.Email,
		})
	default:
		return "", fmt.Errorf("unknown login provider: %q", provider)
	}
}

func (i *Initiator) initiateGitHub(ctx context.Context, req Request) (string, error) {
	switch i.cfg.Modes.GitHub {
	case config.ModeLocal:
		// Built offline. The redirect_uri parameter is already omitted by
		// the provider client when no local callback URL is configured;
		// GitHub then uses the OAuth app's registered callback.
		state, err := NewState(&i.state)
		if err != nil {
			return "", fmt.Errorf("failed to build login state: %w", err)
		}
		url := i.github.AuthURL(state)
		log.LogDebugWithFields("login", "Built local authorize URL", map[string]any{
			"provider": "github",
		})
		return url, nil
	case config.ModeRelay:
		return i.initiateRelay(ctx, "github", relay.AuthorizeRequest{
			CallbackURL: i.cfg.CallbackURL(),
			ReturnURL:   req.ReturnURL,
		})
	default:
		return "", ErrNotConfigured
	}
}

func (i *Initiator) initiateRelay(ctx context.Context, provider string, req relay.AuthorizeRequest) (string, error) {
	if i.relay == nil {
		return "", ErrNotConfigured
	}

	url, err := i.relay.AuthorizeURL(ctx, provider, req)
	if err != nil {
		log.LogWarnWithFields("login", "Relay login initiation failed", map[string]any{
			"provider": provider,
			"error":    err.Error(),
		})
		return "", err
	}
	return url, nil
}

// ErrorCode maps an initiation error to its machine-readable code and HTTP
// status for the JSON (or redirect) error surface.
func ErrorCode(err error) (string, int) {
	var relayErr *relay.Error
	if errors.As(err, &relayErr) {
		return relayErr.Code, relayErr.Status
	}
	if errors.Is(err, ErrNotConfigured) {
		return CodeNotConfigured, http.StatusBadRequest
	}
	return "session-error", http.StatusInternalServerError
}
